// Package entitlement owns the entitlement record: grant/revoke/expire
// transitions, durable persistence and change broadcast.
package entitlement

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/open-rails/adkit/clock"
	"github.com/open-rails/adkit/events"
	"github.com/open-rails/adkit/kv"
)

// StorageKey is the single key the record is persisted under.
const StorageKey = "entitlement"

// TickInterval is how often the periodic expiry check runs.
const TickInterval = time.Minute

var (
	// ErrInvalidGrant is returned for a non-positive grant duration.
	ErrInvalidGrant = errors.New("entitlement: grant duration must be positive")
	// ErrInvalidPlan is returned when SetPlan is given StatusTemporary or an
	// unknown status. Temporary grants go through GrantTemporary.
	ErrInvalidPlan = errors.New("entitlement: invalid plan status")
)

// Store owns the Record. All mutation goes through it; collaborators read via
// accessors only.
type Store struct {
	kvs   kv.Store
	clk   clock.Clock
	topic *events.Topic[events.EntitlementChange]
	log   *logrus.Logger

	mu         sync.Mutex
	rec        Record
	cancelTick clock.CancelFunc
}

// NewStore loads the persisted record (defaulting to Free on first run or on
// a corrupt value) and runs one opportunistic expiry check to correct for
// time elapsed while the process was down.
func NewStore(kvs kv.Store, clk clock.Clock, topic *events.Topic[events.EntitlementChange], log *logrus.Logger) *Store {
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &Store{
		kvs:   kvs,
		clk:   clk,
		topic: topic,
		log:   log,
		rec:   Record{Status: StatusFree},
	}
	s.load()
	s.Tick(context.Background(), clk.Now())
	return s
}

func (s *Store) load() {
	raw, ok, err := s.kvs.Get(context.Background(), StorageKey)
	if err != nil {
		s.log.WithError(err).Warn("entitlement: load failed, starting free")
		return
	}
	if !ok {
		return
	}
	var rec Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil || !rec.Status.Valid() {
		s.log.WithField("value", raw).Warn("entitlement: corrupt record, starting free")
		return
	}
	// Repair the expiry invariant rather than trusting a half-written value.
	if rec.Status != StatusTemporary {
		rec.ExpiresAt = nil
	} else if rec.ExpiresAt == nil {
		rec = Record{Status: StatusFree}
	}
	s.mu.Lock()
	s.rec = rec
	s.mu.Unlock()
}

// GrantTemporary sets a temporary premium entitlement expiring after d,
// overwriting any existing temporary grant. Durations do not stack.
func (s *Store) GrantTemporary(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ErrInvalidGrant
	}
	exp := s.clk.Now().Add(d)
	s.mu.Lock()
	s.rec = Record{Status: StatusTemporary, ExpiresAt: &exp}
	rec := s.rec
	s.persistLocked(ctx)
	s.mu.Unlock()

	s.log.WithField("expires_at", exp).Info("entitlement: temporary premium granted")
	s.publish(rec)
	return nil
}

// SetPlan records an explicit plan change (post-purchase, restore, or
// cancellation back to Free). Any temporary expiry is cleared.
func (s *Store) SetPlan(ctx context.Context, status Status) error {
	if !status.Valid() || status == StatusTemporary {
		return ErrInvalidPlan
	}
	s.mu.Lock()
	s.rec = Record{Status: status}
	rec := s.rec
	s.persistLocked(ctx)
	s.mu.Unlock()

	s.log.WithField("status", status).Info("entitlement: plan changed")
	s.publish(rec)
	return nil
}

// IsPremium reports whether the current record grants premium access. It does
// not evaluate expiry; the periodic ticker (or an explicit Tick) does.
func (s *Store) IsPremium() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec.Premium()
}

// Current returns a copy of the record.
func (s *Store) Current() Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec
}

// Tick demotes an expired temporary grant to Free. Idempotent; safe to call
// from timers and cold-start paths alike.
func (s *Store) Tick(ctx context.Context, now time.Time) {
	s.mu.Lock()
	if s.rec.Status != StatusTemporary || s.rec.ExpiresAt == nil || now.Before(*s.rec.ExpiresAt) {
		s.mu.Unlock()
		return
	}
	s.rec = Record{Status: StatusFree}
	rec := s.rec
	s.persistLocked(ctx)
	s.mu.Unlock()

	s.log.Info("entitlement: temporary premium expired")
	s.publish(rec)
}

// StartTicker schedules the periodic expiry check. Calling it twice replaces
// the previous ticker.
func (s *Store) StartTicker() {
	s.mu.Lock()
	if s.cancelTick != nil {
		s.cancelTick()
	}
	s.cancelTick = s.clk.ScheduleRepeating(TickInterval, func() {
		s.Tick(context.Background(), s.clk.Now())
	})
	s.mu.Unlock()
}

// Close cancels the periodic ticker.
func (s *Store) Close() {
	s.mu.Lock()
	cancel := s.cancelTick
	s.cancelTick = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// persistLocked writes the record best-effort. On failure the in-memory
// record stays authoritative and the next mutation retries.
func (s *Store) persistLocked(ctx context.Context) {
	b, err := json.Marshal(s.rec)
	if err != nil {
		s.log.WithError(err).Warn("entitlement: marshal failed")
		return
	}
	if err := s.kvs.Set(ctx, StorageKey, string(b)); err != nil {
		s.log.WithError(err).Warn("entitlement: persist failed, keeping in-memory state")
	}
}

func (s *Store) publish(rec Record) {
	if s.topic == nil {
		return
	}
	s.topic.Publish(events.EntitlementChange{Status: string(rec.Status), ExpiresAt: rec.ExpiresAt})
}
