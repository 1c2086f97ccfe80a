package entitlement_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/open-rails/adkit/entitlement"
	"github.com/open-rails/adkit/events"
	memorystore "github.com/open-rails/adkit/storage/memory"
	adkittest "github.com/open-rails/adkit/testing"
)

func newStore(t *testing.T, start time.Time) (*entitlement.Store, *adkittest.ManualClock, *memorystore.Store) {
	t.Helper()
	clk := adkittest.NewManualClock(start)
	kvs := memorystore.New()
	s := entitlement.NewStore(kvs, clk, nil, nil)
	return s, clk, kvs
}

func TestGrantTemporaryPremiumWindow(t *testing.T) {
	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s, _, _ := newStore(t, t0)

	if err := s.GrantTemporary(context.Background(), 2*time.Hour); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if !s.IsPremium() {
		t.Fatal("expected premium immediately after grant")
	}

	// Just before expiry: tick must not demote.
	s.Tick(context.Background(), t0.Add(2*time.Hour-time.Second))
	if !s.IsPremium() {
		t.Fatal("expected premium one second before expiry")
	}

	// Past expiry: tick demotes to free.
	s.Tick(context.Background(), t0.Add(2*time.Hour+time.Second))
	if s.IsPremium() {
		t.Fatal("expected free after expiry tick")
	}
	if rec := s.Current(); rec.ExpiresAt != nil {
		t.Fatalf("expected nil ExpiresAt after demotion, got %v", rec.ExpiresAt)
	}
}

func TestGrantOverwritesDoesNotStack(t *testing.T) {
	t0 := time.Unix(1_000_000, 0)
	s, _, _ := newStore(t, t0)

	if err := s.GrantTemporary(context.Background(), 10*time.Hour); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if err := s.GrantTemporary(context.Background(), time.Hour); err != nil {
		t.Fatalf("second grant: %v", err)
	}
	rec := s.Current()
	want := t0.Add(time.Hour)
	if rec.ExpiresAt == nil || !rec.ExpiresAt.Equal(want) {
		t.Fatalf("expected expiry %v (no stacking), got %v", want, rec.ExpiresAt)
	}
}

func TestInvalidGrantRejectedWithoutMutation(t *testing.T) {
	s, _, _ := newStore(t, time.Unix(0, 0))

	for _, d := range []time.Duration{0, -time.Hour} {
		if err := s.GrantTemporary(context.Background(), d); !errors.Is(err, entitlement.ErrInvalidGrant) {
			t.Fatalf("duration %v: expected ErrInvalidGrant, got %v", d, err)
		}
	}
	if s.IsPremium() {
		t.Fatal("rejected grant must not mutate state")
	}
}

func TestSetPlanRoundTrip(t *testing.T) {
	s, _, _ := newStore(t, time.Unix(0, 0))

	if err := s.SetPlan(context.Background(), entitlement.StatusMonthly); err != nil {
		t.Fatalf("set monthly: %v", err)
	}
	if !s.IsPremium() {
		t.Fatal("expected premium on monthly plan")
	}
	if err := s.SetPlan(context.Background(), entitlement.StatusFree); err != nil {
		t.Fatalf("set free: %v", err)
	}
	rec := s.Current()
	if rec.ExpiresAt != nil || s.IsPremium() {
		t.Fatalf("expected free with nil expiry, got %+v", rec)
	}
}

func TestSetPlanRejectsTemporaryAndUnknown(t *testing.T) {
	s, _, _ := newStore(t, time.Unix(0, 0))

	for _, st := range []entitlement.Status{entitlement.StatusTemporary, entitlement.Status("lifetime")} {
		if err := s.SetPlan(context.Background(), st); !errors.Is(err, entitlement.ErrInvalidPlan) {
			t.Fatalf("status %q: expected ErrInvalidPlan, got %v", st, err)
		}
	}
}

func TestSetPlanClearsTemporaryExpiry(t *testing.T) {
	s, _, _ := newStore(t, time.Unix(0, 0))

	if err := s.GrantTemporary(context.Background(), time.Hour); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if err := s.SetPlan(context.Background(), entitlement.StatusAnnual); err != nil {
		t.Fatalf("set annual: %v", err)
	}
	rec := s.Current()
	if rec.Status != entitlement.StatusAnnual || rec.ExpiresAt != nil {
		t.Fatalf("expected annual with nil expiry, got %+v", rec)
	}
}

func TestColdStartExpiresStaleGrant(t *testing.T) {
	// A grant that expired while the process was down is demoted at load.
	exp := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	kvs := memorystore.New()
	raw, _ := json.Marshal(entitlement.Record{Status: entitlement.StatusTemporary, ExpiresAt: &exp})
	if err := kvs.Set(context.Background(), entitlement.StorageKey, string(raw)); err != nil {
		t.Fatalf("seed: %v", err)
	}

	clk := adkittest.NewManualClock(exp.Add(48 * time.Hour))
	s := entitlement.NewStore(kvs, clk, nil, nil)
	if s.IsPremium() {
		t.Fatal("expected stale temporary grant demoted on cold start")
	}
}

func TestColdStartKeepsLiveGrant(t *testing.T) {
	exp := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)
	kvs := memorystore.New()
	raw, _ := json.Marshal(entitlement.Record{Status: entitlement.StatusTemporary, ExpiresAt: &exp})
	if err := kvs.Set(context.Background(), entitlement.StorageKey, string(raw)); err != nil {
		t.Fatalf("seed: %v", err)
	}

	clk := adkittest.NewManualClock(exp.Add(-time.Hour))
	s := entitlement.NewStore(kvs, clk, nil, nil)
	if !s.IsPremium() {
		t.Fatal("expected live grant honored on cold start")
	}
}

func TestCorruptRecordFallsBackToFree(t *testing.T) {
	kvs := memorystore.New()
	if err := kvs.Set(context.Background(), entitlement.StorageKey, "{not json"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	s := entitlement.NewStore(kvs, adkittest.NewManualClock(time.Unix(0, 0)), nil, nil)
	if s.IsPremium() {
		t.Fatal("corrupt record must load as free")
	}
}

func TestPeriodicTickerDemotes(t *testing.T) {
	t0 := time.Unix(0, 0)
	s, clk, _ := newStore(t, t0)
	s.StartTicker()
	defer s.Close()

	if err := s.GrantTemporary(context.Background(), time.Hour); err != nil {
		t.Fatalf("grant: %v", err)
	}
	clk.Advance(time.Hour + 2*time.Minute)
	if s.IsPremium() {
		t.Fatal("expected ticker to demote expired grant")
	}
}

func TestTickerCancelledOnClose(t *testing.T) {
	t0 := time.Unix(0, 0)
	s, clk, _ := newStore(t, t0)
	s.StartTicker()
	if err := s.GrantTemporary(context.Background(), time.Hour); err != nil {
		t.Fatalf("grant: %v", err)
	}
	s.Close()

	clk.Advance(2 * time.Hour)
	// Ticker is gone; only an explicit tick can demote now.
	if !s.IsPremium() {
		t.Fatal("closed store must not run background ticks")
	}
}

type failingStore struct {
	inner *memorystore.Store
	fail  bool
}

func (f *failingStore) Get(ctx context.Context, key string) (string, bool, error) {
	return f.inner.Get(ctx, key)
}

func (f *failingStore) Set(ctx context.Context, key, value string) error {
	if f.fail {
		return errors.New("disk full")
	}
	return f.inner.Set(ctx, key, value)
}

func (f *failingStore) Delete(ctx context.Context, key string) error {
	return f.inner.Delete(ctx, key)
}

func TestPersistenceFailureKeepsMemoryAuthoritative(t *testing.T) {
	kvs := &failingStore{inner: memorystore.New(), fail: true}
	clk := adkittest.NewManualClock(time.Unix(0, 0))
	s := entitlement.NewStore(kvs, clk, nil, nil)

	if err := s.GrantTemporary(context.Background(), time.Hour); err != nil {
		t.Fatalf("grant must not surface persistence errors, got %v", err)
	}
	if !s.IsPremium() {
		t.Fatal("in-memory state must stay authoritative when persistence fails")
	}

	// Next mutation retries the write.
	kvs.fail = false
	if err := s.SetPlan(context.Background(), entitlement.StatusMonthly); err != nil {
		t.Fatalf("set plan: %v", err)
	}
	raw, ok, err := kvs.Get(context.Background(), entitlement.StorageKey)
	if err != nil || !ok {
		t.Fatalf("expected record persisted on retry, ok=%v err=%v", ok, err)
	}
	var rec entitlement.Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil || rec.Status != entitlement.StatusMonthly {
		t.Fatalf("persisted record mismatch: %s", raw)
	}
}

func TestChangesPublished(t *testing.T) {
	topic := events.NewTopic[events.EntitlementChange]()
	var got []events.EntitlementChange
	topic.Subscribe(func(e events.EntitlementChange) { got = append(got, e) })

	clk := adkittest.NewManualClock(time.Unix(0, 0))
	s := entitlement.NewStore(memorystore.New(), clk, topic, nil)

	if err := s.GrantTemporary(context.Background(), time.Hour); err != nil {
		t.Fatalf("grant: %v", err)
	}
	s.Tick(context.Background(), clk.Now().Add(2*time.Hour))

	if len(got) != 2 {
		t.Fatalf("expected 2 events (grant, expiry), got %d", len(got))
	}
	if got[0].Status != string(entitlement.StatusTemporary) || got[1].Status != string(entitlement.StatusFree) {
		t.Fatalf("unexpected event sequence: %+v", got)
	}
}
