// Package frequency decides whether an interstitial presentation is currently
// allowed: daily impression cap, cooldown between presentations, premium and
// readiness checks. It is the single writer of the impression counters.
package frequency

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/open-rails/adkit/inventory"
	"github.com/open-rails/adkit/kv"
)

// ImpressionsKey is the key the session impression count is persisted under.
// Persistence is best-effort; the gate works fine without it.
const ImpressionsKey = "impressions"

// PremiumChecker reports the current entitlement.
type PremiumChecker interface {
	IsPremium() bool
}

// ReadinessChecker reports ad availability.
type ReadinessChecker interface {
	IsReady(slot inventory.SlotType) bool
}

// Config holds the gate thresholds.
type Config struct {
	// MaxDailyImpressions caps impressions per day; the cap comparison is
	// non-strict (count >= cap denies).
	MaxDailyImpressions int
	// MinInterval is the cooldown between interstitials; the comparison is
	// strict (elapsed < interval denies, elapsed == interval allows).
	MinInterval time.Duration
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	return Config{MaxDailyImpressions: 10, MinInterval: 180 * time.Second}
}

// Gate owns sessionImpressions and lastInterstitialAt.
type Gate struct {
	premium PremiumChecker
	ads     ReadinessChecker
	kvs     kv.Store
	log     *logrus.Logger
	cfg     Config

	mu                 sync.Mutex
	sessionImpressions int
	lastInterstitialAt *time.Time
}

// New creates a Gate, restoring a persisted impression count when present.
func New(premium PremiumChecker, ads ReadinessChecker, kvs kv.Store, log *logrus.Logger, cfg Config) *Gate {
	if log == nil {
		log = logrus.StandardLogger()
	}
	def := DefaultConfig()
	if cfg.MaxDailyImpressions <= 0 {
		cfg.MaxDailyImpressions = def.MaxDailyImpressions
	}
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = def.MinInterval
	}
	g := &Gate{premium: premium, ads: ads, kvs: kvs, log: log, cfg: cfg}
	g.load()
	return g
}

func (g *Gate) load() {
	if g.kvs == nil {
		return
	}
	raw, ok, err := g.kvs.Get(context.Background(), ImpressionsKey)
	if err != nil || !ok {
		return
	}
	if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
		g.sessionImpressions = n
	}
}

// CanShowInterstitial reports whether an interstitial may be presented right
// now. It never mutates state, so callers may re-evaluate it freely.
func (g *Gate) CanShowInterstitial(now time.Time) bool {
	if g.premium.IsPremium() {
		return false
	}
	g.mu.Lock()
	if g.sessionImpressions >= g.cfg.MaxDailyImpressions {
		g.mu.Unlock()
		return false
	}
	if g.lastInterstitialAt != nil && now.Sub(*g.lastInterstitialAt) < g.cfg.MinInterval {
		g.mu.Unlock()
		return false
	}
	g.mu.Unlock()
	return g.ads.IsReady(inventory.SlotInterstitial)
}

// RecordInterstitialShown counts one genuinely shown interstitial and starts
// the cooldown. Denied or failed attempts must not be recorded.
func (g *Gate) RecordInterstitialShown(ctx context.Context, now time.Time) {
	g.mu.Lock()
	g.sessionImpressions++
	t := now
	g.lastInterstitialAt = &t
	count := g.sessionImpressions
	g.mu.Unlock()

	g.log.WithField("impressions", count).Debug("frequency: interstitial shown")
	g.persist(ctx, count)
}

// ResetDailyImpressions zeroes the impression count. It is invoked by the
// daily-boundary collaborator, never self-scheduled.
func (g *Gate) ResetDailyImpressions(ctx context.Context) {
	g.mu.Lock()
	g.sessionImpressions = 0
	g.mu.Unlock()

	g.log.Debug("frequency: daily impressions reset")
	g.persist(ctx, 0)
}

// SessionImpressions returns the current impression count.
func (g *Gate) SessionImpressions() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.sessionImpressions
}

// LastInterstitialAt returns the last recorded presentation time, if any.
func (g *Gate) LastInterstitialAt() (time.Time, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.lastInterstitialAt == nil {
		return time.Time{}, false
	}
	return *g.lastInterstitialAt, true
}

func (g *Gate) persist(ctx context.Context, count int) {
	if g.kvs == nil {
		return
	}
	if err := g.kvs.Set(ctx, ImpressionsKey, strconv.Itoa(count)); err != nil {
		g.log.WithError(err).Warn("frequency: persist failed, keeping in-memory count")
	}
}
