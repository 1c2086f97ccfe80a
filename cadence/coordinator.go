// Package cadence converts UI-level events (navigation, lifecycle, screen
// exits) into presentation attempts, applying the probabilistic display
// policy on top of the frequency gate.
package cadence

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/open-rails/adkit/clock"
	"github.com/open-rails/adkit/frequency"
	"github.com/open-rails/adkit/inventory"
	"github.com/open-rails/adkit/present"
)

// Sampler draws uniform samples in [0,1). *rand.Rand satisfies it; tests
// inject a scripted one.
type Sampler interface {
	Float64() float64
}

// PremiumChecker reports the current entitlement.
type PremiumChecker interface {
	IsPremium() bool
}

// Config holds the cadence policy knobs.
type Config struct {
	// NavigationThreshold triggers an attempt on every Nth navigation; the
	// counter wraps to zero when it reaches the threshold.
	NavigationThreshold int
	// ReturnThreshold is the minimum background gap before a
	// return-from-background attempt is even considered.
	ReturnThreshold time.Duration
	// ReturnProbability is the chance of attempting after a long background.
	ReturnProbability float64
	// ExitProbability is the chance of attempting when leaving a trigger
	// screen.
	ExitProbability float64
	// ExitScreens names the screens whose exit may trigger an attempt.
	ExitScreens []string
}

// DefaultConfig returns the production cadence policy.
func DefaultConfig() Config {
	return Config{
		NavigationThreshold: 5,
		ReturnThreshold:     600 * time.Second,
		ReturnProbability:   0.4,
		ExitProbability:     0.3,
	}
}

// Coordinator owns navigationCount and lastForegroundAt. Only it increments
// the navigation counter; impression counters belong to the gate.
type Coordinator struct {
	premium   PremiumChecker
	gate      *frequency.Gate
	inv       *inventory.Inventory
	presenter present.Presenter
	clk       clock.Clock
	rng       Sampler
	log       *logrus.Logger
	cfg       Config
	exits     map[string]struct{}

	mu               sync.Mutex
	navigationCount  int
	lastForegroundAt *time.Time
}

// New creates a Coordinator. rng must be non-nil; use NewSampler for
// production and a scripted Sampler in tests.
func New(premium PremiumChecker, gate *frequency.Gate, inv *inventory.Inventory, presenter present.Presenter, clk clock.Clock, rng Sampler, log *logrus.Logger, cfg Config) *Coordinator {
	if log == nil {
		log = logrus.StandardLogger()
	}
	def := DefaultConfig()
	if cfg.NavigationThreshold <= 0 {
		cfg.NavigationThreshold = def.NavigationThreshold
	}
	if cfg.ReturnThreshold <= 0 {
		cfg.ReturnThreshold = def.ReturnThreshold
	}
	if cfg.ReturnProbability <= 0 {
		cfg.ReturnProbability = def.ReturnProbability
	}
	if cfg.ExitProbability <= 0 {
		cfg.ExitProbability = def.ExitProbability
	}
	exits := make(map[string]struct{}, len(cfg.ExitScreens))
	for _, s := range cfg.ExitScreens {
		exits[s] = struct{}{}
	}
	return &Coordinator{
		premium:   premium,
		gate:      gate,
		inv:       inv,
		presenter: presenter,
		clk:       clk,
		rng:       rng,
		log:       log,
		cfg:       cfg,
		exits:     exits,
	}
}

// OnNavigate counts one screen change. On every Nth call it wraps the counter
// and attempts a presentation, returning true. While premium it returns false
// without touching the counter.
func (c *Coordinator) OnNavigate() bool {
	if c.premium.IsPremium() {
		return false
	}
	c.mu.Lock()
	c.navigationCount++
	if c.navigationCount < c.cfg.NavigationThreshold {
		c.mu.Unlock()
		return false
	}
	c.navigationCount = 0
	c.mu.Unlock()

	c.attempt(c.clk.Now())
	return true
}

// OnAppForeground handles a return from background. After a gap longer than
// ReturnThreshold it attempts a presentation with ReturnProbability. Skipped
// entirely while premium.
func (c *Coordinator) OnAppForeground(now time.Time) {
	if c.premium.IsPremium() {
		return
	}
	c.mu.Lock()
	last := c.lastForegroundAt
	t := now
	c.lastForegroundAt = &t
	c.mu.Unlock()

	if last == nil {
		return
	}
	if now.Sub(*last) > c.cfg.ReturnThreshold && c.rng.Float64() < c.cfg.ReturnProbability {
		c.attempt(now)
	}
}

// OnAppBackground records the background mark. It always runs, premium or
// not, so the timing stays accurate if premium later expires.
func (c *Coordinator) OnAppBackground(now time.Time) {
	c.mu.Lock()
	t := now
	c.lastForegroundAt = &t
	c.mu.Unlock()
}

// OnScreenExit may attempt a presentation with ExitProbability when leaving a
// trigger screen. It returns true when the policy fired (whether or not the
// gate then allowed a presentation). Skipped while premium.
func (c *Coordinator) OnScreenExit(screenName string) bool {
	if c.premium.IsPremium() {
		return false
	}
	if _, ok := c.exits[screenName]; !ok {
		return false
	}
	if c.rng.Float64() >= c.cfg.ExitProbability {
		return false
	}
	c.attempt(c.clk.Now())
	return true
}

// NavigationCount returns the current wrap counter.
func (c *Coordinator) NavigationCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.navigationCount
}

// attempt re-evaluates the gate fresh and, if allowed, hands the interstitial
// to the Presenter. Only a genuinely shown ad advances the impression
// counters; every outcome consumes the slot.
func (c *Coordinator) attempt(now time.Time) {
	if !c.gate.CanShowInterstitial(now) {
		// Interstitials have no scheduled retry; a denied attempt is the
		// lazy reload trigger.
		switch c.inv.Readiness(inventory.SlotInterstitial) {
		case inventory.Unloaded, inventory.Failed:
			c.inv.Load(inventory.SlotInterstitial)
		}
		return
	}
	handle, ok := c.inv.BeginPresentation(inventory.SlotInterstitial)
	if !ok {
		return
	}
	c.log.Debug("cadence: presenting interstitial")
	c.presenter.Present(inventory.SlotInterstitial, handle, func(o present.Outcome) {
		if o.Kind == present.Shown {
			c.gate.RecordInterstitialShown(context.Background(), c.clk.Now())
		}
		c.inv.Consume(inventory.SlotInterstitial)
	})
}
