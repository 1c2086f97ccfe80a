// Package inventory owns per-slot ad readiness: load requests to the ad
// network, asynchronous load results, retry backoff and single-use
// consumption after presentation.
package inventory

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/open-rails/adkit/clock"
	"github.com/open-rails/adkit/events"
)

// SlotType is one ad placement type.
type SlotType string

const (
	SlotBanner       SlotType = "banner"
	SlotInterstitial SlotType = "interstitial"
	SlotRewarded     SlotType = "rewarded"
	SlotNative       SlotType = "native"
)

// Slots lists every slot type, in load order.
var Slots = []SlotType{SlotBanner, SlotInterstitial, SlotRewarded, SlotNative}

// Valid reports whether t is a known slot type.
func (t SlotType) Valid() bool {
	switch t {
	case SlotBanner, SlotInterstitial, SlotRewarded, SlotNative:
		return true
	}
	return false
}

// Readiness is a slot's load state.
type Readiness string

const (
	Unloaded Readiness = "unloaded"
	Loading  Readiness = "loading"
	Ready    Readiness = "ready"
	Failed   Readiness = "failed"
)

// Loader is the external ad-network collaborator. The callback may fire on
// any goroutine.
type Loader interface {
	Load(slot SlotType, adUnitID string, cb func(handle string, err error))
}

// PremiumChecker gates loads for ad-free premium users.
type PremiumChecker interface {
	IsPremium() bool
}

// Config holds the per-slot ad unit IDs and retry policy.
type Config struct {
	AdUnitIDs map[SlotType]string
	// RetryBackoff applies to banner and native load failures. Interstitial
	// and rewarded reload lazily on the next presentation attempt instead.
	RetryBackoff time.Duration
}

// DefaultRetryBackoff is used when Config.RetryBackoff is zero.
const DefaultRetryBackoff = 30 * time.Second

type slotState struct {
	readiness   Readiness
	handle      string
	presenting  bool
	lastShownAt *time.Time
	cancelRetry clock.CancelFunc
}

// Inventory owns all slot states. Every mutation happens under one mutex;
// readiness changes are broadcast after the lock is released.
type Inventory struct {
	loader  Loader
	premium PremiumChecker
	clk     clock.Clock
	topic   *events.Topic[events.ReadinessChange]
	log     *logrus.Logger
	cfg     Config

	mu    sync.Mutex
	slots map[SlotType]*slotState
}

// New creates an Inventory with every slot Unloaded.
func New(loader Loader, premium PremiumChecker, clk clock.Clock, topic *events.Topic[events.ReadinessChange], log *logrus.Logger, cfg Config) *Inventory {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = DefaultRetryBackoff
	}
	inv := &Inventory{
		loader:  loader,
		premium: premium,
		clk:     clk,
		topic:   topic,
		log:     log,
		cfg:     cfg,
		slots:   make(map[SlotType]*slotState, len(Slots)),
	}
	for _, t := range Slots {
		inv.slots[t] = &slotState{readiness: Unloaded}
	}
	return inv
}

// Load requests inventory for slot. It is a no-op when the slot is already
// Loading or Ready, and is refused for every slot except rewarded while the
// user is premium (rewarded stays loadable so the upsell screen works).
func (inv *Inventory) Load(slot SlotType) {
	if !slot.Valid() {
		return
	}
	if slot != SlotRewarded && inv.premium != nil && inv.premium.IsPremium() {
		inv.log.WithField("slot", slot).Debug("inventory: load refused, premium")
		return
	}

	inv.mu.Lock()
	st := inv.slots[slot]
	if st.readiness == Loading || st.readiness == Ready {
		inv.mu.Unlock()
		return
	}
	if st.cancelRetry != nil {
		st.cancelRetry()
		st.cancelRetry = nil
	}
	st.readiness = Loading
	st.handle = ""
	inv.mu.Unlock()

	inv.publish(slot, Loading)
	inv.loader.Load(slot, inv.cfg.AdUnitIDs[slot], func(handle string, err error) {
		inv.onLoadResult(slot, handle, err)
	})
}

// onLoadResult is the Loader callback. Results for slots that are not Loading
// (duplicate callbacks, already-consumed slots) are ignored.
func (inv *Inventory) onLoadResult(slot SlotType, handle string, err error) {
	inv.mu.Lock()
	st := inv.slots[slot]
	if st.readiness != Loading {
		inv.mu.Unlock()
		inv.log.WithField("slot", slot).Debug("inventory: stale load result ignored")
		return
	}
	var next Readiness
	if err != nil {
		st.readiness = Failed
		next = Failed
		if slot == SlotBanner || slot == SlotNative {
			st.cancelRetry = inv.clk.ScheduleOnce(inv.cfg.RetryBackoff, func() { inv.Load(slot) })
		}
	} else {
		st.readiness = Ready
		st.handle = handle
		next = Ready
	}
	inv.mu.Unlock()

	if err != nil {
		inv.log.WithError(err).WithField("slot", slot).Debug("inventory: load failed")
	}
	inv.publish(slot, next)
}

// IsReady reports whether slot holds an unconsumed ad.
func (inv *Inventory) IsReady(slot SlotType) bool {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return inv.slots[slot].readiness == Ready
}

// Readiness returns slot's current load state.
func (inv *Inventory) Readiness(slot SlotType) Readiness {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return inv.slots[slot].readiness
}

// LastShownAt returns when slot last began a presentation, if ever.
func (inv *Inventory) LastShownAt(slot SlotType) (time.Time, bool) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	if t := inv.slots[slot].lastShownAt; t != nil {
		return *t, true
	}
	return time.Time{}, false
}

// BeginPresentation atomically takes the Ready handle and latches the slot as
// presenting. It returns false when the slot is not Ready or a presentation
// is already in flight, so overlapping attempts are impossible.
func (inv *Inventory) BeginPresentation(slot SlotType) (string, bool) {
	now := inv.clk.Now()
	inv.mu.Lock()
	st := inv.slots[slot]
	if st.readiness != Ready || st.presenting {
		inv.mu.Unlock()
		return "", false
	}
	st.presenting = true
	if slot == SlotInterstitial || slot == SlotRewarded {
		st.lastShownAt = &now
	}
	handle := st.handle
	inv.mu.Unlock()
	return handle, true
}

// Consume marks slot's ad as used up (ads are single-use, whatever the
// presentation outcome) and immediately requests the next one.
func (inv *Inventory) Consume(slot SlotType) {
	inv.mu.Lock()
	st := inv.slots[slot]
	st.readiness = Unloaded
	st.handle = ""
	st.presenting = false
	inv.mu.Unlock()

	inv.publish(slot, Unloaded)
	inv.Load(slot)
}

// Close cancels any pending retry timers.
func (inv *Inventory) Close() {
	inv.mu.Lock()
	cancels := make([]clock.CancelFunc, 0, len(inv.slots))
	for _, st := range inv.slots {
		if st.cancelRetry != nil {
			cancels = append(cancels, st.cancelRetry)
			st.cancelRetry = nil
		}
	}
	inv.mu.Unlock()
	for _, c := range cancels {
		c()
	}
}

func (inv *Inventory) publish(slot SlotType, r Readiness) {
	if inv.topic == nil {
		return
	}
	inv.topic.Publish(events.ReadinessChange{Slot: string(slot), Readiness: string(r)})
}
