// Package adkit wires the entitlement and ad-cadence controller together: an
// entitlement store with wall-clock expiry, per-slot ad inventory, a
// frequency gate and a cadence coordinator, connected to an ad network
// Loader/Presenter and a durable key/value store supplied by the embedding
// application.
package adkit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/open-rails/adkit/cadence"
	"github.com/open-rails/adkit/clock"
	"github.com/open-rails/adkit/entitlement"
	"github.com/open-rails/adkit/events"
	"github.com/open-rails/adkit/frequency"
	"github.com/open-rails/adkit/inventory"
	"github.com/open-rails/adkit/kv"
	"github.com/open-rails/adkit/present"
	memorystore "github.com/open-rails/adkit/storage/memory"
)

// ErrAdNotReady is returned when a rewarded presentation is requested before
// inventory is available. A load is kicked off; the caller should retry after
// the readiness event.
var ErrAdNotReady = errors.New("adkit: rewarded ad not ready")

// DefaultRewardedGrant is the temporary premium granted per earned reward.
const DefaultRewardedGrant = 24 * time.Hour

// Options configures a Kit. Loader and Presenter are required; everything
// else has production defaults.
type Options struct {
	Loader    inventory.Loader
	Presenter present.Presenter

	Store   kv.Store    // default: in-memory
	Clock   clock.Clock // default: system clock
	Sampler cadence.Sampler
	Logger  *logrus.Logger

	Inventory inventory.Config
	Frequency frequency.Config
	Cadence   cadence.Config

	// RewardedGrant overrides the temporary premium duration per reward.
	RewardedGrant time.Duration
}

// Kit is the assembled controller. Fields are exported so adapters and tests
// can reach individual components; state mutation still goes through each
// component's own methods.
type Kit struct {
	Bus          *events.Bus
	Entitlements *entitlement.Store
	Inventory    *inventory.Inventory
	Gate         *frequency.Gate
	Cadence      *cadence.Coordinator

	presenter     present.Presenter
	clk           clock.Clock
	log           *logrus.Logger
	rewardedGrant time.Duration
}

// New assembles a Kit and starts the periodic entitlement expiry ticker.
func New(opts Options) (*Kit, error) {
	if opts.Loader == nil {
		return nil, errors.New("adkit: Loader is required")
	}
	if opts.Presenter == nil {
		return nil, errors.New("adkit: Presenter is required")
	}
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.NewSystem()
	}
	store := opts.Store
	if store == nil {
		store = memorystore.New()
	}
	rng := opts.Sampler
	if rng == nil {
		var err error
		if rng, err = cadence.NewSampler(); err != nil {
			return nil, fmt.Errorf("adkit: seed sampler: %w", err)
		}
	}
	grant := opts.RewardedGrant
	if grant <= 0 {
		grant = DefaultRewardedGrant
	}

	bus := events.NewBus()
	ents := entitlement.NewStore(store, clk, bus.Entitlement, log)
	inv := inventory.New(opts.Loader, ents, clk, bus.AdReadiness, log, opts.Inventory)
	gate := frequency.New(ents, inv, store, log, opts.Frequency)
	coord := cadence.New(ents, gate, inv, opts.Presenter, clk, rng, log, opts.Cadence)

	ents.StartTicker()

	return &Kit{
		Bus:           bus,
		Entitlements:  ents,
		Inventory:     inv,
		Gate:          gate,
		Cadence:       coord,
		presenter:     opts.Presenter,
		clk:           clk,
		log:           log,
		rewardedGrant: grant,
	}, nil
}

// LoadAll requests initial inventory for every slot. Loads for non-rewarded
// slots are refused while premium, so this is safe to call unconditionally at
// startup.
func (k *Kit) LoadAll() {
	for _, slot := range inventory.Slots {
		k.Inventory.Load(slot)
	}
}

// RequestRewardedPresentation shows a rewarded ad if one is loaded. On an
// earned reward it grants temporary premium and immediately begins loading
// the next rewarded ad. Dismissal or failure grants nothing; the slot is
// consumed either way.
func (k *Kit) RequestRewardedPresentation() error {
	if !k.Inventory.IsReady(inventory.SlotRewarded) {
		k.Inventory.Load(inventory.SlotRewarded)
		return ErrAdNotReady
	}
	handle, ok := k.Inventory.BeginPresentation(inventory.SlotRewarded)
	if !ok {
		return ErrAdNotReady
	}
	k.presenter.Present(inventory.SlotRewarded, handle, func(o present.Outcome) {
		if o.Kind == present.RewardEarned && o.Amount > 0 {
			if err := k.Entitlements.GrantTemporary(context.Background(), k.rewardedGrant); err != nil {
				k.log.WithError(err).Warn("adkit: rewarded grant failed")
			}
		}
		k.Inventory.Consume(inventory.SlotRewarded)
	})
	return nil
}

// Close cancels every timer owned by the controller. Pending Presenter
// callbacks may still arrive and are handled safely, but no new timers fire.
func (k *Kit) Close() {
	k.Entitlements.Close()
	k.Inventory.Close()
}
