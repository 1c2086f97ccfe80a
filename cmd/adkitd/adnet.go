package main

import (
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mr-tron/base58"
	"github.com/sirupsen/logrus"

	"github.com/open-rails/adkit/inventory"
	"github.com/open-rails/adkit/present"
)

var errNoFill = errors.New("adnet: no fill")

// simulatedNetwork stands in for the real ad SDK during development: loads
// complete after a fixed latency with a configurable no-fill rate, and
// presentations report shown (or a reward for rewarded slots).
type simulatedNetwork struct {
	latency  time.Duration
	failRate float64
	log      *logrus.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

func newSimulatedNetwork(latency time.Duration, failRate float64, log *logrus.Logger) *simulatedNetwork {
	return &simulatedNetwork{
		latency:  latency,
		failRate: failRate,
		log:      log,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (n *simulatedNetwork) roll() float64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.rng.Float64()
}

func (n *simulatedNetwork) Load(slot inventory.SlotType, adUnitID string, cb func(handle string, err error)) {
	time.AfterFunc(n.latency, func() {
		if n.roll() < n.failRate {
			cb("", errNoFill)
			return
		}
		id := uuid.New()
		cb(base58.Encode(id[:]), nil)
	})
}

func (n *simulatedNetwork) Present(slot inventory.SlotType, handle string, cb func(present.Outcome)) {
	n.log.WithFields(logrus.Fields{"slot": slot, "handle": handle}).Info("adnet: presenting")
	time.AfterFunc(n.latency, func() {
		if slot == inventory.SlotRewarded {
			cb(present.Outcome{Kind: present.RewardEarned, Amount: 1})
			return
		}
		cb(present.Outcome{Kind: present.Shown})
	})
}
