// Package present declares the external ad-presentation collaborator.
package present

import "github.com/open-rails/adkit/inventory"

// OutcomeKind classifies how a presentation ended.
type OutcomeKind string

const (
	// Shown means the ad was genuinely displayed to completion.
	Shown OutcomeKind = "shown"
	// Dismissed means the user closed the ad before completion.
	Dismissed OutcomeKind = "dismissed"
	// Failed means the SDK reported an error while displaying.
	Failed OutcomeKind = "failed"
	// RewardEarned means a rewarded ad completed and carries a reward amount.
	RewardEarned OutcomeKind = "reward_earned"
)

// Outcome is the result reported by the Presenter.
type Outcome struct {
	Kind   OutcomeKind
	Amount int // reward amount, RewardEarned only
}

// Presenter displays a loaded ad. The callback may fire on any goroutine and
// fires exactly once per Present call.
type Presenter interface {
	Present(slot inventory.SlotType, handle string, cb func(Outcome))
}
