package entitlement

import "time"

// Status is the user's premium access level.
type Status string

const (
	StatusFree      Status = "free"
	StatusTemporary Status = "temporary_premium"
	StatusMonthly   Status = "monthly_premium"
	StatusAnnual    Status = "annual_premium"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusFree, StatusTemporary, StatusMonthly, StatusAnnual:
		return true
	}
	return false
}

// Record is the current entitlement. ExpiresAt is set if and only if the
// status is StatusTemporary. The record is always persisted as one atomic
// value, never field by field.
type Record struct {
	Status    Status     `json:"status"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Premium reports whether the record grants any premium access. Expiry is not
// evaluated here; callers needing freshness tick the store first.
func (r Record) Premium() bool { return r.Status != StatusFree }
