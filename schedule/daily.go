// Package schedule provides the daily-boundary collaborator that resets the
// frequency gate's impression count. The gate never self-schedules this.
package schedule

import (
	"context"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/open-rails/adkit/frequency"
)

// DefaultSpec fires at local midnight.
const DefaultSpec = "0 0 * * *"

// DailyReset runs ResetDailyImpressions on a cron schedule.
type DailyReset struct {
	c   *cron.Cron
	log *logrus.Logger
}

// NewDailyReset builds the runner. An empty spec uses DefaultSpec.
func NewDailyReset(gate *frequency.Gate, spec string, log *logrus.Logger) (*DailyReset, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if spec == "" {
		spec = DefaultSpec
	}
	c := cron.New()
	if _, err := c.AddFunc(spec, func() {
		log.Debug("schedule: daily impression reset")
		gate.ResetDailyImpressions(context.Background())
	}); err != nil {
		return nil, err
	}
	return &DailyReset{c: c, log: log}, nil
}

// Start begins the schedule in a background goroutine.
func (d *DailyReset) Start() { d.c.Start() }

// Stop halts the schedule; a reset already in flight completes.
func (d *DailyReset) Stop() { d.c.Stop() }
