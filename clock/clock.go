// Package clock abstracts wall-clock time and delayed/periodic task execution
// so that expiry ticks, retry backoffs and cadence timers can be driven by a
// deterministic clock in tests.
package clock

import (
	"sync"
	"time"
)

// CancelFunc stops a scheduled task. It is idempotent and safe to call after
// the task has already fired.
type CancelFunc func()

// Clock is the timing collaborator of every stateful component.
type Clock interface {
	Now() time.Time
	// ScheduleOnce runs fn once after d.
	ScheduleOnce(d time.Duration, fn func()) CancelFunc
	// ScheduleRepeating runs fn every interval until cancelled.
	ScheduleRepeating(interval time.Duration, fn func()) CancelFunc
}

// System is the real Clock, backed by the time package.
type System struct{}

// NewSystem returns the production clock.
func NewSystem() *System { return &System{} }

func (*System) Now() time.Time { return time.Now() }

func (*System) ScheduleOnce(d time.Duration, fn func()) CancelFunc {
	t := time.AfterFunc(d, fn)
	return func() { t.Stop() }
}

func (*System) ScheduleRepeating(interval time.Duration, fn func()) CancelFunc {
	ticker := time.NewTicker(interval)
	done := make(chan struct{})
	var once sync.Once
	go func() {
		for {
			select {
			case <-ticker.C:
				fn()
			case <-done:
				return
			}
		}
	}()
	return func() {
		once.Do(func() {
			ticker.Stop()
			close(done)
		})
	}
}
