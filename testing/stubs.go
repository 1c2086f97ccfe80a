// Package testing provides deterministic collaborator stubs for applications
// testing against adkit: a manually advanced clock, a scriptable ad loader
// and presenter, and a scripted probability sampler.
//
// Example usage:
//
//	clk := adkittest.NewManualClock(time.Unix(0, 0))
//	loader := adkittest.NewStubLoader()
//	presenter := adkittest.NewStubPresenter(present.Outcome{Kind: present.Shown})
//
//	kit, _ := adkit.New(adkit.Options{Loader: loader, Presenter: presenter, Clock: clk})
//	loader.Succeed(inventory.SlotInterstitial)
//	clk.Advance(time.Hour)
package testing

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mr-tron/base58"

	"github.com/open-rails/adkit/clock"
	"github.com/open-rails/adkit/inventory"
	"github.com/open-rails/adkit/present"
)

// ManualClock is a clock.Clock driven by explicit Advance calls. Timers fire
// on the caller's goroutine, in schedule order, which makes timer-driven
// behavior fully deterministic.
type ManualClock struct {
	mu     sync.Mutex
	now    time.Time
	nextID int
	timers map[int]*manualTimer
}

type manualTimer struct {
	id       int
	at       time.Time
	interval time.Duration // 0 for one-shot
	fn       func()
}

// NewManualClock creates a clock frozen at start.
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start, timers: make(map[int]*manualTimer)}
}

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *ManualClock) ScheduleOnce(d time.Duration, fn func()) clock.CancelFunc {
	return c.add(d, 0, fn)
}

func (c *ManualClock) ScheduleRepeating(interval time.Duration, fn func()) clock.CancelFunc {
	return c.add(interval, interval, fn)
}

func (c *ManualClock) add(d, interval time.Duration, fn func()) clock.CancelFunc {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	c.timers[id] = &manualTimer{id: id, at: c.now.Add(d), interval: interval, fn: fn}
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.timers, id)
	}
}

// Advance moves the clock forward by d, firing every due timer in time order.
// Timer callbacks run with the clock set to their due time and may schedule
// further timers, which also fire if due within the window.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	for {
		t := c.earliestDueLocked(target)
		if t == nil {
			break
		}
		c.now = t.at
		if t.interval > 0 {
			t.at = t.at.Add(t.interval)
		} else {
			delete(c.timers, t.id)
		}
		fn := t.fn
		c.mu.Unlock()
		fn()
		c.mu.Lock()
	}
	c.now = target
	c.mu.Unlock()
}

func (c *ManualClock) earliestDueLocked(target time.Time) *manualTimer {
	due := make([]*manualTimer, 0, len(c.timers))
	for _, t := range c.timers {
		if !t.at.After(target) {
			due = append(due, t)
		}
	}
	if len(due) == 0 {
		return nil
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].at.Equal(due[j].at) {
			return due[i].id < due[j].id
		}
		return due[i].at.Before(due[j].at)
	})
	return due[0]
}

// StubLoader is an inventory.Loader whose results are delivered manually via
// Succeed/Fail. Handles are minted as base58-encoded UUIDs, mirroring what ad
// SDK opaque tokens look like in logs.
type StubLoader struct {
	mu      sync.Mutex
	pending map[inventory.SlotType][]func(handle string, err error)
	loads   map[inventory.SlotType]int
}

// NewStubLoader creates an empty loader.
func NewStubLoader() *StubLoader {
	return &StubLoader{
		pending: make(map[inventory.SlotType][]func(string, error)),
		loads:   make(map[inventory.SlotType]int),
	}
}

func (l *StubLoader) Load(slot inventory.SlotType, adUnitID string, cb func(handle string, err error)) {
	_ = adUnitID
	l.mu.Lock()
	l.loads[slot]++
	l.pending[slot] = append(l.pending[slot], cb)
	l.mu.Unlock()
}

// LoadCount returns how many Load calls slot has received.
func (l *StubLoader) LoadCount(slot inventory.SlotType) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loads[slot]
}

// Pending returns how many load callbacks for slot have not completed yet.
func (l *StubLoader) Pending(slot inventory.SlotType) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending[slot])
}

// Succeed completes the oldest pending load for slot with a fresh handle and
// returns that handle. It panics when no load is pending, which in a test
// means the code under test never called Load.
func (l *StubLoader) Succeed(slot inventory.SlotType) string {
	cb := l.take(slot)
	handle := NewHandle()
	cb(handle, nil)
	return handle
}

// Fail completes the oldest pending load for slot with err.
func (l *StubLoader) Fail(slot inventory.SlotType, err error) {
	cb := l.take(slot)
	cb("", err)
}

func (l *StubLoader) take(slot inventory.SlotType) func(string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cbs := l.pending[slot]
	if len(cbs) == 0 {
		panic(fmt.Sprintf("adkittest: no pending load for slot %q", slot))
	}
	cb := cbs[0]
	l.pending[slot] = cbs[1:]
	return cb
}

// NewHandle mints an opaque ad handle token.
func NewHandle() string {
	id := uuid.New()
	return base58.Encode(id[:])
}

// StubPresenter is a present.Presenter that completes every presentation
// with a queued outcome (falling back to the default outcome when the queue
// runs dry) and records what it presented.
type StubPresenter struct {
	mu       sync.Mutex
	def      present.Outcome
	queue    []present.Outcome
	held     []func(present.Outcome)
	hold     bool
	shown    []inventory.SlotType
	handles  []string
	presents int
}

// NewStubPresenter creates a presenter that answers every Present call
// immediately with def.
func NewStubPresenter(def present.Outcome) *StubPresenter {
	return &StubPresenter{def: def}
}

// Queue appends outcomes to be used, in order, before the default.
func (p *StubPresenter) Queue(outcomes ...present.Outcome) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queue = append(p.queue, outcomes...)
}

// Hold stops automatic completion; callbacks pile up until Release.
func (p *StubPresenter) Hold() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hold = true
}

// Release completes every held presentation with o.
func (p *StubPresenter) Release(o present.Outcome) {
	p.mu.Lock()
	held := p.held
	p.held = nil
	p.hold = false
	p.mu.Unlock()
	for _, cb := range held {
		cb(o)
	}
}

func (p *StubPresenter) Present(slot inventory.SlotType, handle string, cb func(present.Outcome)) {
	p.mu.Lock()
	p.presents++
	p.shown = append(p.shown, slot)
	p.handles = append(p.handles, handle)
	if p.hold {
		p.held = append(p.held, cb)
		p.mu.Unlock()
		return
	}
	o := p.def
	if len(p.queue) > 0 {
		o = p.queue[0]
		p.queue = p.queue[1:]
	}
	p.mu.Unlock()
	cb(o)
}

// PresentCount returns how many presentations were requested.
func (p *StubPresenter) PresentCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.presents
}

// Presented returns the slot sequence presented so far.
func (p *StubPresenter) Presented() []inventory.SlotType {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]inventory.SlotType(nil), p.shown...)
}

// ScriptedSampler returns queued samples in order, then repeats the last one.
// It satisfies cadence.Sampler.
type ScriptedSampler struct {
	mu      sync.Mutex
	samples []float64
}

// NewScriptedSampler creates a sampler with the given script. At least one
// sample is required.
func NewScriptedSampler(samples ...float64) *ScriptedSampler {
	if len(samples) == 0 {
		panic("adkittest: sampler script must not be empty")
	}
	return &ScriptedSampler{samples: samples}
}

func (s *ScriptedSampler) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.samples) > 1 {
		v := s.samples[0]
		s.samples = s.samples[1:]
		return v
	}
	return s.samples[0]
}
