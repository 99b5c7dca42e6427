// Package countdown drives a second-granularity remaining-time value and
// fires an expiry callback at most once.
//
// Remaining time is derived from a wall-clock deadline on every tick, so a
// late or skipped tick never makes the countdown drift; ticks only decide how
// often the value is refreshed.
package countdown

import (
	"math"
	"sync"
	"time"
)

// TickSource returns a channel delivering ticks every d and a stop function.
type TickSource func(d time.Duration) (<-chan time.Time, func())

func realTicker(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

// Option configures a Countdown.
type Option func(*Countdown)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Countdown) { c.now = now }
}

// WithTickSource overrides the one-second ticker.
func WithTickSource(src TickSource) Option {
	return func(c *Countdown) { c.ticks = src }
}

// WithOnTick registers a function called with the remaining seconds after
// every tick and reset. Hooks run in the order they were registered.
func WithOnTick(fn func(remaining int64)) Option {
	return func(c *Countdown) {
		prev := c.onTick
		if prev == nil {
			c.onTick = fn
			return
		}
		c.onTick = func(remaining int64) {
			prev(remaining)
			fn(remaining)
		}
	}
}

// Countdown is a self-contained timer. Callbacks run on the countdown's own
// goroutine and must not call Stop.
type Countdown struct {
	mu        sync.Mutex
	now       func() time.Time
	ticks     TickSource
	initial   int64
	remaining int64
	deadline  time.Time
	started   bool
	stopped   bool
	fired     bool
	onExpire  func()
	onTick    func(int64)

	resetCh chan struct{}
	stopCh  chan struct{}
	done    chan struct{}
}

// New creates a stopped countdown of initialSeconds. Call Start to run it.
func New(initialSeconds int64, onExpire func(), opts ...Option) *Countdown {
	c := &Countdown{
		now:      time.Now,
		ticks:    realTicker,
		onExpire: onExpire,
		resetCh:  make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.initial = initialSeconds
	c.remaining = clamp(initialSeconds)
	c.deadline = c.now().Add(time.Duration(initialSeconds) * time.Second)
	return c
}

// Start launches the countdown goroutine. A non-positive initial value
// expires immediately. Start is a no-op after the first call or after Stop.
func (c *Countdown) Start() {
	c.mu.Lock()
	if c.started || c.stopped {
		c.mu.Unlock()
		return
	}
	c.started = true
	// The deadline counts from Start, not from New.
	c.deadline = c.now().Add(time.Duration(c.remaining) * time.Second)
	c.mu.Unlock()

	go c.run()
}

func (c *Countdown) run() {
	defer close(c.done)

	tick, stopTick := c.ticks(time.Second)
	defer stopTick()

	if c.expireIfDue() {
		return
	}

	for {
		select {
		case <-c.stopCh:
			return
		case <-c.resetCh:
			c.notifyTick()
			if c.expireIfDue() {
				return
			}
		case <-tick:
			c.advance()
			c.notifyTick()
			if c.expireIfDue() {
				return
			}
		}
	}
}

// advance recomputes remaining from the deadline, never letting it grow.
func (c *Countdown) advance() {
	c.mu.Lock()
	defer c.mu.Unlock()
	left := clamp(int64(math.Round(c.deadline.Sub(c.now()).Seconds())))
	if left < c.remaining {
		c.remaining = left
	}
}

func (c *Countdown) notifyTick() {
	c.mu.Lock()
	fn, rem, stopped := c.onTick, c.remaining, c.stopped
	c.mu.Unlock()
	if fn != nil && !stopped {
		fn(rem)
	}
}

// expireIfDue fires the expiry callback once remaining hits zero and reports
// whether the loop should exit.
func (c *Countdown) expireIfDue() bool {
	c.mu.Lock()
	if c.stopped || c.fired {
		c.mu.Unlock()
		return true
	}
	if c.remaining > 0 {
		c.mu.Unlock()
		return false
	}
	c.fired = true
	fn := c.onExpire
	c.mu.Unlock()

	if fn != nil {
		fn()
	}
	return true
}

// Reset restarts the countdown from seconds when it differs from the last
// supplied initial value. It is ignored once expired or stopped.
func (c *Countdown) Reset(seconds int64) {
	c.mu.Lock()
	if c.stopped || c.fired || seconds == c.initial {
		c.mu.Unlock()
		return
	}
	c.initial = seconds
	c.remaining = clamp(seconds)
	c.deadline = c.now().Add(time.Duration(c.remaining) * time.Second)
	started := c.started
	c.mu.Unlock()

	if started {
		select {
		case c.resetCh <- struct{}{}:
		default:
		}
	}
}

// SetOnExpire replaces the expiry callback. The latest callback is the one
// dispatched.
func (c *Countdown) SetOnExpire(fn func()) {
	c.mu.Lock()
	c.onExpire = fn
	c.mu.Unlock()
}

// Remaining returns the remaining whole seconds.
func (c *Countdown) Remaining() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remaining
}

// Expired reports whether the expiry callback has been dispatched.
func (c *Countdown) Expired() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fired
}

// Done is closed when the countdown goroutine exits.
func (c *Countdown) Done() <-chan struct{} {
	return c.done
}

// Stop halts the countdown and waits for its goroutine. No callback runs
// after Stop returns.
func (c *Countdown) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	started := c.started
	close(c.stopCh)
	c.mu.Unlock()

	if started {
		<-c.done
	}
}

func clamp(s int64) int64 {
	if s < 0 {
		return 0
	}
	return s
}
