package countdown

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

type harness struct {
	clock     *fakeClock
	ticks     chan time.Time
	processed chan int64
}

func newHarness() *harness {
	return &harness{
		clock:     &fakeClock{now: time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC)},
		ticks:     make(chan time.Time),
		processed: make(chan int64, 64),
	}
}

func (h *harness) options() []Option {
	return []Option{
		WithClock(h.clock.Now),
		WithTickSource(func(time.Duration) (<-chan time.Time, func()) {
			return h.ticks, func() {}
		}),
		WithOnTick(func(rem int64) {
			select {
			case h.processed <- rem:
			default:
			}
		}),
	}
}

// tick advances the clock by a second and delivers a tick if the loop is
// still listening.
func (h *harness) tick(t *testing.T) bool {
	t.Helper()
	h.clock.Advance(time.Second)
	return h.deliver(t)
}

// deliver sends the current time as a tick and waits until the loop has
// applied it. It reports false when the loop no longer listens.
func (h *harness) deliver(t *testing.T) bool {
	t.Helper()
	select {
	case h.ticks <- h.clock.Now():
	case <-time.After(200 * time.Millisecond):
		return false
	}
	h.settle(t)
	return true
}

// settle waits for the loop to finish handling one tick or reset.
func (h *harness) settle(t *testing.T) {
	t.Helper()
	select {
	case <-h.processed:
	case <-time.After(time.Second):
		t.Fatal("tick was not processed")
	}
}

func waitDone(t *testing.T, c *Countdown) {
	t.Helper()
	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatal("countdown did not finish")
	}
}

func TestCountdown_DecrementsAndExpiresOnce(t *testing.T) {
	h := newHarness()
	var fired atomic.Int32
	c := New(3, func() { fired.Add(1) }, h.options()...)
	c.Start()

	require.True(t, h.tick(t))
	assert.Equal(t, int64(2), c.Remaining())
	require.True(t, h.tick(t))
	assert.Equal(t, int64(1), c.Remaining())
	require.True(t, h.tick(t))

	waitDone(t, c)
	assert.Equal(t, int64(0), c.Remaining())
	assert.Equal(t, int32(1), fired.Load())
	assert.True(t, c.Expired())

	// Loop has exited; later ticks are never consumed.
	assert.False(t, h.tick(t))
	assert.Equal(t, int32(1), fired.Load())
}

func TestCountdown_NonPositiveInitialExpiresImmediately(t *testing.T) {
	for _, initial := range []int64{0, -30} {
		h := newHarness()
		var fired atomic.Int32
		c := New(initial, func() { fired.Add(1) }, h.options()...)
		c.Start()

		waitDone(t, c)
		assert.Equal(t, int32(1), fired.Load(), "initial=%d", initial)
		assert.Equal(t, int64(0), c.Remaining())
	}
}

func TestCountdown_UsesWallClockAcrossMissedTicks(t *testing.T) {
	h := newHarness()
	c := New(600, nil, h.options()...)
	c.Start()
	defer c.Stop()

	// The process was suspended for two minutes before the next tick.
	h.clock.Advance(119 * time.Second)
	require.True(t, h.tick(t))
	assert.Equal(t, int64(480), c.Remaining())
}

func TestCountdown_RemainingNeverIncreases(t *testing.T) {
	h := newHarness()
	c := New(10, nil, h.options()...)
	c.Start()
	defer c.Stop()

	require.True(t, h.tick(t))
	require.Equal(t, int64(9), c.Remaining())

	// Clock jumps backwards.
	h.clock.Advance(-5 * time.Second)
	require.True(t, h.deliver(t))
	assert.Equal(t, int64(9), c.Remaining())
}

func TestCountdown_ResetWithSameValueIsIgnored(t *testing.T) {
	h := newHarness()
	c := New(5, nil, h.options()...)
	c.Start()
	defer c.Stop()

	require.True(t, h.tick(t))
	require.True(t, h.tick(t))
	c.Reset(5)
	assert.Equal(t, int64(3), c.Remaining())
}

func TestCountdown_ResetWithNewValueRestarts(t *testing.T) {
	h := newHarness()
	var fired atomic.Int32
	c := New(5, func() { fired.Add(1) }, h.options()...)
	c.Start()

	require.True(t, h.tick(t))
	c.Reset(2)
	assert.Equal(t, int64(2), c.Remaining())
	h.settle(t)

	require.True(t, h.tick(t))
	assert.Equal(t, int64(1), c.Remaining())
	require.True(t, h.tick(t))

	waitDone(t, c)
	assert.Equal(t, int32(1), fired.Load())
}

func TestCountdown_ResetToZeroExpires(t *testing.T) {
	h := newHarness()
	var fired atomic.Int32
	c := New(5, func() { fired.Add(1) }, h.options()...)
	c.Start()

	c.Reset(0)
	waitDone(t, c)
	assert.Equal(t, int32(1), fired.Load())
}

func TestCountdown_DispatchesLatestCallback(t *testing.T) {
	h := newHarness()
	var first, second atomic.Int32
	c := New(1, func() { first.Add(1) }, h.options()...)
	c.SetOnExpire(func() { second.Add(1) })
	c.Start()

	require.True(t, h.tick(t))
	waitDone(t, c)
	assert.Equal(t, int32(0), first.Load())
	assert.Equal(t, int32(1), second.Load())
}

func TestCountdown_StopSuppressesExpiry(t *testing.T) {
	h := newHarness()
	var fired atomic.Int32
	c := New(1, func() { fired.Add(1) }, h.options()...)
	c.Start()
	c.Stop()

	assert.False(t, h.tick(t))
	assert.Equal(t, int32(0), fired.Load())
	assert.False(t, c.Expired())

	// Stop is idempotent and Start after Stop does nothing.
	c.Stop()
	c.Start()
	assert.False(t, h.tick(t))
}

func TestCountdown_OnTickReportsRemaining(t *testing.T) {
	h := newHarness()
	var mu sync.Mutex
	var seen []int64
	opts := append(h.options(), WithOnTick(func(rem int64) {
		mu.Lock()
		seen = append(seen, rem)
		mu.Unlock()
	}))
	c := New(2, nil, opts...)
	c.Start()

	require.True(t, h.tick(t))
	require.True(t, h.tick(t))
	waitDone(t, c)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int64{1, 0}, seen)
}

func TestCountdown_OnTickHooksRunInOrder(t *testing.T) {
	h := newHarness()
	var mu sync.Mutex
	var order []string
	hook := func(name string) Option {
		return WithOnTick(func(int64) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
		})
	}
	opts := append([]Option{hook("first"), hook("second")}, h.options()...)
	c := New(5, nil, opts...)
	c.Start()
	defer c.Stop()

	require.True(t, h.tick(t))
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"first", "second"}, order)
}
