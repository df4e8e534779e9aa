package capture

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// manualClock fires timers synchronously from Advance, in due order.
type manualClock struct {
	mu     sync.Mutex
	now    time.Time
	seq    int
	timers []*manualTimer
}

type manualTimer struct {
	clock   *manualClock
	at      time.Time
	seq     int
	fn      func()
	stopped bool
	fired   bool
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) AfterFunc(d time.Duration, fn func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	t := &manualTimer{clock: c, at: c.now.Add(d), seq: c.seq, fn: fn}
	c.timers = append(c.timers, t)
	return t
}

func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	return true
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()
	for {
		c.mu.Lock()
		live := c.timers[:0]
		for _, t := range c.timers {
			if !t.stopped && !t.fired {
				live = append(live, t)
			}
		}
		c.timers = live
		sort.Slice(c.timers, func(i, j int) bool {
			if c.timers[i].at.Equal(c.timers[j].at) {
				return c.timers[i].seq < c.timers[j].seq
			}
			return c.timers[i].at.Before(c.timers[j].at)
		})
		if len(c.timers) == 0 || c.timers[0].at.After(target) {
			c.now = target
			c.mu.Unlock()
			return
		}
		next := c.timers[0]
		next.fired = true
		c.now = next.at
		c.mu.Unlock()
		next.fn()
	}
}

func (c *manualClock) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

type fakeStream struct {
	mu      sync.Mutex
	rate    int
	stopped int
}

func (s *fakeStream) SampleRate() int { return s.rate }

func (s *fakeStream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped++
	return nil
}

func (s *fakeStream) stopCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// fakeDevice hands out fakeStreams and lets the test push frames into the live one.
type fakeDevice struct {
	mu       sync.Mutex
	err      error
	opens    int
	streams  []*fakeStream
	listener Listener
	// onOpen runs inside Open after the listener is registered.
	onOpen func(l Listener)
}

func (d *fakeDevice) Open(_ context.Context, l Listener) (Stream, error) {
	d.mu.Lock()
	d.opens++
	if d.err != nil {
		err := d.err
		d.mu.Unlock()
		return nil, err
	}
	st := &fakeStream{rate: 16000}
	d.streams = append(d.streams, st)
	d.listener = l
	hook := d.onOpen
	d.mu.Unlock()
	if hook != nil {
		hook(l)
	}
	return st, nil
}

func (d *fakeDevice) emit(pcm []int16) {
	d.mu.Lock()
	l := d.listener
	d.mu.Unlock()
	l.Frame(pcm)
}

func (d *fakeDevice) lose(err error) {
	d.mu.Lock()
	l := d.listener
	d.mu.Unlock()
	l.Ended(err)
}

func (d *fakeDevice) openCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opens
}

func (d *fakeDevice) lastStream() *fakeStream {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.streams[len(d.streams)-1]
}

// constantFrame builds n samples whose Level equals amplitude.
func constantFrame(n int, amplitude float64) []int16 {
	v := int16(amplitude * 32768)
	out := make([]int16, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func awaitResult(t *testing.T, results <-chan Result) Result {
	t.Helper()
	select {
	case res, ok := <-results:
		require.True(t, ok, "result channel closed without a result")
		return res
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for capture result")
		return Result{}
	}
}

func requireNoResult(t *testing.T, results <-chan Result) {
	t.Helper()
	select {
	case res := <-results:
		t.Fatalf("unexpected result: %+v", res)
	case <-time.After(20 * time.Millisecond):
	}
}

func requireClosedAfter(t *testing.T, results <-chan Result) {
	t.Helper()
	select {
	case _, ok := <-results:
		require.False(t, ok, "second result delivered on the same cycle")
	case <-time.After(2 * time.Second):
		t.Fatalf("result channel not closed")
	}
}
