package testfixtures

import (
	"sync"
	"time"
)

// Clock is a controllable time source. Timers and tickers created from it
// fire only when Advance or Set moves time past their deadline.
type Clock struct {
	mu      sync.Mutex
	current time.Time
	timers  []*manualTimer
}

type manualTimer struct {
	deadline time.Time
	period   time.Duration
	ch       chan time.Time
	stopped  bool
}

// NewClock returns a clock at start, or at ReferenceTime when start is zero.
func NewClock(start time.Time) *Clock {
	if start.IsZero() {
		start = ReferenceTime()
	}
	return &Clock{current: start}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// NowFunc exposes Now for constructor injection.
func (c *Clock) NowFunc() func() time.Time {
	if c == nil {
		return time.Now
	}
	return c.Now
}

func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = t
	c.fireLocked()
}

// Advance moves the clock forward and returns the new time.
func (c *Clock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)
	c.fireLocked()
	return c.current
}

// NewTimer returns a channel that receives once d has elapsed on the clock,
// and a stop function.
func (c *Clock) NewTimer(d time.Duration) (<-chan time.Time, func()) {
	return c.register(d, 0)
}

// NewTicker returns a channel that receives every d of clock time. A tick
// that finds the buffer full is dropped, like time.Ticker.
func (c *Clock) NewTicker(d time.Duration) (<-chan time.Time, func()) {
	return c.register(d, d)
}

// Pending reports how many timers and tickers are still live.
func (c *Clock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	live := 0
	for _, t := range c.timers {
		if !t.stopped {
			live++
		}
	}
	return live
}

func (c *Clock) register(d, period time.Duration) (<-chan time.Time, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTimer{deadline: c.current.Add(d), period: period, ch: make(chan time.Time, 1)}
	c.timers = append(c.timers, t)
	return t.ch, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		t.stopped = true
	}
}

func (c *Clock) fireLocked() {
	for _, t := range c.timers {
		if t.stopped || t.deadline.After(c.current) {
			continue
		}
		select {
		case t.ch <- c.current:
		default:
		}
		if t.period <= 0 {
			t.stopped = true
			continue
		}
		for !t.deadline.After(c.current) {
			t.deadline = t.deadline.Add(t.period)
		}
	}
}
