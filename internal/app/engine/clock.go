package engine

import (
	"sync"
	"time"

	"github.com/pratik1724/trendflow/internal/ports"
)

// SystemClock is the wall-clock implementation used outside tests.
type SystemClock struct{}

func NewSystemClock() SystemClock { return SystemClock{} }

func (SystemClock) Now() time.Time { return time.Now() }

func (SystemClock) NewTicker(d time.Duration) ports.Ticker {
	return &systemTicker{t: time.NewTicker(d)}
}

func (SystemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

type systemTicker struct{ t *time.Ticker }

func (s *systemTicker) C() <-chan time.Time { return s.t.C }
func (s *systemTicker) Stop()               { s.t.Stop() }

// ManualClock is a virtual clock for tests. Advance moves time forward and
// fires any timers and tickers that fall due, in chronological order, so
// scheduling behavior can be exercised without wall-clock sleeps.
type ManualClock struct {
	mu      sync.Mutex
	now     time.Time
	timers  []*manualTimer
	tickers []*manualTicker
}

func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *ManualClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- c.now
		return ch
	}
	c.timers = append(c.timers, &manualTimer{at: c.now.Add(d), ch: ch})
	return ch
}

func (c *ManualClock) NewTicker(d time.Duration) ports.Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := &manualTicker{
		clock:  c,
		period: d,
		next:   c.now.Add(d),
		ch:     make(chan time.Time, 1),
	}
	c.tickers = append(c.tickers, t)
	return t
}

// Advance moves the clock forward by d, firing due timers and tickers in
// order. Ticker sends are non-blocking, matching time.Ticker.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	target := c.now.Add(d)
	for {
		at, ok := c.nextEventLocked(target)
		if !ok {
			break
		}
		c.now = at
		c.fireLocked(at)
	}
	c.now = target
}

func (c *ManualClock) nextEventLocked(target time.Time) (time.Time, bool) {
	var (
		at    time.Time
		found bool
	)
	consider := func(t time.Time) {
		if t.After(target) {
			return
		}
		if !found || t.Before(at) {
			at = t
			found = true
		}
	}
	for _, t := range c.timers {
		consider(t.at)
	}
	for _, t := range c.tickers {
		if !t.stopped {
			consider(t.next)
		}
	}
	return at, found
}

func (c *ManualClock) fireLocked(at time.Time) {
	kept := c.timers[:0]
	for _, t := range c.timers {
		if t.at.After(at) {
			kept = append(kept, t)
			continue
		}
		t.ch <- t.at
	}
	c.timers = kept

	for _, t := range c.tickers {
		if t.stopped || t.next.After(at) {
			continue
		}
		select {
		case t.ch <- t.next:
		default:
		}
		for !t.next.After(at) {
			t.next = t.next.Add(t.period)
		}
	}
}

func (c *ManualClock) removeTicker(t *manualTicker) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t.stopped = true
}

type manualTimer struct {
	at time.Time
	ch chan time.Time
}

type manualTicker struct {
	clock   *ManualClock
	period  time.Duration
	next    time.Time
	ch      chan time.Time
	stopped bool
}

func (t *manualTicker) C() <-chan time.Time { return t.ch }
func (t *manualTicker) Stop()               { t.clock.removeTicker(t) }

var (
	_ ports.Clock = SystemClock{}
	_ ports.Clock = (*ManualClock)(nil)
)
