package ports

import "time"

// Ticker delivers repeated ticks until stopped.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// Clock abstracts wall time and recurring timers so the engine's scheduling
// can be driven by virtual time in tests.
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) Ticker
	After(d time.Duration) <-chan time.Time
}
