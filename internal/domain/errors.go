package domain

import "errors"

// Error taxonomy for telemetry source failures. Adapters wrap transport
// errors with one of these sentinels so the engine can classify without
// knowing the transport.
var (
	// ErrUnavailable marks a transient failure reaching the source.
	ErrUnavailable = errors.New("trendflow: source unavailable")
	// ErrNotFound marks an invalid source reference, a configuration error.
	ErrNotFound = errors.New("trendflow: metric reference not found")
	// ErrTimeout marks an individual fetch exceeding its deadline; treated
	// like a transient failure, never fatal.
	ErrTimeout = errors.New("trendflow: fetch timed out")
	// ErrNoMetrics is the only hard precondition failure: the engine cannot
	// start with an empty catalog.
	ErrNoMetrics = errors.New("trendflow: metric catalog is empty")
)
