package ports

import (
	"context"
	"time"

	"github.com/pratik1724/trendflow/internal/domain"
)

// LiveReading is the normalized result of one live-value request. Adapters
// map whatever dual-named shape the transport uses into this single form at
// the ingestion boundary.
type LiveReading struct {
	Value     float64
	Valid     bool
	Timestamp time.Time
	Quality   domain.Quality
}

// LiveSource answers "what is the current value of this series".
type LiveSource interface {
	ReadLive(ctx context.Context, sourceRef string) (LiveReading, error)
}

// AggregateSource answers "what did this series look like over [start, end]",
// summarized to the given resolution. An empty slice is a valid answer (no
// data in range) and is distinct from an error.
type AggregateSource interface {
	ReadAggregate(ctx context.Context, sourceRef string, start, end time.Time, resolution time.Duration, kind domain.AggregateKind) ([]domain.AggregatePoint, error)
}

// TelemetrySource is a remote source that serves both request shapes.
type TelemetrySource interface {
	LiveSource
	AggregateSource
}
