package engine

import (
	"context"
	"errors"
	"time"

	"github.com/pratik1724/trendflow/internal/domain"
	"github.com/pratik1724/trendflow/internal/ports"
)

// fetchUpdate carries one metric's historical series, emitted as soon as it
// arrives rather than batched at the sequence's end.
type fetchUpdate struct {
	gen      uint64
	metricID string
	points   []domain.AggregatePoint
	err      error
}

// fetcher retrieves historical aggregates for a range, one metric at a time
// in catalog order with a stagger delay between requests. The sequencing is a
// backpressure policy: aggregate queries are heavier than live reads, so the
// remote source sees at most one at a time. The stagger wait is inserted
// before each subsequent request is issued, after the previous one settled.
type fetcher struct {
	source     ports.AggregateSource
	clock      ports.Clock
	stagger    time.Duration
	timeout    time.Duration
	resolution time.Duration
	kind       domain.AggregateKind
	obs        ports.Observability
}

func (f *fetcher) run(ctx context.Context, gen uint64, metrics []domain.MetricDescriptor, start, end time.Time, out chan<- fetchUpdate) {
	for i, m := range metrics {
		if i > 0 && f.stagger > 0 {
			select {
			case <-ctx.Done():
				return
			case <-f.clock.After(f.stagger):
			}
		}

		points, err := f.fetchOne(ctx, m, start, end)
		if ctx.Err() != nil {
			return
		}

		select {
		case <-ctx.Done():
			return
		case out <- fetchUpdate{gen: gen, metricID: m.ID, points: points, err: err}:
		}
	}
}

func (f *fetcher) fetchOne(ctx context.Context, m domain.MetricDescriptor, start, end time.Time) ([]domain.AggregatePoint, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	points, err := f.source.ReadAggregate(fetchCtx, m.SourceRef, start, end, f.resolution, f.kind)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = domain.ErrTimeout
		}
		f.obs.IncCounter("trendflow_aggregate_errors_total", 1)
		f.obs.LogError("aggregate_fetch_failed", err,
			ports.Field{Key: "metric", Value: m.ID},
			ports.Field{Key: "start", Value: start},
			ports.Field{Key: "end", Value: end})
		return nil, err
	}
	return points, nil
}
