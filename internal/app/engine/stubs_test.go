package engine

import (
	"context"
	"testing"
	"time"

	"github.com/pratik1724/trendflow/internal/domain"
	"github.com/pratik1724/trendflow/internal/ports"
)

// stubSource routes both request shapes through test-provided functions.
type stubSource struct {
	live func(ctx context.Context, ref string) (ports.LiveReading, error)
	agg  func(ctx context.Context, ref string, start, end time.Time) ([]domain.AggregatePoint, error)
}

func (s *stubSource) ReadLive(ctx context.Context, ref string) (ports.LiveReading, error) {
	if s.live == nil {
		return ports.LiveReading{}, domain.ErrUnavailable
	}
	return s.live(ctx, ref)
}

func (s *stubSource) ReadAggregate(ctx context.Context, ref string, start, end time.Time, _ time.Duration, _ domain.AggregateKind) ([]domain.AggregatePoint, error) {
	if s.agg == nil {
		return nil, nil
	}
	return s.agg(ctx, ref, start, end)
}

type stubObs struct{}

func (stubObs) LogInfo(string, ...ports.Field)         {}
func (stubObs) LogError(string, error, ...ports.Field) {}
func (stubObs) IncCounter(string, float64)             {}
func (stubObs) ObserveLatency(string, float64)         {}
func (stubObs) SetGauge(string, float64)               {}

func goodReading(v float64, at time.Time) (ports.LiveReading, error) {
	return ports.LiveReading{Value: v, Valid: true, Timestamp: at, Quality: domain.QualityGood}, nil
}

func metric(id string) domain.MetricDescriptor {
	return domain.MetricDescriptor{ID: id, SourceRef: "ref/" + id, Label: id, Unit: "u"}
}

// waitUntil polls cond, nudging the manual clock forward between attempts so
// goroutines blocked on timers make progress.
func waitUntil(t *testing.T, clock *ManualClock, step time.Duration, msg string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		if clock != nil {
			clock.Advance(step)
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}
