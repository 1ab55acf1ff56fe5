package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/pratik1724/trendflow/internal/domain"
	"github.com/pratik1724/trendflow/internal/ports"
)

// pollResult is one tick's worth of live samples, applied to state as a
// single batch keyed by the tick timestamp.
type pollResult struct {
	gen     uint64
	tick    time.Time
	samples map[string]domain.LiveSample
}

// poller fetches the current value of every subscribed metric once per
// interval. Fetches within a tick run concurrently and a tick completes when
// all of them have settled; a failure for one metric degrades only that
// metric's sample to UNKNOWN quality.
type poller struct {
	source   ports.LiveSource
	clock    ports.Clock
	interval time.Duration
	timeout  time.Duration
	obs      ports.Observability
}

func (p *poller) run(ctx context.Context, gen uint64, metrics []domain.MetricDescriptor, out chan<- pollResult) {
	ticker := p.clock.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
		}

		tick := p.clock.Now()
		start := time.Now()
		samples := p.pollOnce(ctx, tick, metrics)
		p.obs.ObserveLatency("trendflow_live_tick_seconds", time.Since(start).Seconds())
		p.obs.IncCounter("trendflow_live_polls_total", 1)

		select {
		case <-ctx.Done():
			return
		case out <- pollResult{gen: gen, tick: tick, samples: samples}:
		}
	}
}

func (p *poller) pollOnce(ctx context.Context, tick time.Time, metrics []domain.MetricDescriptor) map[string]domain.LiveSample {
	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		samples = make(map[string]domain.LiveSample, len(metrics))
	)

	for _, m := range metrics {
		wg.Add(1)
		go func(m domain.MetricDescriptor) {
			defer wg.Done()
			sample := p.fetchOne(ctx, tick, m)
			mu.Lock()
			samples[m.ID] = sample
			mu.Unlock()
		}(m)
	}
	wg.Wait()
	return samples
}

func (p *poller) fetchOne(ctx context.Context, tick time.Time, m domain.MetricDescriptor) domain.LiveSample {
	fetchCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	reading, err := p.source.ReadLive(fetchCtx, m.SourceRef)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = domain.ErrTimeout
		}
		p.obs.IncCounter("trendflow_live_errors_total", 1)
		p.obs.LogError("live_fetch_failed", err, ports.Field{Key: "metric", Value: m.ID})
		return domain.LiveSample{
			MetricID:  m.ID,
			Timestamp: tick,
			Quality:   domain.QualityUnknown,
		}
	}

	ts := reading.Timestamp
	if ts.IsZero() {
		ts = tick
	}
	return domain.LiveSample{
		MetricID:  m.ID,
		Timestamp: ts,
		Value:     reading.Value,
		Valid:     reading.Valid,
		Quality:   reading.Quality,
	}
}
