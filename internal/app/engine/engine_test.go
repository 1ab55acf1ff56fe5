package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pratik1724/trendflow/internal/domain"
	"github.com/pratik1724/trendflow/internal/ports"
)

func testConfig() Config {
	return Config{
		PollInterval:    time.Second,
		StaggerDelay:    time.Millisecond,
		RefreshInterval: 24 * time.Hour, // out of the way for these tests
		FetchTimeout:    time.Minute,
		LiveDuration:    30 * time.Second,
		Resolution:      time.Minute,
		Aggregate:       domain.AggregateAvg,
	}
}

func TestEngineStartRequiresCatalog(t *testing.T) {
	e := New(testConfig(), &stubSource{}, NewManualClock(time.UnixMilli(0)), stubObs{})
	if err := e.Start(nil, domain.Window{}); err != domain.ErrNoMetrics {
		t.Fatalf("expected ErrNoMetrics, got %v", err)
	}
}

func TestEngineLiveFlowMergesTicks(t *testing.T) {
	clock := NewManualClock(time.UnixMilli(0))
	source := &stubSource{
		live: func(_ context.Context, _ string) (ports.LiveReading, error) {
			return goodReading(3.14, time.Time{})
		},
	}

	e := New(testConfig(), source, clock, stubObs{})
	if err := e.Start([]domain.MetricDescriptor{metric("a"), metric("b")}, domain.Window{}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer e.Stop()

	waitUntil(t, clock, time.Second, "first merged live row", func() bool {
		return len(e.Snapshot().Rows) > 0
	})

	snap := e.Snapshot()
	if snap.Window.Mode != domain.ModeLive {
		t.Fatalf("expected live mode, got %s", snap.Window.Mode)
	}
	row := snap.Rows[0]
	if row.Values["a"] != 3.14 || row.Values["b"] != 3.14 {
		t.Fatalf("tick samples must land in one synthetic row, got %+v", row.Values)
	}
	for i := 1; i < len(snap.Rows); i++ {
		if !snap.Rows[i].Timestamp.After(snap.Rows[i-1].Timestamp) {
			t.Fatalf("rows not strictly ascending: %+v", snap.Rows)
		}
	}
	if !snap.LastLive["a"].Valid || snap.LastLive["a"].Quality != domain.QualityGood {
		t.Fatalf("unexpected last live sample: %+v", snap.LastLive["a"])
	}
	if snap.LastUpdated.IsZero() {
		t.Fatalf("successful ticks must advance LastUpdated")
	}
}

func TestEngineRollingTrim(t *testing.T) {
	clock := NewManualClock(time.UnixMilli(0))
	source := &stubSource{
		live: func(_ context.Context, _ string) (ports.LiveReading, error) {
			return goodReading(1, time.Time{})
		},
	}

	cfg := testConfig()
	cfg.LiveDuration = 5 * time.Second
	e := New(cfg, source, clock, stubObs{})
	if err := e.Start([]domain.MetricDescriptor{metric("a")}, domain.Window{}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer e.Stop()

	waitUntil(t, clock, time.Second, "enough ticks to roll the window", func() bool {
		s := e.Snapshot()
		return len(s.Rows) > 0 && s.LastUpdated.After(time.UnixMilli(0).Add(15*time.Second))
	})

	snap := e.Snapshot()
	cutoff := snap.Window.End.Add(-5 * time.Second)
	for _, row := range snap.Rows {
		if row.Timestamp.Before(cutoff) {
			t.Fatalf("row %v survived outside the trailing window (cutoff %v)", row.Timestamp, cutoff)
		}
	}
	if !snap.Window.End.Equal(snap.Window.Start.Add(5 * time.Second)) {
		t.Fatalf("live window must stay exactly Duration wide: %+v", snap.Window)
	}
}

func TestEngineLiveFailureKeepsLastGoodValue(t *testing.T) {
	clock := NewManualClock(time.UnixMilli(0))

	var mu sync.Mutex
	fail := false
	source := &stubSource{
		live: func(_ context.Context, ref string) (ports.LiveReading, error) {
			mu.Lock()
			defer mu.Unlock()
			if fail && ref == "ref/b" {
				return ports.LiveReading{}, domain.ErrUnavailable
			}
			return goodReading(7, time.Time{})
		},
	}

	e := New(testConfig(), source, clock, stubObs{})
	if err := e.Start([]domain.MetricDescriptor{metric("a"), metric("b")}, domain.Window{}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer e.Stop()

	waitUntil(t, clock, time.Second, "good sample for b", func() bool {
		return e.Snapshot().LastLive["b"].Valid
	})

	mu.Lock()
	fail = true
	mu.Unlock()

	waitUntil(t, clock, time.Second, "degraded quality for b", func() bool {
		return e.Snapshot().LastLive["b"].Quality == domain.QualityUnknown
	})

	snap := e.Snapshot()
	b := snap.LastLive["b"]
	if !b.Valid || b.Value != 7 {
		t.Fatalf("failure must not blank the last good value: %+v", b)
	}
	if a := snap.LastLive["a"]; !a.Valid || a.Quality != domain.QualityGood {
		t.Fatalf("failure of b must not affect a: %+v", a)
	}
}

func TestEngineStaleFetchResultsDiscarded(t *testing.T) {
	clock := NewManualClock(time.UnixMilli(0))

	gate := make(chan struct{})
	var (
		mu    sync.Mutex
		calls int
	)
	source := &stubSource{
		agg: func(_ context.Context, _ string, start, _ time.Time) ([]domain.AggregatePoint, error) {
			mu.Lock()
			calls++
			first := calls == 1
			mu.Unlock()
			if first {
				// the abandoned sequence finishes only after the new one
				<-gate
				return []domain.AggregatePoint{{Timestamp: start.Add(time.Second), Value: 111}}, nil
			}
			return []domain.AggregatePoint{{Timestamp: start.Add(time.Second), Value: 222}}, nil
		},
	}

	e := New(testConfig(), source, clock, stubObs{})
	if err := e.Start([]domain.MetricDescriptor{metric("a")}, domain.Window{}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer e.Stop()

	waitUntil(t, nil, 0, "first backfill in flight", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls == 1
	})

	customStart := time.UnixMilli(1_000_000)
	customEnd := customStart.Add(time.Hour)
	e.SetWindow(domain.Window{Mode: domain.ModeCustom, Start: customStart, End: customEnd})

	waitUntil(t, nil, 0, "new range applied", func() bool {
		snap := e.Snapshot()
		return len(snap.Rows) == 1 && snap.Rows[0].Values["a"] == 222
	})

	close(gate)
	time.Sleep(20 * time.Millisecond)

	snap := e.Snapshot()
	for _, row := range snap.Rows {
		if row.Values["a"] == 111 {
			t.Fatalf("stale sequence data leaked into state: %+v", snap.Rows)
		}
	}
	if snap.Window.Start != customStart || snap.Window.End != customEnd || snap.Window.Mode != domain.ModeCustom {
		t.Fatalf("window must equal the requested custom range: %+v", snap.Window)
	}
}

func TestEngineHistoricalModeFreezesTrend(t *testing.T) {
	clock := NewManualClock(time.UnixMilli(0))
	histPoint := domain.AggregatePoint{Timestamp: time.UnixMilli(500), Value: 9}
	source := &stubSource{
		live: func(_ context.Context, _ string) (ports.LiveReading, error) {
			return goodReading(1, time.Time{})
		},
		agg: func(_ context.Context, _ string, _, _ time.Time) ([]domain.AggregatePoint, error) {
			return []domain.AggregatePoint{histPoint}, nil
		},
	}

	e := New(testConfig(), source, clock, stubObs{})
	if err := e.Start([]domain.MetricDescriptor{metric("a")}, domain.Window{
		Mode:  domain.ModeHistorical,
		Start: time.UnixMilli(0),
		End:   time.UnixMilli(1000),
	}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer e.Stop()

	waitUntil(t, clock, time.Second, "historical backfill", func() bool {
		return len(e.Snapshot().Rows) == 1
	})
	waitUntil(t, clock, time.Second, "live current values keep flowing", func() bool {
		return e.Snapshot().LastLive["a"].Valid
	})

	snap := e.Snapshot()
	if len(snap.Rows) != 1 || !snap.Rows[0].Timestamp.Equal(histPoint.Timestamp) {
		t.Fatalf("live ticks must not feed the historical trend: %+v", snap.Rows)
	}
}

func TestEngineCustomWindowIncompleteBoundsNoFetch(t *testing.T) {
	clock := NewManualClock(time.UnixMilli(0))
	var (
		mu    sync.Mutex
		calls int
	)
	source := &stubSource{
		agg: func(_ context.Context, _ string, _, _ time.Time) ([]domain.AggregatePoint, error) {
			mu.Lock()
			calls++
			mu.Unlock()
			return nil, nil
		},
	}

	e := New(testConfig(), source, clock, stubObs{})
	if err := e.Start([]domain.MetricDescriptor{metric("a")}, domain.Window{}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer e.Stop()

	waitUntil(t, nil, 0, "initial backfill", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls == 1
	})

	e.SetWindow(domain.Window{Mode: domain.ModeCustom, Start: time.UnixMilli(1000)})
	waitUntil(t, nil, 0, "window applied", func() bool {
		return e.Snapshot().Window.Mode == domain.ModeCustom
	})

	time.Sleep(10 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Fatalf("a custom window missing a bound must not fetch, got %d calls", calls)
	}
}

func TestEngineResetToLiveRestoresDefaults(t *testing.T) {
	clock := NewManualClock(time.UnixMilli(0))
	source := &stubSource{
		live: func(_ context.Context, _ string) (ports.LiveReading, error) {
			return goodReading(1, time.Time{})
		},
	}

	e := New(testConfig(), source, clock, stubObs{})
	if err := e.Start([]domain.MetricDescriptor{metric("a")}, domain.Window{}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer e.Stop()

	e.SetWindow(domain.Window{Mode: domain.ModeCustom, Start: time.UnixMilli(0), End: time.UnixMilli(1000)})
	waitUntil(t, nil, 0, "custom window", func() bool {
		return e.Snapshot().Window.Mode == domain.ModeCustom
	})

	e.ResetToLive()
	waitUntil(t, nil, 0, "live window restored", func() bool {
		snap := e.Snapshot()
		return snap.Window.Mode == domain.ModeLive && snap.Window.Duration == 30*time.Second
	})

	// trimming resumes: rows track the trailing window again
	waitUntil(t, clock, time.Second, "live rows after reset", func() bool {
		return len(e.Snapshot().Rows) > 0
	})
	snap := e.Snapshot()
	cutoff := snap.Window.End.Add(-snap.Window.Duration)
	for _, row := range snap.Rows {
		if row.Timestamp.Before(cutoff) {
			t.Fatalf("rolling trim did not resume after reset: row %v, cutoff %v", row.Timestamp, cutoff)
		}
	}
}

func TestEngineSetLiveDurationRefetches(t *testing.T) {
	clock := NewManualClock(time.UnixMilli(0))
	var (
		mu    sync.Mutex
		calls int
	)
	source := &stubSource{
		live: func(_ context.Context, _ string) (ports.LiveReading, error) {
			return goodReading(1, time.Time{})
		},
		agg: func(_ context.Context, _ string, _, _ time.Time) ([]domain.AggregatePoint, error) {
			mu.Lock()
			calls++
			mu.Unlock()
			return nil, nil
		},
	}

	e := New(testConfig(), source, clock, stubObs{})
	if err := e.Start([]domain.MetricDescriptor{metric("a")}, domain.Window{}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer e.Stop()

	waitUntil(t, nil, 0, "initial backfill", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls == 1
	})

	e.SetLiveDuration(10 * time.Second)

	waitUntil(t, nil, 0, "new duration applied with a refetch", func() bool {
		mu.Lock()
		refetched := calls == 2
		mu.Unlock()
		snap := e.Snapshot()
		return refetched && snap.Window.Mode == domain.ModeLive && snap.Window.Duration == 10*time.Second
	})

	waitUntil(t, clock, time.Second, "trim against the new duration", func() bool {
		return len(e.Snapshot().Rows) > 0
	})
	snap := e.Snapshot()
	cutoff := snap.Window.End.Add(-10 * time.Second)
	for _, row := range snap.Rows {
		if row.Timestamp.Before(cutoff) {
			t.Fatalf("row %v outside the shortened window (cutoff %v)", row.Timestamp, cutoff)
		}
	}

	// reset restores the configured default, not the last override
	e.ResetToLive()
	waitUntil(t, nil, 0, "default duration restored", func() bool {
		return e.Snapshot().Window.Duration == 30*time.Second
	})
}

func TestEngineUpdateMetricsPrunesAndBackfillsIncrementally(t *testing.T) {
	clock := NewManualClock(time.UnixMilli(0))
	var (
		mu   sync.Mutex
		refs []string
	)
	source := &stubSource{
		live: func(_ context.Context, _ string) (ports.LiveReading, error) {
			return goodReading(1, time.Time{})
		},
		agg: func(_ context.Context, ref string, start, _ time.Time) ([]domain.AggregatePoint, error) {
			mu.Lock()
			refs = append(refs, ref)
			mu.Unlock()
			return []domain.AggregatePoint{{Timestamp: start.Add(time.Second), Value: 5}}, nil
		},
	}

	e := New(testConfig(), source, clock, stubObs{})
	if err := e.Start([]domain.MetricDescriptor{metric("a"), metric("b")}, domain.Window{}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer e.Stop()

	waitUntil(t, clock, time.Second, "live data and initial backfill for both metrics", func() bool {
		s := e.Snapshot()
		mu.Lock()
		backfilled := len(refs) >= 2
		mu.Unlock()
		return s.LastLive["a"].Valid && s.LastLive["b"].Valid && backfilled
	})

	mu.Lock()
	refs = nil
	mu.Unlock()

	e.UpdateMetrics([]domain.MetricDescriptor{metric("a"), metric("c")})

	waitUntil(t, clock, time.Second, "metric set applied", func() bool {
		s := e.Snapshot()
		_, hasB := s.LastLive["b"]
		return !hasB && s.LastLive["c"].Valid
	})

	snap := e.Snapshot()
	for _, row := range snap.Rows {
		if _, ok := row.Values["b"]; ok {
			t.Fatalf("removed metric must be pruned from the series: %+v", row)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	for _, ref := range refs {
		if ref != "ref/c" {
			t.Fatalf("only added metrics get an incremental backfill, saw fetch for %s", ref)
		}
	}
}

func TestEngineSubscribeAndUnsubscribe(t *testing.T) {
	clock := NewManualClock(time.UnixMilli(0))
	source := &stubSource{
		live: func(_ context.Context, _ string) (ports.LiveReading, error) {
			return goodReading(1, time.Time{})
		},
	}

	e := New(testConfig(), source, clock, stubObs{})
	if err := e.Start([]domain.MetricDescriptor{metric("a")}, domain.Window{}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer e.Stop()

	var (
		mu    sync.Mutex
		seen  int
		last  domain.SyncState
		unsub func()
	)
	unsub = e.Subscribe(func(s domain.SyncState) {
		mu.Lock()
		seen++
		last = s
		mu.Unlock()
	})

	waitUntil(t, clock, time.Second, "subscriber notified", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return seen > 0 && len(last.Rows) > 0
	})

	unsub()
	mu.Lock()
	atUnsub := seen
	mu.Unlock()

	clock.Advance(5 * time.Second)
	time.Sleep(10 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	// one late notification can already be in flight when unsubscribing
	if seen > atUnsub+1 {
		t.Fatalf("unsubscribed callback kept firing: %d -> %d", atUnsub, seen)
	}
}

func TestEngineStopFreezesState(t *testing.T) {
	clock := NewManualClock(time.UnixMilli(0))
	source := &stubSource{
		live: func(_ context.Context, _ string) (ports.LiveReading, error) {
			return goodReading(2.5, time.Time{})
		},
	}

	e := New(testConfig(), source, clock, stubObs{})
	if err := e.Start([]domain.MetricDescriptor{metric("a")}, domain.Window{}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	waitUntil(t, clock, time.Second, "some live data", func() bool {
		return len(e.Snapshot().Rows) > 0
	})

	e.Stop()
	e.Stop() // idempotent

	frozen := e.Snapshot()
	if len(frozen.Rows) == 0 {
		t.Fatalf("final snapshot must stay queryable after Stop")
	}

	clock.Advance(time.Minute)
	time.Sleep(10 * time.Millisecond)
	after := e.Snapshot()
	if len(after.Rows) != len(frozen.Rows) || !after.LastUpdated.Equal(frozen.LastUpdated) {
		t.Fatalf("state mutated after Stop: %+v vs %+v", frozen, after)
	}

	rows := e.ExportRows([]string{"a"})
	if len(rows) != len(frozen.Rows) {
		t.Fatalf("ExportRows after Stop should reflect the final series")
	}
}

func TestEngineExportRowsSelectsColumns(t *testing.T) {
	clock := NewManualClock(time.UnixMilli(0))
	source := &stubSource{
		live: func(_ context.Context, ref string) (ports.LiveReading, error) {
			if ref == "ref/a" {
				return goodReading(1, time.Time{})
			}
			return goodReading(2, time.Time{})
		},
	}

	e := New(testConfig(), source, clock, stubObs{})
	if err := e.Start([]domain.MetricDescriptor{metric("a"), metric("b")}, domain.Window{}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer e.Stop()

	waitUntil(t, clock, time.Second, "merged rows", func() bool {
		return len(e.Snapshot().Rows) > 0
	})

	rows := e.ExportRows([]string{"b"})
	if len(rows) == 0 {
		t.Fatalf("expected exported rows")
	}
	for _, row := range rows {
		if _, ok := row.Values["a"]; ok {
			t.Fatalf("export must restrict to the requested metrics: %+v", row)
		}
	}
}
