package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pratik1724/trendflow/internal/domain"
	"github.com/pratik1724/trendflow/internal/ports"
)

// Config carries every engine tunable explicitly; there are no package-level
// defaults read at runtime.
type Config struct {
	PollInterval    time.Duration
	StaggerDelay    time.Duration
	RefreshInterval time.Duration
	FetchTimeout    time.Duration
	LiveDuration    time.Duration
	Resolution      time.Duration
	Aggregate       domain.AggregateKind
}

func (c *Config) applyDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 10 * time.Second
	}
	if c.StaggerDelay <= 0 {
		c.StaggerDelay = 150 * time.Millisecond
	}
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = time.Minute
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 5 * time.Second
	}
	if c.LiveDuration <= 0 {
		c.LiveDuration = time.Hour
	}
	if c.Resolution <= 0 {
		c.Resolution = time.Minute
	}
	if c.Aggregate == "" {
		c.Aggregate = domain.AggregateAvg
	}
}

// Engine coordinates the live poller, the aggregate fetcher, the merged
// series, and the window. All state is owned by a single goroutine; every
// mutation arrives as a message on that goroutine's channels, so consumers
// and in-flight fetches never touch shared state directly.
type Engine struct {
	cfg    Config
	source ports.TelemetrySource
	clock  ports.Clock
	obs    ports.Observability

	cmds    chan func()
	pollCh  chan pollResult
	fetchCh chan fetchUpdate

	// owned by the run loop
	metrics      []domain.MetricDescriptor
	series       *Series
	windows      *windowManager
	lastLive     map[string]domain.LiveSample
	metricErrors map[string]string
	lastUpdated  time.Time
	subs         map[uuid.UUID]func(domain.SyncState)
	pollGen      uint64
	pollCancel   context.CancelFunc
	fetchCancel  context.CancelFunc

	mu        sync.Mutex
	started   bool
	stopped   bool
	final     domain.SyncState
	runCtx    context.Context
	runCancel context.CancelFunc
	done      chan struct{}
}

func New(cfg Config, source ports.TelemetrySource, clock ports.Clock, obs ports.Observability) *Engine {
	cfg.applyDefaults()
	return &Engine{
		cfg:          cfg,
		source:       source,
		clock:        clock,
		obs:          obs,
		cmds:         make(chan func()),
		pollCh:       make(chan pollResult),
		fetchCh:      make(chan fetchUpdate),
		series:       NewSeries(),
		windows:      newWindowManager(cfg.LiveDuration),
		lastLive:     make(map[string]domain.LiveSample),
		metricErrors: make(map[string]string),
		subs:         make(map[uuid.UUID]func(domain.SyncState)),
		done:         make(chan struct{}),
	}
}

// Start begins live polling and, when the window allows it, the initial
// historical backfill. An empty catalog is the one hard precondition failure.
func (e *Engine) Start(metrics []domain.MetricDescriptor, win domain.Window) error {
	if len(metrics) == 0 {
		return domain.ErrNoMetrics
	}

	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return fmt.Errorf("engine already started")
	}
	e.started = true
	ctx, cancel := context.WithCancel(context.Background())
	e.runCtx = ctx
	e.runCancel = cancel
	e.mu.Unlock()

	now := e.clock.Now()
	e.metrics = append([]domain.MetricDescriptor(nil), metrics...)
	if win.Mode == "" {
		e.windows.resetToLive(now)
	} else {
		e.windows.set(win, now)
	}
	e.obs.SetGauge("trendflow_subscribed_metrics", float64(len(e.metrics)))

	e.restartPoller(ctx)
	e.startFetch(ctx, e.metrics)

	go e.loop(ctx)

	e.obs.LogInfo("engine_started",
		ports.Field{Key: "metrics", Value: len(e.metrics)},
		ports.Field{Key: "mode", Value: string(e.windows.window().Mode)})
	return nil
}

// Stop cancels every scheduled task and blocks until the run loop has exited.
// It is safe to call more than once. No state mutation happens after Stop
// returns; the last snapshot remains queryable.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.started || e.stopped {
		e.mu.Unlock()
		return
	}
	e.stopped = true
	cancel := e.runCancel
	e.mu.Unlock()

	cancel()
	<-e.done
}

// SetWindow switches mode and/or bounds per the window state machine. Any
// in-flight aggregate sequence is fenced off; a complete window triggers a
// fresh backfill.
func (e *Engine) SetWindow(win domain.Window) {
	e.send(func() { e.applyWindow(win) })
}

// ResetToLive restores the default trailing live window and triggers a fresh
// backfill, resuming the rolling trim.
func (e *Engine) ResetToLive() {
	e.send(func() {
		e.windows.resetToLive(e.clock.Now())
		e.windows.bump()
		e.series.Reset()
		e.restartPollerFromLoop()
		e.startFetchFromLoop(e.metrics)
		e.notify()
	})
}

// SetLiveDuration changes the trailing window length. In live mode this
// resets the series and refetches for the new duration, like any other window
// change. The configured default duration is untouched; ResetToLive still
// restores it.
func (e *Engine) SetLiveDuration(d time.Duration) {
	e.send(func() { e.applyWindow(domain.Window{Mode: domain.ModeLive, Duration: d}) })
}

// UpdateMetrics diffs the subscribed set: removed metrics are pruned from
// state, added metrics get an incremental backfill for the active window.
func (e *Engine) UpdateMetrics(metrics []domain.MetricDescriptor) {
	next := append([]domain.MetricDescriptor(nil), metrics...)
	e.send(func() { e.applyMetrics(next) })
}

// Subscribe registers a change callback invoked with a read-only snapshot
// after every state mutation. Callbacks run on the engine goroutine and must
// not call back into the engine. The returned function unsubscribes.
func (e *Engine) Subscribe(fn func(domain.SyncState)) func() {
	id := uuid.New()
	e.send(func() { e.subs[id] = fn })
	return func() {
		e.send(func() { delete(e.subs, id) })
	}
}

// Snapshot returns a copy of the current SyncState.
func (e *Engine) Snapshot() domain.SyncState {
	reply := make(chan domain.SyncState, 1)
	if e.send(func() { reply <- e.snapshot() }) {
		select {
		case s := <-reply:
			return s
		case <-e.done:
		}
	}
	return e.finalState()
}

// ExportRows returns the merged, trimmed series restricted to the given
// metrics (all when empty). Absent values stay absent, never zero.
func (e *Engine) ExportRows(metricIDs []string) []domain.TimeSeriesRow {
	reply := make(chan []domain.TimeSeriesRow, 1)
	if e.send(func() { reply <- e.series.Rows(metricIDs) }) {
		select {
		case rows := <-reply:
			return rows
		case <-e.done:
		}
	}
	return filterRows(e.finalState().Rows, metricIDs)
}

// finalState waits out a shutdown in progress and returns the last snapshot.
func (e *Engine) finalState() domain.SyncState {
	e.mu.Lock()
	started := e.started
	e.mu.Unlock()
	if started {
		<-e.done
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.final
}

// send schedules fn on the run loop; false means the engine is not running.
func (e *Engine) send(fn func()) bool {
	e.mu.Lock()
	if !e.started || e.stopped {
		e.mu.Unlock()
		return false
	}
	e.mu.Unlock()

	select {
	case e.cmds <- fn:
		return true
	case <-e.done:
		return false
	}
}

func (e *Engine) loop(ctx context.Context) {
	refresh := e.clock.NewTicker(e.cfg.RefreshInterval)
	defer refresh.Stop()

	for {
		select {
		case <-ctx.Done():
			e.shutdown()
			return
		case fn := <-e.cmds:
			fn()
		case res := <-e.pollCh:
			e.applyPoll(res)
		case upd := <-e.fetchCh:
			e.applyFetch(upd)
		case <-refresh.C():
			// keep historical aggregates current; same fencing rules as
			// any other sequence
			e.startFetchFromLoop(e.metrics)
		}
	}
}

func (e *Engine) shutdown() {
	if e.pollCancel != nil {
		e.pollCancel()
	}
	if e.fetchCancel != nil {
		e.fetchCancel()
	}

	final := e.snapshot()

	e.mu.Lock()
	e.final = final
	e.stopped = true
	e.mu.Unlock()

	// release the caches; the final snapshot above is all that survives
	e.lastLive = make(map[string]domain.LiveSample)
	e.metricErrors = make(map[string]string)
	e.series.Reset()

	close(e.done)
	e.obs.LogInfo("engine_stopped")
}

func (e *Engine) applyPoll(res pollResult) {
	if res.gen != e.pollGen {
		e.obs.IncCounter("trendflow_stale_results_total", 1)
		return
	}

	anyGood := false
	for id, sample := range res.samples {
		if !sample.Valid {
			// keep the last good value visible; only the quality degrades
			if prev, ok := e.lastLive[id]; ok && prev.Valid {
				prev.Quality = sample.Quality
				e.lastLive[id] = prev
			} else {
				e.lastLive[id] = sample
			}
			continue
		}
		e.lastLive[id] = sample
		anyGood = true
		if e.windows.isLive() {
			// synthetic row at the tick's timestamp
			e.series.Set(id, res.tick, sample.Value)
		}
	}
	if anyGood {
		e.lastUpdated = res.tick
	}

	if cutoff, ok := e.windows.advance(res.tick); ok {
		e.series.TrimBefore(cutoff)
	}
	e.obs.SetGauge("trendflow_rows", float64(e.series.Len()))
	e.notify()
}

func (e *Engine) applyFetch(upd fetchUpdate) {
	if upd.gen != e.windows.generation() {
		e.obs.IncCounter("trendflow_stale_results_total", 1)
		return
	}

	if upd.err != nil {
		// the metric keeps its last good data; only the error text changes
		e.metricErrors[upd.metricID] = upd.err.Error()
	} else {
		delete(e.metricErrors, upd.metricID)
		e.series.MergePoints(upd.metricID, upd.points)
	}
	e.obs.SetGauge("trendflow_rows", float64(e.series.Len()))
	e.notify()
}

func (e *Engine) applyWindow(win domain.Window) {
	now := e.clock.Now()
	e.windows.set(win, now)
	e.windows.bump()

	if _, _, ok := e.windows.fetchRange(now); ok {
		e.series.Reset()
		e.startFetchFromLoop(e.metrics)
	} else {
		// incomplete custom bounds: no fetch until both are present
		e.cancelFetch()
	}
	e.notify()
}

func (e *Engine) applyMetrics(next []domain.MetricDescriptor) {
	current := make(map[string]struct{}, len(e.metrics))
	for _, m := range e.metrics {
		current[m.ID] = struct{}{}
	}

	var added []domain.MetricDescriptor
	keep := make(map[string]struct{}, len(next))
	for _, m := range next {
		keep[m.ID] = struct{}{}
		if _, ok := current[m.ID]; !ok {
			added = append(added, m)
		}
	}
	for id := range current {
		if _, ok := keep[id]; !ok {
			e.series.RemoveMetric(id)
			delete(e.lastLive, id)
			delete(e.metricErrors, id)
		}
	}

	e.metrics = next
	e.obs.SetGauge("trendflow_subscribed_metrics", float64(len(e.metrics)))

	e.restartPollerFromLoop()

	// fence any sequence still running against the old set, then backfill
	// only the newcomers; the refresh tick covers the rest
	e.windows.bump()
	e.cancelFetch()
	if len(added) > 0 {
		e.startFetchFromLoop(added)
	}
	e.notify()
}

func (e *Engine) restartPollerFromLoop() {
	e.restartPoller(e.runCtx)
}

func (e *Engine) startFetchFromLoop(metrics []domain.MetricDescriptor) {
	e.startFetch(e.runCtx, metrics)
}

func (e *Engine) restartPoller(ctx context.Context) {
	if e.pollCancel != nil {
		e.pollCancel()
	}
	e.pollGen++

	pollCtx, cancel := context.WithCancel(ctx)
	e.pollCancel = cancel

	p := &poller{
		source:   e.source,
		clock:    e.clock,
		interval: e.cfg.PollInterval,
		timeout:  e.cfg.FetchTimeout,
		obs:      e.obs,
	}
	metrics := append([]domain.MetricDescriptor(nil), e.metrics...)
	go p.run(pollCtx, e.pollGen, metrics, e.pollCh)
}

func (e *Engine) startFetch(ctx context.Context, metrics []domain.MetricDescriptor) {
	e.cancelFetch()

	now := e.clock.Now()
	start, end, ok := e.windows.fetchRange(now)
	if !ok || len(metrics) == 0 {
		return
	}

	fetchCtx, cancel := context.WithCancel(ctx)
	e.fetchCancel = cancel

	f := &fetcher{
		source:     e.source,
		clock:      e.clock,
		stagger:    e.cfg.StaggerDelay,
		timeout:    e.cfg.FetchTimeout,
		resolution: e.cfg.Resolution,
		kind:       e.cfg.Aggregate,
		obs:        e.obs,
	}
	seq := append([]domain.MetricDescriptor(nil), metrics...)
	go f.run(fetchCtx, e.windows.generation(), seq, start, end, e.fetchCh)
}

func (e *Engine) cancelFetch() {
	if e.fetchCancel != nil {
		e.fetchCancel()
		e.fetchCancel = nil
	}
}

func (e *Engine) snapshot() domain.SyncState {
	lastLive := make(map[string]domain.LiveSample, len(e.lastLive))
	for id, s := range e.lastLive {
		lastLive[id] = s
	}
	var metricErrors map[string]string
	if len(e.metricErrors) > 0 {
		metricErrors = make(map[string]string, len(e.metricErrors))
		for id, msg := range e.metricErrors {
			metricErrors[id] = msg
		}
	}
	return domain.SyncState{
		Rows:         e.series.Rows(nil),
		LastLive:     lastLive,
		MetricErrors: metricErrors,
		Window:       e.windows.window(),
		LastUpdated:  e.lastUpdated,
	}
}

func (e *Engine) notify() {
	if len(e.subs) == 0 {
		return
	}
	snap := e.snapshot()
	for _, fn := range e.subs {
		fn(snap)
	}
}

func filterRows(rows []domain.TimeSeriesRow, metricIDs []string) []domain.TimeSeriesRow {
	if len(metricIDs) == 0 {
		return rows
	}
	filter := make(map[string]struct{}, len(metricIDs))
	for _, id := range metricIDs {
		filter[id] = struct{}{}
	}
	out := make([]domain.TimeSeriesRow, 0, len(rows))
	for _, row := range rows {
		values := make(map[string]float64, len(row.Values))
		for id, v := range row.Values {
			if _, ok := filter[id]; ok {
				values[id] = v
			}
		}
		out = append(out, domain.TimeSeriesRow{Timestamp: row.Timestamp, Values: values})
	}
	return out
}
