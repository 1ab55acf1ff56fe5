package trendflow

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/pratik1724/trendflow/internal/adapters/observability"
	"github.com/pratik1724/trendflow/internal/adapters/opcua"
	"github.com/pratik1724/trendflow/internal/adapters/stream"
	"github.com/pratik1724/trendflow/internal/adapters/timescale"
	"github.com/pratik1724/trendflow/internal/app/config"
	"github.com/pratik1724/trendflow/internal/app/engine"
	"github.com/pratik1724/trendflow/internal/domain"
	"github.com/pratik1724/trendflow/internal/ports"
)

// RuntimeOption customizes the dependencies used by Runtime.
type RuntimeOption func(*runtimeOverrides)

type runtimeOverrides struct {
	source ports.TelemetrySource
	obs    ports.Observability
	clock  ports.Clock
	logger *zap.Logger
}

// WithSource injects a custom telemetry source (simulators, REST gateways,
// historians) in place of the configured OPC UA / Timescale adapters.
func WithSource(s TelemetrySource) RuntimeOption {
	return func(o *runtimeOverrides) { o.source = s }
}

// WithObservability plugs in a custom observability backend.
func WithObservability(obs Observability) RuntimeOption {
	return func(o *runtimeOverrides) { o.obs = obs }
}

// WithClock overrides the scheduler, letting tests drive virtual time.
func WithClock(c Clock) RuntimeOption {
	return func(o *runtimeOverrides) { o.clock = c }
}

// WithLogger sets the zap logger used by the default adapters.
func WithLogger(log *zap.Logger) RuntimeOption {
	return func(o *runtimeOverrides) { o.logger = log }
}

// Runtime wires the telemetry source, the sync engine, and the HTTP surface
// (/metrics, /healthz, /state, /stream) into one embeddable unit.
type Runtime struct {
	cfg    *config.Config
	log    *zap.Logger
	obs    ports.Observability
	source ports.TelemetrySource
	engine *engine.Engine
	hub    *stream.Hub

	db     *sql.DB
	opc    *opcua.Source
	srv    *http.Server
	unsub  func()
	fwd    chan domain.SyncState
	fwdEnd chan struct{}
}

// NewRuntime bootstraps the default adapters per the configured source kind.
// Options override any dependency.
func NewRuntime(cfg *config.Config, opts ...RuntimeOption) (*Runtime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	var overrides runtimeOverrides
	for _, opt := range opts {
		if opt != nil {
			opt(&overrides)
		}
	}

	log := overrides.logger
	if log == nil {
		var err error
		log, err = zap.NewProduction()
		if err != nil {
			return nil, fmt.Errorf("build logger: %w", err)
		}
	}

	obs := overrides.obs
	if obs == nil {
		obs = observability.New(log)
	}

	clock := overrides.clock
	if clock == nil {
		clock = engine.NewSystemClock()
	}

	r := &Runtime{
		cfg: cfg,
		log: log,
		obs: obs,
		hub: stream.NewHub(),
	}

	src := overrides.source
	if src == nil {
		var err error
		src, err = r.buildSource()
		if err != nil {
			return nil, err
		}
	}
	r.source = src

	r.engine = engine.New(engine.Config{
		PollInterval:    cfg.Engine.PollInterval.Std(),
		StaggerDelay:    cfg.Engine.StaggerDelay.Std(),
		RefreshInterval: cfg.Engine.RefreshInterval.Std(),
		FetchTimeout:    cfg.Engine.FetchTimeout.Std(),
		LiveDuration:    cfg.Engine.LiveWindow.Std(),
		Resolution:      cfg.Engine.Resolution.Std(),
		Aggregate:       domain.AggregateKind(cfg.Engine.Aggregate),
	}, src, clock, obs)

	return r, nil
}

func (r *Runtime) buildSource() (ports.TelemetrySource, error) {
	switch r.cfg.Source.Kind {
	case "opcua":
		src, err := opcua.NewSource(r.cfg.Source.OPCUA)
		if err != nil {
			return nil, err
		}
		r.opc = src
		return src, nil
	case "timescale":
		db, err := sql.Open("postgres", r.cfg.Source.Timescale.ConnString)
		if err != nil {
			return nil, err
		}
		r.db = db
		return timescale.NewSource(db, r.cfg.Source.Timescale.Table), nil
	default:
		return nil, fmt.Errorf("unknown source kind %q", r.cfg.Source.Kind)
	}
}

// OpenSource builds and connects the configured telemetry source without a
// full runtime, for one-shot use such as CSV export. The returned close
// function releases the underlying connection.
func OpenSource(ctx context.Context, cfg *config.Config) (ports.TelemetrySource, func(context.Context) error, error) {
	switch cfg.Source.Kind {
	case "opcua":
		src, err := opcua.NewSource(cfg.Source.OPCUA)
		if err != nil {
			return nil, nil, err
		}
		if err := src.Connect(ctx); err != nil {
			return nil, nil, err
		}
		return src, src.Close, nil
	case "timescale":
		db, err := sql.Open("postgres", cfg.Source.Timescale.ConnString)
		if err != nil {
			return nil, nil, err
		}
		return timescale.NewSource(db, cfg.Source.Timescale.Table), func(context.Context) error { return db.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown source kind %q", cfg.Source.Kind)
	}
}

// Start connects the source, starts the engine in the default live window,
// and brings up the HTTP surface. It returns immediately; use Run to block.
func (r *Runtime) Start(ctx context.Context) error {
	if r.opc != nil {
		if err := r.opc.Connect(ctx); err != nil {
			return err
		}
	}

	if err := r.engine.Start(r.cfg.Descriptors(), domain.Window{}); err != nil {
		return err
	}

	r.startForwarder()
	r.startServer()
	return nil
}

// Run starts the runtime and blocks until the context is cancelled, then
// shuts down gracefully.
func (r *Runtime) Run(ctx context.Context) error {
	if err := r.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return r.Shutdown(shutdownCtx)
}

// Shutdown stops the engine, the stream hub, the HTTP server, and the source.
func (r *Runtime) Shutdown(ctx context.Context) error {
	var errs []error

	if r.unsub != nil {
		r.unsub()
		r.unsub = nil
	}
	r.engine.Stop()
	if r.fwdEnd != nil {
		close(r.fwdEnd)
		r.fwdEnd = nil
	}
	r.hub.Close()

	if r.srv != nil {
		if err := r.srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs = append(errs, err)
		}
	}
	if r.opc != nil {
		if err := r.opc.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if r.db != nil {
		if err := r.db.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// startForwarder bridges engine notifications to the websocket hub through a
// coalescing channel, so a slow client never stalls the engine goroutine.
func (r *Runtime) startForwarder() {
	r.fwd = make(chan domain.SyncState, 1)
	r.fwdEnd = make(chan struct{})

	r.unsub = r.engine.Subscribe(func(s domain.SyncState) {
		for {
			select {
			case r.fwd <- s:
				return
			default:
				select {
				case <-r.fwd:
				default:
				}
			}
		}
	})

	go func() {
		for {
			select {
			case <-r.fwdEnd:
				return
			case s := <-r.fwd:
				payload, err := json.Marshal(s)
				if err != nil {
					r.log.Error("marshal state snapshot", zap.Error(err))
					continue
				}
				r.hub.Broadcast(payload)
			}
		}
	}()
}

func (r *Runtime) startServer() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/state", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(r.engine.Snapshot()); err != nil {
			r.log.Error("encode state", zap.Error(err))
		}
	})
	mux.Handle("/stream", stream.Handler(r.hub, r.log))

	r.srv = &http.Server{
		Addr:    r.cfg.Server.Addr,
		Handler: mux,
	}

	go func() {
		if err := r.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.log.Error("http server exited", zap.Error(err))
		}
	}()
}

// SetWindow switches the engine's mode and range.
func (r *Runtime) SetWindow(win Window) { r.engine.SetWindow(win) }

// ResetToLive restores the default trailing live window.
func (r *Runtime) ResetToLive() { r.engine.ResetToLive() }

// SetLiveDuration changes the trailing window length without leaving live
// mode.
func (r *Runtime) SetLiveDuration(d time.Duration) { r.engine.SetLiveDuration(d) }

// UpdateMetrics replaces the subscribed metric set.
func (r *Runtime) UpdateMetrics(metrics []MetricDescriptor) { r.engine.UpdateMetrics(metrics) }

// Subscribe registers a change callback. See engine.Engine.Subscribe for the
// callback contract.
func (r *Runtime) Subscribe(fn func(SyncState)) func() { return r.engine.Subscribe(fn) }

// Snapshot returns the current engine state.
func (r *Runtime) Snapshot() SyncState { return r.engine.Snapshot() }

// ExportRows returns the merged series restricted to the given metrics.
func (r *Runtime) ExportRows(metricIDs []string) []TimeSeriesRow {
	return r.engine.ExportRows(metricIDs)
}
