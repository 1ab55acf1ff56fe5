package trendflow

import (
	"context"
	"io"
	"time"

	"go.uber.org/zap"

	base "github.com/pratik1724/trendflow/pkg/trendflow"
)

// Re-exported errors for convenience.
var (
	ErrUnavailable = base.ErrUnavailable
	ErrNotFound    = base.ErrNotFound
	ErrTimeout     = base.ErrTimeout
	ErrNoMetrics   = base.ErrNoMetrics
)

// Type aliases so consumers can import github.com/pratik1724/trendflow directly.
type (
	Config           = base.Config
	EngineConfig     = base.EngineConfig
	Duration         = base.Duration
	SourceConfig     = base.SourceConfig
	OPCUAConfig      = base.OPCUAConfig
	TimescaleConfig  = base.TimescaleConfig
	MetricConfig     = base.MetricConfig
	ServerConfig     = base.ServerConfig
	Runtime          = base.Runtime
	RuntimeOption    = base.RuntimeOption
	MetricDescriptor = base.MetricDescriptor
	LiveSample       = base.LiveSample
	AggregatePoint   = base.AggregatePoint
	AggregateKind    = base.AggregateKind
	Quality          = base.Quality
	TimeSeriesRow    = base.TimeSeriesRow
	Window           = base.Window
	WindowMode       = base.WindowMode
	SyncState        = base.SyncState
	LiveReading      = base.LiveReading
	LiveSource       = base.LiveSource
	AggregateSource  = base.AggregateSource
	TelemetrySource  = base.TelemetrySource
	Observability    = base.Observability
	Clock            = base.Clock
)

// Window modes and aggregate kinds.
const (
	ModeLive       = base.ModeLive
	ModeHistorical = base.ModeHistorical
	ModeCustom     = base.ModeCustom

	AggregateAvg = base.AggregateAvg
	AggregateMin = base.AggregateMin
	AggregateMax = base.AggregateMax
)

// Config helpers.
func LoadConfig(path string) (*Config, error) {
	return base.LoadConfig(path)
}

// Runtime constructors and options.
func NewRuntime(cfg *Config, opts ...RuntimeOption) (*Runtime, error) {
	return base.NewRuntime(cfg, opts...)
}

func WithSource(s TelemetrySource) RuntimeOption {
	return base.WithSource(s)
}

func WithObservability(obs Observability) RuntimeOption {
	return base.WithObservability(obs)
}

func WithClock(c Clock) RuntimeOption {
	return base.WithClock(c)
}

func WithLogger(log *zap.Logger) RuntimeOption {
	return base.WithLogger(log)
}

// OpenSource builds and connects the configured telemetry source for
// one-shot use.
func OpenSource(ctx context.Context, cfg *Config) (TelemetrySource, func(context.Context) error, error) {
	return base.OpenSource(ctx, cfg)
}

// Export helpers.
func WriteCSV(w io.Writer, rows []TimeSeriesRow, metrics []MetricDescriptor) error {
	return base.WriteCSV(w, rows, metrics)
}

func ExportCSV(ctx context.Context, w io.Writer, src AggregateSource, cfg *Config, start, end time.Time) error {
	return base.ExportCSV(ctx, w, src, cfg, start, end)
}
