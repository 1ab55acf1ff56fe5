package trendflow

import (
	"github.com/pratik1724/trendflow/internal/adapters/opcua"
	"github.com/pratik1724/trendflow/internal/app/config"
	"github.com/pratik1724/trendflow/internal/domain"
	"github.com/pratik1724/trendflow/internal/ports"
)

// Core data shapes, exported so custom sources and consumers can reference
// them without reaching into internal packages.
type (
	// MetricDescriptor identifies one process variable in the catalog.
	MetricDescriptor = domain.MetricDescriptor
	// LiveSample is the latest instantaneous reading for a metric.
	LiveSample = domain.LiveSample
	// AggregatePoint is one historical summarized value.
	AggregatePoint = domain.AggregatePoint
	// AggregateKind selects the summary applied to historical data.
	AggregateKind = domain.AggregateKind
	// Quality is the per-sample status flag.
	Quality = domain.Quality
	// TimeSeriesRow is one row of the merged trend.
	TimeSeriesRow = domain.TimeSeriesRow
	// Window is the active time range and mode.
	Window = domain.Window
	// WindowMode selects live, historical, or custom anchoring.
	WindowMode = domain.WindowMode
	// SyncState is the consumer-visible engine snapshot.
	SyncState = domain.SyncState
)

// Telemetry source ports for callers that bring their own backend.
type (
	LiveReading     = ports.LiveReading
	LiveSource      = ports.LiveSource
	AggregateSource = ports.AggregateSource
	TelemetrySource = ports.TelemetrySource
	Observability   = ports.Observability
	Field           = ports.Field
	Clock           = ports.Clock
)

// Configuration structs, mirroring the YAML layout.
type (
	Config          = config.Config
	EngineConfig    = config.EngineConfig
	Duration        = config.Duration
	SourceConfig    = config.SourceConfig
	TimescaleConfig = config.TimescaleConfig
	MetricConfig    = config.MetricConfig
	ServerConfig    = config.ServerConfig
	OPCUAConfig     = opcua.Config
)

const (
	ModeLive       = domain.ModeLive
	ModeHistorical = domain.ModeHistorical
	ModeCustom     = domain.ModeCustom

	QualityGood    = domain.QualityGood
	QualityWarn    = domain.QualityWarn
	QualityBad     = domain.QualityBad
	QualityUnknown = domain.QualityUnknown

	AggregateAvg = domain.AggregateAvg
	AggregateMin = domain.AggregateMin
	AggregateMax = domain.AggregateMax
)

// Re-exported error taxonomy.
var (
	ErrUnavailable = domain.ErrUnavailable
	ErrNotFound    = domain.ErrNotFound
	ErrTimeout     = domain.ErrTimeout
	ErrNoMetrics   = domain.ErrNoMetrics
)

// LoadConfig loads YAML from disk using the internal config reader.
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}
