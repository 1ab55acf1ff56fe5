package domain

import (
	"encoding/json"
	"time"
)

// MetricDescriptor identifies one process variable in the catalog. It is
// immutable after configuration; SourceRef is opaque to the engine and only
// meaningful to the telemetry source adapter (an OPC UA node id, a SQL series
// key, etc.).
type MetricDescriptor struct {
	ID        string `json:"id"`
	SourceRef string `json:"source_ref"`
	Label     string `json:"label"`
	Unit      string `json:"unit"`
}

// Quality is the per-sample status flag, independent of the numeric value.
type Quality uint8

const (
	QualityUnknown Quality = iota
	QualityGood
	QualityWarn
	QualityBad
)

func (q Quality) String() string {
	switch q {
	case QualityGood:
		return "GOOD"
	case QualityWarn:
		return "WARN"
	case QualityBad:
		return "BAD"
	default:
		return "UNKNOWN"
	}
}

func (q Quality) MarshalJSON() ([]byte, error) {
	return json.Marshal(q.String())
}

// LiveSample is the most recent instantaneous reading for a metric. Valid is
// false when the source reported no numeric value (or the fetch failed);
// consumers must not read Value in that case.
type LiveSample struct {
	MetricID  string    `json:"metric_id"`
	Timestamp time.Time `json:"ts"`
	Value     float64   `json:"value"`
	Valid     bool      `json:"valid"`
	Quality   Quality   `json:"quality"`
}

// AggregatePoint is one historical summarized value for a metric.
type AggregatePoint struct {
	Timestamp time.Time `json:"ts"`
	Value     float64   `json:"value"`
}

// AggregateKind selects the summary applied to historical data.
type AggregateKind string

const (
	AggregateAvg AggregateKind = "avg"
	AggregateMin AggregateKind = "min"
	AggregateMax AggregateKind = "max"
)

// TimeSeriesRow is one row of the merged series: a unique timestamp plus the
// values of whichever metrics reported at exactly that timestamp. A metric
// absent at a timestamp is absent from the map, never zero-filled.
type TimeSeriesRow struct {
	Timestamp time.Time          `json:"ts"`
	Values    map[string]float64 `json:"values"`
}
