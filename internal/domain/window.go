package domain

import "time"

// WindowMode selects how the active time range is anchored.
type WindowMode string

const (
	ModeLive       WindowMode = "live"
	ModeHistorical WindowMode = "historical"
	ModeCustom     WindowMode = "custom"
)

// Window is the active time range governing which trend data is fetched and
// retained. In live mode End tracks "now" and Start trails it by Duration; in
// historical and custom modes Start/End are fixed bounds.
type Window struct {
	Mode     WindowMode    `json:"mode"`
	Start    time.Time     `json:"start,omitempty"`
	End      time.Time     `json:"end,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
}

// Live returns a trailing window ending at now.
func LiveWindow(now time.Time, d time.Duration) Window {
	return Window{Mode: ModeLive, Start: now.Add(-d), End: now, Duration: d}
}

// Complete reports whether the window has enough information to drive a
// historical fetch. A custom window with a missing bound is incomplete and
// must not trigger any fetch.
func (w Window) Complete() bool {
	switch w.Mode {
	case ModeLive:
		return w.Duration > 0
	case ModeHistorical, ModeCustom:
		return !w.Start.IsZero() && !w.End.IsZero() && w.End.After(w.Start)
	default:
		return false
	}
}

// SyncState is the consumer-visible snapshot of the engine: the merged and
// trimmed trend series, the last known live value per metric, per-metric
// error text, and the active window. Snapshots are copies; consumers never
// observe engine-internal state directly.
type SyncState struct {
	Rows         []TimeSeriesRow       `json:"rows"`
	LastLive     map[string]LiveSample `json:"last_live"`
	MetricErrors map[string]string     `json:"metric_errors,omitempty"`
	Window       Window                `json:"window"`
	LastUpdated  time.Time             `json:"last_updated,omitempty"`
}
