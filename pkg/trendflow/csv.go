package trendflow

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/pratik1724/trendflow/internal/app/engine"
	"github.com/pratik1724/trendflow/internal/ports"
)

// WriteCSV renders merged rows as CSV. The first column is the RFC 3339
// timestamp; remaining columns follow the catalog order, headed by the metric
// label. A metric with no value at a timestamp yields an empty cell, never a
// zero.
func WriteCSV(w io.Writer, rows []TimeSeriesRow, metrics []MetricDescriptor) error {
	cw := csv.NewWriter(w)

	header := make([]string, 0, len(metrics)+1)
	header = append(header, "timestamp")
	for _, m := range metrics {
		header = append(header, m.Label)
	}
	if err := cw.Write(header); err != nil {
		return err
	}

	record := make([]string, len(metrics)+1)
	for _, row := range rows {
		record[0] = row.Timestamp.Format(time.RFC3339Nano)
		for i, m := range metrics {
			if v, ok := row.Values[m.ID]; ok {
				record[i+1] = strconv.FormatFloat(v, 'f', -1, 64)
			} else {
				record[i+1] = ""
			}
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

// ExportCSV fetches aggregates for every cataloged metric over [start, end),
// merges them, and writes the result as CSV. Requests are issued one at a
// time, spaced by the configured stagger delay, matching the engine's own
// fetch discipline. Metrics that fail are skipped; the error of the last
// failure is returned alongside whatever data was written.
func ExportCSV(ctx context.Context, w io.Writer, src AggregateSource, cfg *Config, start, end time.Time) error {
	metrics := cfg.Descriptors()
	series := engine.NewSeries()
	clock := engine.NewSystemClock()

	var lastErr error
	for i, m := range metrics {
		if i > 0 && cfg.Engine.StaggerDelay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-clock.After(cfg.Engine.StaggerDelay.Std()):
			}
		}
		points, err := fetchAggregate(ctx, src, m, cfg, start, end)
		if err != nil {
			lastErr = fmt.Errorf("fetch %s: %w", m.ID, err)
			continue
		}
		series.MergePoints(m.ID, points)
	}

	if err := WriteCSV(w, series.Rows(nil), metrics); err != nil {
		return err
	}
	return lastErr
}

func fetchAggregate(ctx context.Context, src ports.AggregateSource, m MetricDescriptor, cfg *Config, start, end time.Time) ([]AggregatePoint, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, cfg.Engine.FetchTimeout.Std())
	defer cancel()
	return src.ReadAggregate(fetchCtx, m.SourceRef, start, end, cfg.Engine.Resolution.Std(), AggregateKind(cfg.Engine.Aggregate))
}
