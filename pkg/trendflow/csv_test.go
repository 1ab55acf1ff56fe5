package trendflow

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/pratik1724/trendflow/internal/app/config"
)

func TestWriteCSVLeavesMissingCellsEmpty(t *testing.T) {
	base := time.Unix(1_700_000_000, 0).UTC()
	metrics := []MetricDescriptor{
		{ID: "a", Label: "Pressure"},
		{ID: "b", Label: "Flow"},
	}
	rows := []TimeSeriesRow{
		{Timestamp: base, Values: map[string]float64{"a": 1.5}},
		{Timestamp: base.Add(time.Minute), Values: map[string]float64{"a": 2, "b": 3.25}},
		{Timestamp: base.Add(2 * time.Minute), Values: map[string]float64{"b": 0}},
	}

	var buf bytes.Buffer
	if err := WriteCSV(&buf, rows, metrics); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected header plus 3 rows, got %d lines", len(lines))
	}
	if lines[0] != "timestamp,Pressure,Flow" {
		t.Fatalf("unexpected header %q", lines[0])
	}
	if !strings.HasSuffix(lines[1], ",1.5,") {
		t.Fatalf("row missing b should end with empty cell, got %q", lines[1])
	}
	if !strings.HasSuffix(lines[2], ",2,3.25") {
		t.Fatalf("full row malformed, got %q", lines[2])
	}
	// A stored zero is a value, not a gap.
	if !strings.HasSuffix(lines[3], ",,0") {
		t.Fatalf("zero value must be rendered, got %q", lines[3])
	}
}

func TestWriteCSVEmptyRows(t *testing.T) {
	var buf bytes.Buffer
	metrics := []MetricDescriptor{{ID: "a", Label: "A"}}
	if err := WriteCSV(&buf, nil, metrics); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}
	if got := strings.TrimSpace(buf.String()); got != "timestamp,A" {
		t.Fatalf("expected bare header, got %q", got)
	}
}

func TestExportCSVMergesAndReportsFailures(t *testing.T) {
	base := time.Unix(1_700_000_000, 0).UTC()
	cfg := testRuntimeConfig()
	cfg.Metrics = []MetricConfig{
		{ID: "a", SourceRef: "ref/a", Label: "A"},
		{ID: "b", SourceRef: "ref/b", Label: "B"},
		{ID: "c", SourceRef: "ref/c", Label: "C"},
	}

	src := &stubSource{agg: func(_ context.Context, ref string, _, _ time.Time, _ time.Duration, _ AggregateKind) ([]AggregatePoint, error) {
		switch ref {
		case "ref/a":
			return []AggregatePoint{{Timestamp: base, Value: 1}, {Timestamp: base.Add(time.Minute), Value: 2}}, nil
		case "ref/b":
			return nil, ErrUnavailable
		default:
			return []AggregatePoint{{Timestamp: base, Value: 9}}, nil
		}
	}}

	var buf bytes.Buffer
	err := ExportCSV(context.Background(), &buf, src, cfg, base, base.Add(time.Hour))
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected the fetch failure to surface, got %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header plus 2 merged rows, got %d lines", len(lines))
	}
	if lines[0] != "timestamp,A,B,C" {
		t.Fatalf("unexpected header %q", lines[0])
	}
	// Failed metric leaves its column empty on every row.
	if !strings.HasSuffix(lines[1], ",1,,9") {
		t.Fatalf("first row malformed, got %q", lines[1])
	}
	if !strings.HasSuffix(lines[2], ",2,,") {
		t.Fatalf("second row malformed, got %q", lines[2])
	}
}

func TestExportCSVHonorsCancellation(t *testing.T) {
	cfg := testRuntimeConfig()
	cfg.Engine.StaggerDelay = config.Duration(time.Minute)
	cfg.Metrics = []MetricConfig{
		{ID: "a", SourceRef: "ref/a", Label: "A"},
		{ID: "b", SourceRef: "ref/b", Label: "B"},
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var buf bytes.Buffer
	err := ExportCSV(ctx, &buf, &stubSource{}, cfg, time.Unix(0, 0), time.Unix(1, 0))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context error, got %v", err)
	}
}
