package engine

import (
	"sort"
	"time"

	"github.com/pratik1724/trendflow/internal/domain"
)

// Series is the merged trend: a full outer join of every metric's points,
// keyed by exact timestamp. Rows are kept strictly ascending and each
// timestamp appears at most once. Timestamps are deliberately not bucketed
// across metrics; two metrics reporting at different milliseconds form two
// rows. Series is not safe for concurrent use; the engine goroutine is its
// sole owner.
type Series struct {
	rows []domain.TimeSeriesRow
}

func NewSeries() *Series { return &Series{} }

// Set upserts one value. If a row for ts exists the metric's value is
// overwritten in place; otherwise a new row is inserted in sorted position.
// Appending past the last row is the fast path, since live timestamps only
// move forward.
func (s *Series) Set(metricID string, ts time.Time, value float64) {
	n := len(s.rows)
	if n == 0 || ts.After(s.rows[n-1].Timestamp) {
		s.rows = append(s.rows, domain.TimeSeriesRow{
			Timestamp: ts,
			Values:    map[string]float64{metricID: value},
		})
		return
	}

	i := sort.Search(n, func(i int) bool {
		return !s.rows[i].Timestamp.Before(ts)
	})
	if i < n && s.rows[i].Timestamp.Equal(ts) {
		s.rows[i].Values[metricID] = value
		return
	}

	s.rows = append(s.rows, domain.TimeSeriesRow{})
	copy(s.rows[i+1:], s.rows[i:])
	s.rows[i] = domain.TimeSeriesRow{
		Timestamp: ts,
		Values:    map[string]float64{metricID: value},
	}
}

// MergePoints folds a metric's historical points into the series, leaving
// other metrics' values at unrelated timestamps untouched.
func (s *Series) MergePoints(metricID string, points []domain.AggregatePoint) {
	for _, p := range points {
		s.Set(metricID, p.Timestamp, p.Value)
	}
}

// TrimBefore drops every row older than cutoff. Rows are ordered, so this is
// a single boundary search.
func (s *Series) TrimBefore(cutoff time.Time) {
	i := sort.Search(len(s.rows), func(i int) bool {
		return !s.rows[i].Timestamp.Before(cutoff)
	})
	if i == 0 {
		return
	}
	s.rows = append(s.rows[:0], s.rows[i:]...)
}

// RemoveMetric deletes a metric's column; rows left with no values are
// dropped entirely.
func (s *Series) RemoveMetric(metricID string) {
	kept := s.rows[:0]
	for _, row := range s.rows {
		delete(row.Values, metricID)
		if len(row.Values) > 0 {
			kept = append(kept, row)
		}
	}
	s.rows = kept
}

// Reset discards all rows.
func (s *Series) Reset() { s.rows = nil }

func (s *Series) Len() int { return len(s.rows) }

// Rows returns a deep copy so consumers can never mutate engine state.
// metricIDs narrows the columns; nil selects all.
func (s *Series) Rows(metricIDs []string) []domain.TimeSeriesRow {
	var filter map[string]struct{}
	if len(metricIDs) > 0 {
		filter = make(map[string]struct{}, len(metricIDs))
		for _, id := range metricIDs {
			filter[id] = struct{}{}
		}
	}

	out := make([]domain.TimeSeriesRow, 0, len(s.rows))
	for _, row := range s.rows {
		values := make(map[string]float64, len(row.Values))
		for id, v := range row.Values {
			if filter != nil {
				if _, ok := filter[id]; !ok {
					continue
				}
			}
			values[id] = v
		}
		out = append(out, domain.TimeSeriesRow{Timestamp: row.Timestamp, Values: values})
	}
	return out
}
