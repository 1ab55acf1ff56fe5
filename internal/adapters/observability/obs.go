package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/pratik1724/trendflow/internal/ports"
)

// Obs backs the Observability port with Prometheus metrics and zap logs.
type Obs struct {
	log      *zap.Logger
	counters map[string]prometheus.Counter
	gauges   map[string]prometheus.Gauge
	histos   map[string]prometheus.Observer
}

// New registers the engine's metrics on the default registry. Call once per
// process.
func New(log *zap.Logger) *Obs {
	if log == nil {
		log = zap.NewNop()
	}

	polls := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "trendflow_live_polls_total",
		Help: "Completed live poll ticks.",
	})
	liveErrors := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "trendflow_live_errors_total",
		Help: "Failed per-metric live value fetches.",
	})
	aggErrors := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "trendflow_aggregate_errors_total",
		Help: "Failed per-metric aggregate fetches.",
	})
	stale := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "trendflow_stale_results_total",
		Help: "Fetch results discarded because their generation was superseded.",
	})
	rows := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "trendflow_rows",
		Help: "Rows currently held in the merged trend series.",
	})
	subscribed := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "trendflow_subscribed_metrics",
		Help: "Metrics in the active subscription set.",
	})
	tickLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "trendflow_live_tick_seconds",
		Help:    "Wall time to settle all live fetches of one tick.",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
	})

	prometheus.MustRegister(polls, liveErrors, aggErrors, stale, rows, subscribed, tickLatency)

	return &Obs{
		log: log,
		counters: map[string]prometheus.Counter{
			"trendflow_live_polls_total":      polls,
			"trendflow_live_errors_total":     liveErrors,
			"trendflow_aggregate_errors_total": aggErrors,
			"trendflow_stale_results_total":   stale,
		},
		gauges: map[string]prometheus.Gauge{
			"trendflow_rows":               rows,
			"trendflow_subscribed_metrics": subscribed,
		},
		histos: map[string]prometheus.Observer{
			"trendflow_live_tick_seconds": tickLatency,
		},
	}
}

func (o *Obs) LogInfo(msg string, fields ...ports.Field) {
	o.log.Info(msg, zapFields(fields)...)
}

func (o *Obs) LogError(msg string, err error, fields ...ports.Field) {
	o.log.Error(msg, append(zapFields(fields), zap.Error(err))...)
}

func (o *Obs) IncCounter(name string, v float64) {
	if c, ok := o.counters[name]; ok {
		c.Add(v)
	}
}

func (o *Obs) ObserveLatency(name string, seconds float64) {
	if h, ok := o.histos[name]; ok {
		h.Observe(seconds)
	}
}

func (o *Obs) SetGauge(name string, v float64) {
	if g, ok := o.gauges[name]; ok {
		g.Set(v)
	}
}

func zapFields(fields []ports.Field) []zap.Field {
	if len(fields) == 0 {
		return nil
	}
	out := make([]zap.Field, 0, len(fields))
	for _, f := range fields {
		out = append(out, zap.Any(f.Key, f.Value))
	}
	return out
}

var _ ports.Observability = (*Obs)(nil)
