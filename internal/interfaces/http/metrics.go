package http

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsRegistry exposes the Evolution Scheduler's operational counters
// (§6 "supplemental /metrics endpoint") through a standard Prometheus
// handler.
type MetricsRegistry struct {
	TickDuration      prometheus.Histogram
	BacktestsTotal    *prometheus.CounterVec
	StrategiesByState *prometheus.GaugeVec
	MutationsTotal    prometheus.Counter
	MCNWriteErrors    prometheus.Counter
}

func NewMetricsRegistry() *MetricsRegistry {
	m := &MetricsRegistry{
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "seec",
			Subsystem: "scheduler",
			Name:      "tick_duration_seconds",
			Help:      "Wall-clock duration of one Evolution Scheduler tick.",
			Buckets:   prometheus.DefBuckets,
		}),
		BacktestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "seec",
			Subsystem: "backtest",
			Name:      "runs_total",
			Help:      "Backtest Engine runs, labeled by outcome.",
		}, []string{"outcome"}),
		StrategiesByState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "seec",
			Subsystem: "repository",
			Name:      "strategies",
			Help:      "Strategy count by lifecycle status, sampled each tick.",
		}, []string{"status"}),
		MutationsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "seec",
			Subsystem: "mutator",
			Name:      "children_total",
			Help:      "Accepted mutation children inserted into the repository.",
		}),
		MCNWriteErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "seec",
			Subsystem: "mcn",
			Name:      "write_errors_total",
			Help:      "Failed MCN register/link/record_regime calls.",
		}),
	}
	prometheus.MustRegister(m.TickDuration, m.BacktestsTotal, m.StrategiesByState, m.MutationsTotal, m.MCNWriteErrors)
	return m
}

func (m *MetricsRegistry) Handler() http.Handler {
	return promhttp.Handler()
}

// The methods below satisfy scheduler.MetricsSink without this package
// importing anything scheduler-specific beyond the interface shape.

func (m *MetricsRegistry) ObserveTickDuration(d time.Duration) {
	m.TickDuration.Observe(d.Seconds())
}

func (m *MetricsRegistry) IncBacktestOutcome(outcome string) {
	m.BacktestsTotal.WithLabelValues(outcome).Inc()
}

func (m *MetricsRegistry) IncMutationChildren(n int) {
	m.MutationsTotal.Add(float64(n))
}

func (m *MetricsRegistry) SetStrategyCount(status string, count int) {
	m.StrategiesByState.WithLabelValues(status).Set(float64(count))
}
