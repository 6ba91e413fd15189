package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Operation results recorded as the "result" label.
const (
	ResultOK       = "ok"
	ResultError    = "error"
	ResultNotFound = "not_found"
	ResultCorrupt  = "corrupt"
)

// Metrics collects store operation counters, latencies and the entry gauge.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	entries    prometheus.Gauge
}

// NewMetrics creates the collectors and registers them on reg.
// A nil reg leaves the collectors unregistered.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pinsession",
			Name:      "operations_total",
			Help:      "Session store operations by operation and result.",
		}, []string{"op", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "pinsession",
			Name:      "operation_duration_seconds",
			Help:      "Session store operation latency.",
			Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1},
		}, []string{"op"}),
		entries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pinsession",
			Name:      "entries",
			Help:      "Stored session records as of the last stats or cleanup call.",
		}),
	}
	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{m.operations, m.duration, m.entries} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Observe records one operation that started at start.
func (m *Metrics) Observe(op string, start time.Time, result string) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(op, result).Inc()
	m.duration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// SetEntries updates the entry gauge.
func (m *Metrics) SetEntries(n int) {
	if m == nil {
		return
	}
	m.entries.Set(float64(n))
}

// Operations exposes the counter vector for tests and exporters.
func (m *Metrics) Operations() *prometheus.CounterVec {
	return m.operations
}

// Entries exposes the entry gauge.
func (m *Metrics) Entries() prometheus.Gauge {
	return m.entries
}
