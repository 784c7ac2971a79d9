package apinet

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const unknownActionLabel = "_unknown"

// Metrics are the Prometheus collectors a Server updates. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	sessions prometheus.Gauge
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	dropped  prometheus.Counter
}

// NewMetrics builds the collectors for the server named server. They must be
// registered before they are exported.
func NewMetrics(server string) *Metrics {
	labels := prometheus.Labels{"server": server}

	return &Metrics{
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "apinet",
			Subsystem:   "server",
			Name:        "sessions",
			Help:        "Live sessions.",
			ConstLabels: labels,
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "apinet",
			Subsystem:   "server",
			Name:        "requests_total",
			Help:        "Dispatched requests by action and outcome.",
			ConstLabels: labels,
		}, []string{"action", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   "apinet",
			Subsystem:   "server",
			Name:        "request_duration_seconds",
			Help:        "Time spent in the host per request.",
			Buckets:     prometheus.DefBuckets,
			ConstLabels: labels,
		}, []string{"action"}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "apinet",
			Subsystem:   "server",
			Name:        "dropped_replies_total",
			Help:        "Replies that could not be written.",
			ConstLabels: labels,
		}),
	}
}

// Register adds the collectors to reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{m.sessions, m.requests, m.duration, m.dropped} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}

	return nil
}

func (m *Metrics) sessionOpened() {
	if m != nil {
		m.sessions.Inc()
	}
}

func (m *Metrics) sessionClosed() {
	if m != nil {
		m.sessions.Dec()
	}
}

// requestDone records one request. Unregistered action names share a single
// label so clients cannot grow the series set.
func (m *Metrics) requestDone(action string, known bool, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}

	if !known {
		action = unknownActionLabel
	}

	m.requests.WithLabelValues(action, outcome).Inc()
	m.duration.WithLabelValues(action).Observe(elapsed.Seconds())
}

func (m *Metrics) replyDropped() {
	if m != nil {
		m.dropped.Inc()
	}
}
