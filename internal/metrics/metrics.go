package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "orderengine"

// Job outcomes.
const (
	JobSucceeded    = "succeeded"
	JobRetried      = "retried"
	JobDeadLettered = "dead_lettered"
	JobDuplicate    = "duplicate"
)

// Metrics methods are safe on a nil receiver so components can run without
// collectors in tests.
type Metrics struct {
	Requests           *prometheus.CounterVec
	LatencyMS          *prometheus.HistogramVec
	Jobs               *prometheus.CounterVec
	JobDurationMS      prometheus.Histogram
	Transitions        *prometheus.CounterVec
	InventoryConflicts *prometheus.CounterVec
	IntegrityWarnings  *prometheus.CounterVec
}

func New(reg prometheus.Registerer, service string) *Metrics {
	m := &Metrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: service,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"handler", "status"}),
		LatencyMS: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: service,
			Name:      "http_request_duration_ms",
			Help:      "HTTP request latency in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"handler"}),
		Jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: service,
			Name:      "jobs_total",
			Help:      "Queue jobs by outcome.",
		}, []string{"topic", "outcome"}),
		JobDurationMS: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: service,
			Name:      "job_duration_ms",
			Help:      "Time spent executing a single job attempt.",
			Buckets:   []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: service,
			Name:      "order_transitions_total",
			Help:      "Committed order status transitions.",
		}, []string{"from", "to"}),
		InventoryConflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: service,
			Name:      "inventory_conflicts_total",
			Help:      "Inventory adjustments rejected by the stock floor or a missing product.",
		}, []string{"reason"}),
		IntegrityWarnings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: service,
			Name:      "data_integrity_warnings_total",
			Help:      "Persisted amounts or groups that did not match expectations.",
		}, []string{"kind"}),
	}

	if reg != nil {
		reg.MustRegister(m.Requests, m.LatencyMS, m.Jobs, m.JobDurationMS,
			m.Transitions, m.InventoryConflicts, m.IntegrityWarnings)
	}
	return m
}

func (m *Metrics) ObserveRequest(handler string, status int, latencyMS float64) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(handler, strconv.Itoa(status)).Inc()
	m.LatencyMS.WithLabelValues(handler).Observe(latencyMS)
}

func (m *Metrics) JobFinished(topic, outcome string) {
	if m == nil {
		return
	}
	m.Jobs.WithLabelValues(topic, outcome).Inc()
}

func (m *Metrics) ObserveJob(durationMS float64) {
	if m == nil {
		return
	}
	m.JobDurationMS.Observe(durationMS)
}

func (m *Metrics) Transition(from, to string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) InventoryConflict(reason string) {
	if m == nil {
		return
	}
	m.InventoryConflicts.WithLabelValues(reason).Inc()
}

func (m *Metrics) IntegrityWarning(kind string) {
	if m == nil {
		return
	}
	m.IntegrityWarnings.WithLabelValues(kind).Inc()
}

func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
