package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "cartcheckout"

// Metrics is safe to use through a nil pointer; every method is then a no-op.
type Metrics struct {
	cartOps         *prometheus.CounterVec
	checkouts       *prometheus.CounterVec
	checkoutLatency prometheus.Histogram
	statusChanges   *prometheus.CounterVec
	outboxPublished *prometheus.CounterVec
	httpRequests    *prometheus.CounterVec
	httpLatencyMS   *prometheus.HistogramVec
	gatherer        prometheus.Gatherer
}

// New registers all collectors on reg. Pass prometheus.NewRegistry() in tests
// to avoid clashing with the default registry.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		cartOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cart_operations_total",
			Help:      "Cart mutations and reads by operation and outcome.",
		}, []string{"operation", "outcome"}),
		checkouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkouts_total",
			Help:      "Checkout attempts by outcome.",
		}, []string{"outcome"}),
		checkoutLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "checkout_duration_seconds",
			Help:      "Wall time of the checkout transaction.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}),
		statusChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_status_changes_total",
			Help:      "Order status updates by target status and outcome.",
		}, []string{"status", "outcome"}),
		outboxPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_events_total",
			Help:      "Outbox events relayed to the broker by outcome.",
		}, []string{"outcome"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "route", "status"}),
		httpLatencyMS: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_ms",
			Help:      "HTTP request latency in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"route"}),
		gatherer: reg,
	}

	reg.MustRegister(
		m.cartOps,
		m.checkouts,
		m.checkoutLatency,
		m.statusChanges,
		m.outboxPublished,
		m.httpRequests,
		m.httpLatencyMS,
	)
	return m
}

func (m *Metrics) CartOperation(op string, err error) {
	if m == nil {
		return
	}
	m.cartOps.WithLabelValues(op, outcome(err)).Inc()
}

func (m *Metrics) Checkout(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.checkouts.WithLabelValues(result).Inc()
	m.checkoutLatency.Observe(d.Seconds())
}

func (m *Metrics) StatusChange(status string, err error) {
	if m == nil {
		return
	}
	m.statusChanges.WithLabelValues(status, outcome(err)).Inc()
}

func (m *Metrics) OutboxPublished(err error) {
	if m == nil {
		return
	}
	m.outboxPublished.WithLabelValues(outcome(err)).Inc()
}

func (m *Metrics) HTTPRequest(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpLatencyMS.WithLabelValues(route).Observe(float64(d.Milliseconds()))
}

// Handler exposes the registry m was created with.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
