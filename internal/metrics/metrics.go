package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry is the dedicated Prometheus registry for the service.
	Registry = prometheus.NewRegistry()

	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "path", "status"},
	)
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "path", "status"},
	)

	// Reports counts built unassigned reports by source (diagnostics, optimize, cli).
	Reports = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "vrpdiag_reports_total", Help: "Unassigned reports built."},
		[]string{"source"},
	)
	// UnassignedReasons counts primary reason codes across reports.
	UnassignedReasons = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "vrpdiag_unassigned_reasons_total", Help: "Unassigned jobs by primary reason code."},
		[]string{"code"},
	)
	EvaluationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "vrpdiag_evaluation_seconds", Help: "Time spent building an unassigned report.", Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5, 10}},
		[]string{"source"},
	)
	// Interrupted counts reports cut short by a deadline.
	Interrupted = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "vrpdiag_interrupted_reports_total", Help: "Reports that hit their deadline."},
	)
	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "vrpdiag_cache_requests_total", Help: "Diagnostics cache lookups by result."},
		[]string{"result"},
	)

	WebhookDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "webhook_deliveries_total", Help: "Webhook deliveries by event type and status."},
		[]string{"event_type", "status"},
	)
	// WebhookLatency is in milliseconds.
	WebhookLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "webhook_delivery_latency_ms", Help: "Webhook delivery latency in ms.", Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000}},
		[]string{"event_type", "status"},
	)
)

var regOnce sync.Once

// RegisterDefault registers all collectors on Registry once.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(HTTPRequests, HTTPDuration)
		Registry.MustRegister(Reports, UnassignedReasons, EvaluationDuration, Interrupted, CacheHits)
		Registry.MustRegister(WebhookDeliveries, WebhookLatency)
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

// ObserveReport records one built report.
func ObserveReport(source string, seconds float64, interrupted bool, byCode map[string]int) {
	Reports.WithLabelValues(source).Inc()
	EvaluationDuration.WithLabelValues(source).Observe(seconds)
	if interrupted {
		Interrupted.Inc()
	}
	for code, n := range byCode {
		UnassignedReasons.WithLabelValues(code).Add(float64(n))
	}
}
