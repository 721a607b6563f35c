package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "zkgate"

var (
	// Registry holds the gateway's Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	dispatchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "operations_total",
			Help:      "Total number of dispatched engine operations by outcome.",
		},
		[]string{"vendor", "operation", "outcome"},
	)

	dispatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "operation_duration_seconds",
			Help:      "Duration of engine operations.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 12), // 1ms to ~70min
		},
		[]string{"vendor", "operation"},
	)

	executionCycles = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "execution_cycles",
			Help:      "Total cycles reported by successful executions.",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 9),
		},
		[]string{"vendor"},
	)

	registeredPrograms = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "programs",
			Help:      "Number of registered programs per vendor.",
		},
		[]string{"vendor"},
	)

	proverActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "prover",
			Name:      "active",
			Help:      "Proofs currently being generated.",
		},
	)

	proverWaiting = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "prover",
			Name:      "waiting",
			Help:      "Prove requests waiting for a slot.",
		},
	)

	proverRejected = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "prover",
			Name:      "rejected_total",
			Help:      "Prove requests turned away because the queue was full or the wait timed out.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		dispatchTotal,
		dispatchDuration,
		executionCycles,
		registeredPrograms,
		proverActive,
		proverWaiting,
		proverRejected,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// TrackInFlight increments the in-flight gauge and returns a function undoing it.
func TrackInFlight() func() {
	httpInFlight.Inc()
	return httpInFlight.Dec
}

// RecordHTTPRequest records one served request. path should be a route template so
// program ids do not explode label cardinality.
func RecordHTTPRequest(method, path, status string, duration time.Duration) {
	method = strings.ToUpper(method)
	httpRequests.WithLabelValues(method, path, status).Inc()
	httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordDispatch records the outcome of an engine operation.
func RecordDispatch(vendor, operation, outcome string, duration time.Duration) {
	if vendor == "" {
		vendor = "unknown"
	}
	if duration <= 0 {
		duration = time.Microsecond
	}
	dispatchTotal.WithLabelValues(vendor, operation, outcome).Inc()
	dispatchDuration.WithLabelValues(vendor, operation).Observe(duration.Seconds())
}

// RecordCycles records the cycle count of a successful execution.
func RecordCycles(vendor string, cycles uint64) {
	executionCycles.WithLabelValues(vendor).Observe(float64(cycles))
}

// SetRegisteredPrograms replaces the per-vendor program gauge.
func SetRegisteredPrograms(counts map[string]int) {
	registeredPrograms.Reset()
	for vendor, n := range counts {
		registeredPrograms.WithLabelValues(vendor).Set(float64(n))
	}
}

// SetProverLoad publishes the prove limiter occupancy.
func SetProverLoad(active, waiting int) {
	proverActive.Set(float64(active))
	proverWaiting.Set(float64(waiting))
}

func IncProverRejected() {
	proverRejected.Inc()
}
