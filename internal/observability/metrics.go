package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Serve outcomes recorded by the call adapter.
const (
	OutcomeOK          = "ok"
	OutcomeCallError   = "call_error"
	OutcomeNotIterable = "not_iterable"
	OutcomeIterError   = "iteration_error"
	OutcomeWriteError  = "write_error"
	OutcomeCanceled    = "canceled"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fcgiwsgi",
			Subsystem: "admin",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fcgiwsgi",
			Subsystem: "admin",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	wsgiRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fcgiwsgi",
			Subsystem: "wsgi",
			Name:      "requests_total",
			Help:      "Application calls by outcome.",
		},
		[]string{"app", "outcome"},
	)
	wsgiDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fcgiwsgi",
			Subsystem: "wsgi",
			Name:      "request_duration_seconds",
			Help:      "Application call duration in seconds, body streaming included.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"app", "outcome"},
	)
	wsgiChunks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fcgiwsgi",
			Subsystem: "wsgi",
			Name:      "chunks_total",
			Help:      "Response body chunks produced by the application.",
		},
		[]string{"app", "kind"},
	)
	wsgiBodyBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fcgiwsgi",
			Subsystem: "wsgi",
			Name:      "body_bytes_total",
			Help:      "Response body bytes written to the transport.",
		},
		[]string{"app"},
	)
	guardWait = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "fcgiwsgi",
			Subsystem: "interp",
			Name:      "guard_wait_seconds",
			Help:      "Time spent waiting for the execution guard.",
			Buckets:   []float64{.00001, .0001, .001, .005, .01, .05, .1, .5, 1},
		},
	)
	inFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "fcgiwsgi",
			Subsystem: "gateway",
			Name:      "in_flight_requests",
			Help:      "FastCGI requests currently being served.",
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			wsgiRequests, wsgiDuration, wsgiChunks, wsgiBodyBytes,
			guardWait, inFlight,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordServe(app, outcome string, duration time.Duration) {
	RegisterMetrics()
	wsgiRequests.WithLabelValues(app, outcome).Inc()
	wsgiDuration.WithLabelValues(app, outcome).Observe(duration.Seconds())
}

func RecordChunk(app string, size int, written bool) {
	RegisterMetrics()
	if !written {
		wsgiChunks.WithLabelValues(app, "skipped").Inc()
		return
	}
	wsgiChunks.WithLabelValues(app, "written").Inc()
	wsgiBodyBytes.WithLabelValues(app).Add(float64(size))
}

func RecordGuardWait(d time.Duration) {
	RegisterMetrics()
	guardWait.Observe(d.Seconds())
}

func AddInFlight(delta int) {
	RegisterMetrics()
	inFlight.Add(float64(delta))
}
