package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// requestsTotal counts finished requests by entry handler and outcome.
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "looper_dispatch_requests_total",
		Help: "Dispatched requests by entry handler and outcome",
	}, []string{"handler", "outcome"})

	// requestDuration tracks end-to-end dispatch latency, commit included.
	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "looper_dispatch_duration_seconds",
		Help:    "Dispatch duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms to ~4s
	}, []string{"handler"})

	// fallbacksTotal counts reroutes to the default handler.
	fallbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "looper_dispatch_fallbacks_total",
		Help: "Requests rerouted to fallback by the handler that refused them",
	}, []string{"handler"})

	// generationFailures counts failed generation calls.
	generationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "looper_generation_failures_total",
		Help: "Music generation calls that failed or timed out",
	})

	// dispatchErrors counts requests that ended in an error.
	dispatchErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "looper_dispatch_errors_total",
		Help: "Requests that failed, by error class",
	}, []string{"class"})
)
