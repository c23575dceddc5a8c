package server

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	metricsOnce sync.Once

	researchRequests *prometheus.CounterVec
	cacheLookups     *prometheus.CounterVec
	rateLimitRejects *prometheus.CounterVec
	requestLatency   prometheus.Histogram
)

// initMetrics registers the gateway's prometheus collectors. Guarded by a
// Once so tests can build multiple servers against the default registry.
func initMetrics() {
	metricsOnce.Do(func() {
		researchRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fitforge_research_requests_total",
				Help: "Research requests by terminal outcome.",
			},
			[]string{"outcome"},
		)
		cacheLookups = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fitforge_cache_lookups_total",
				Help: "Server cache lookups by result.",
			},
			[]string{"result"},
		)
		rateLimitRejects = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fitforge_rate_limit_rejections_total",
				Help: "Requests rejected by the rate limiter, by window.",
			},
			[]string{"window"},
		)
		requestLatency = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "fitforge_research_request_seconds",
				Help:    "Wall time of research requests, cached and fresh.",
				Buckets: prometheus.DefBuckets,
			},
		)
		prometheus.MustRegister(researchRequests, cacheLookups, rateLimitRejects, requestLatency)
	})
}
