// Package metrics holds the prometheus collectors exported on /metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reelpick_http_requests_total",
			Help: "HTTP requests by method, route and status",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reelpick_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: []float64{.005, .01, .05, .1, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "route"},
	)

	// Recommendations counts finished recommendation requests.
	// outcome: model, fallback, empty, error
	Recommendations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reelpick_recommendations_total",
			Help: "Recommendation requests by outcome",
		},
		[]string{"outcome"},
	)

	LLMRequestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "reelpick_llm_request_duration_seconds",
			Help:    "Latency of generative-text provider calls",
			Buckets: []float64{.25, .5, 1, 2, 5, 10, 20, 30, 60},
		},
	)

	MetadataCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reelpick_metadata_cache_hits_total",
			Help: "Metadata lookups served from cache",
		},
	)

	MetadataCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reelpick_metadata_cache_misses_total",
			Help: "Metadata lookups forwarded to TMDB",
		},
	)

	LibraryFlushes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reelpick_library_flushes_total",
			Help: "Library writes to the durable store by result",
		},
		[]string{"result"},
	)

	// HistoryImported counts entries merged from the watch-history import.
	// kind: movie, tv, skipped
	HistoryImported = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reelpick_history_imported_total",
			Help: "Watch-history entries imported by kind",
		},
		[]string{"kind"},
	)
)

// Middleware records request count and latency per matched route.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		HTTPRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		HTTPRequestDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}
