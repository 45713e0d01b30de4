package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Platform metrics
	platformActions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sterling_platform_actions_total",
		Help: "Total number of platform actions (post, reply, favourite)",
	}, []string{"action", "status"})

	// Generation metrics
	generationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sterling_generation_duration_seconds",
		Help:    "Duration of content generation requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"provider", "status"})

	generationRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sterling_generation_requests_total",
		Help: "Total number of content generation attempts",
	}, []string{"provider", "status"})

	generationFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sterling_generation_fallbacks_total",
		Help: "Total number of fallback responses returned after exhausted retries",
	})

	// Rate limit metrics
	rateLimitWaits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sterling_rate_limit_waits_total",
		Help: "Total number of times a caller waited for quota",
	}, []string{"limiter"})

	rateLimitWaitSeconds = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sterling_rate_limit_wait_seconds_total",
		Help: "Total seconds spent waiting for quota",
	}, []string{"limiter"})

	// Dedupe metrics
	duplicatesSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sterling_duplicates_skipped_total",
		Help: "Total number of items skipped because they were already processed",
	}, []string{"category"})

	// Service metrics
	loopErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sterling_service_errors_total",
		Help: "Total number of failed service iterations",
	}, []string{"service"})

	serviceRunning = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sterling_service_running",
		Help: "Whether a service loop is running (1) or not (0)",
	}, []string{"service"})

	postsToday = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sterling_auto_posts_today",
		Help: "Number of automatic posts published since the last daily reset",
	})

	// Storage metrics
	storageOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sterling_storage_operations_total",
		Help: "Total number of ledger storage operations",
	}, []string{"operation", "status"})
)

// Metrics provides methods to record metrics
type Metrics struct{}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	return &Metrics{}
}

// RecordPlatformAction records a post, reply or favourite
func (m *Metrics) RecordPlatformAction(action, status string) {
	platformActions.WithLabelValues(action, status).Inc()
}

// RecordGeneration records one generation attempt
func (m *Metrics) RecordGeneration(provider, status string, duration time.Duration) {
	generationDuration.WithLabelValues(provider, status).Observe(duration.Seconds())
	generationRequests.WithLabelValues(provider, status).Inc()
}

// RecordFallback records a degraded generation
func (m *Metrics) RecordFallback() {
	generationFallbacks.Inc()
}

// RecordRateLimitWait records a quota wait
func (m *Metrics) RecordRateLimitWait(limiter string, wait time.Duration) {
	rateLimitWaits.WithLabelValues(limiter).Inc()
	rateLimitWaitSeconds.WithLabelValues(limiter).Add(wait.Seconds())
}

// RecordDuplicate records a skipped duplicate
func (m *Metrics) RecordDuplicate(category string) {
	duplicatesSkipped.WithLabelValues(category).Inc()
}

// RecordLoopError records a failed service iteration
func (m *Metrics) RecordLoopError(service string) {
	loopErrors.WithLabelValues(service).Inc()
}

// SetServiceRunning flips the running gauge of a service
func (m *Metrics) SetServiceRunning(service string, running bool) {
	value := 0.0
	if running {
		value = 1
	}
	serviceRunning.WithLabelValues(service).Set(value)
}

// SetPostsToday sets the daily auto-post counter
func (m *Metrics) SetPostsToday(count int) {
	postsToday.Set(float64(count))
}

// RecordStorageOperation records a ledger operation
func (m *Metrics) RecordStorageOperation(operation, status string) {
	storageOperations.WithLabelValues(operation, status).Inc()
}

// StartMetricsServer starts the metrics HTTP server
func StartMetricsServer(port int, path string) error {
	router := mux.NewRouter()
	router.Handle(path, promhttp.Handler())

	// Health check endpoint
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	addr := fmt.Sprintf(":%d", port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return server.ListenAndServe()
}
