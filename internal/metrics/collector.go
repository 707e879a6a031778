// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Collector owns every Prometheus metric the service exposes. It implements
// the recorder interfaces of the job queue and the cache, so those packages
// stay free of a Prometheus dependency.
type Collector struct {
	// job metrics
	jobsCreated *prometheus.CounterVec
	jobsDone    *prometheus.CounterVec
	jobDuration *prometheus.HistogramVec

	// generation metrics
	llmAttempts *prometheus.CounterVec

	// cache metrics
	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec

	// HTTP metrics
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	registry *prometheus.Registry
	logger   *zap.Logger
}

// NewCollector creates and registers all metrics under the given namespace
// on a dedicated registry.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}

	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	c := &Collector{
		registry: registry,
		logger:   logger.With(zap.String("component", "metrics")),
	}

	c.jobsCreated = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_created_total",
			Help:      "Total number of jobs submitted",
		},
		[]string{"job_type"},
	)

	c.jobsDone = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_finished_total",
			Help:      "Total number of jobs reaching a terminal state",
		},
		[]string{"job_type", "status"},
	)

	c.jobDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Job processing duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"job_type"},
	)

	c.llmAttempts = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_attempts_total",
			Help:      "Total number of structured generation attempts",
		},
		[]string{"backend", "outcome"},
	)

	c.cacheHits = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits",
		},
		[]string{"class"},
	)

	c.cacheMisses = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses",
		},
		[]string{"class"},
	)

	c.httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	return c
}

// Handler exposes the collector's registry for scraping.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// JobCreated counts a submitted job.
func (c *Collector) JobCreated(jobType string) {
	c.jobsCreated.WithLabelValues(jobType).Inc()
}

// JobCompleted records a successful job and its duration.
func (c *Collector) JobCompleted(jobType string, duration time.Duration) {
	c.jobsDone.WithLabelValues(jobType, "completed").Inc()
	c.jobDuration.WithLabelValues(jobType).Observe(duration.Seconds())
}

// JobFailed records a failed job.
func (c *Collector) JobFailed(jobType string) {
	c.jobsDone.WithLabelValues(jobType, "failed").Inc()
}

// GenerationAttempt records one structured generation attempt against a
// backend with its outcome. Wired as the generator's observer.
func (c *Collector) GenerationAttempt(backend, outcome string) {
	c.llmAttempts.WithLabelValues(backend, outcome).Inc()
}

// CacheHit counts a hit for a cache data class.
func (c *Collector) CacheHit(class string) {
	c.cacheHits.WithLabelValues(class).Inc()
}

// CacheMiss counts a miss for a cache data class.
func (c *Collector) CacheMiss(class string) {
	c.cacheMisses.WithLabelValues(class).Inc()
}

// HTTPRequest records one served HTTP request.
func (c *Collector) HTTPRequest(method, path, status string, duration time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}
