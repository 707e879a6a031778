package handlers

import (
	"net/http"
	"strconv"
	"time"
)

// HTTPRecorder observes served requests for metrics. A nil recorder is valid.
type HTTPRecorder interface {
	HTTPRequest(method, path, status string, duration time.Duration)
}

// RouterConfig bundles everything the router mounts.
type RouterConfig struct {
	Jobs     *JobsHandler
	Health   *HealthHandler
	Metrics  http.Handler
	Recorder HTTPRecorder
}

// NewRouter builds the service mux. Metric labels use the route pattern,
// not the raw URL, so job ids never explode label cardinality.
func NewRouter(cfg RouterConfig) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/jobs", instrument(cfg.Recorder, "/v1/jobs", cfg.Jobs.Create))
	mux.HandleFunc("GET /v1/jobs/{id}", instrument(cfg.Recorder, "/v1/jobs/{id}", cfg.Jobs.Status))
	mux.HandleFunc("GET /healthz", instrument(cfg.Recorder, "/healthz", cfg.Health.Check))

	if cfg.Metrics != nil {
		mux.Handle("GET /metrics", cfg.Metrics)
	}

	return mux
}

func instrument(rec HTTPRecorder, pattern string, next http.HandlerFunc) http.HandlerFunc {
	if rec == nil {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next(sw, r)
		rec.HTTPRequest(r.Method, pattern, strconv.Itoa(sw.status), time.Since(start))
	}
}
