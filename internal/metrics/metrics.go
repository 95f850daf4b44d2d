// Package metrics provides Prometheus metrics for deliveries, campaign
// runs and the HTTP API.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config holds configuration for the metrics module.
type Config struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
	// Path is where cmd/server exposes the registry.
	Path string `yaml:"path"`
	// EnableRuntimeMetrics adds Go runtime and process collectors.
	EnableRuntimeMetrics bool `yaml:"runtime"`
}

// DefaultConfig returns the default metrics configuration.
func DefaultConfig() Config {
	return Config{Enabled: true, Namespace: "mailer", Path: "/metrics", EnableRuntimeMetrics: true}
}

// Attempt results.
const (
	AttemptSuccess   = "success"
	AttemptTransient = "transient"
	AttemptPermanent = "permanent"
	AttemptCancelled = "cancelled"
)

// Run results.
const (
	RunCompleted = "completed"
	RunCancelled = "cancelled"
	RunFailed    = "failed"
)

// Registry owns the campaign mailer's collectors. A nil *Registry is
// valid and records nothing.
type Registry struct {
	registry *prometheus.Registry

	deliveries       *prometheus.CounterVec
	attempts         *prometheus.CounterVec
	deliveryDuration *prometheus.HistogramVec
	runs             *prometheus.CounterVec
	activeRuns       prometheus.Gauge

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// NewRegistry creates a registry with all collectors registered.
func NewRegistry(cfg Config) *Registry {
	ns := cfg.Namespace
	if ns == "" {
		ns = "mailer"
	}
	reg := prometheus.NewRegistry()

	r := &Registry{
		registry: reg,
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "deliveries_total",
			Help:      "Recorded delivery outcomes by provider and status",
		}, []string{"provider", "status"}),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "delivery_attempts_total",
			Help:      "Provider delivery attempts by result",
		}, []string{"provider", "result"}),
		deliveryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "delivery_duration_seconds",
			Help:      "Duration of single provider delivery attempts",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"provider"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "campaign_runs_total",
			Help:      "Finished campaign runs by result",
		}, []string{"result"}),
		activeRuns: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "campaign_runs_active",
			Help:      "Campaign runs currently in progress",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests processed",
		}, []string{"method", "path", "status_code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"method", "path"}),
	}

	reg.MustRegister(r.deliveries, r.attempts, r.deliveryDuration, r.runs, r.activeRuns, r.httpRequests, r.httpDuration)
	if cfg.EnableRuntimeMetrics {
		reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		reg.MustRegister(collectors.NewGoCollector())
	}
	return r
}

// PrometheusRegistry returns the underlying Prometheus registry.
func (r *Registry) PrometheusRegistry() *prometheus.Registry {
	return r.registry
}

// RecordAttempt counts one provider call and its duration.
func (r *Registry) RecordAttempt(provider, result string, d time.Duration) {
	if r == nil {
		return
	}
	r.attempts.WithLabelValues(provider, result).Inc()
	r.deliveryDuration.WithLabelValues(provider).Observe(d.Seconds())
}

// RecordOutcome counts one recorded outcome.
func (r *Registry) RecordOutcome(provider, status string) {
	if r == nil {
		return
	}
	r.deliveries.WithLabelValues(provider, status).Inc()
}

// RunStarted marks a campaign run as in progress.
func (r *Registry) RunStarted() {
	if r == nil {
		return
	}
	r.activeRuns.Inc()
}

// RunFinished records the end of a campaign run.
func (r *Registry) RunFinished(result string) {
	if r == nil {
		return
	}
	r.activeRuns.Dec()
	r.runs.WithLabelValues(result).Inc()
}

// Handler returns an HTTP handler for the Prometheus metrics endpoint.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}

// statusRecorder wraps http.ResponseWriter to capture the status.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Unwrap returns the original ResponseWriter for http.ResponseController.
func (w *statusRecorder) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// HTTPMiddleware records request counts and latency labelled by the chi
// route pattern, which keeps path cardinality bounded.
func (r *Registry) HTTPMiddleware(next http.Handler) http.Handler {
	if r == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, req)

		path := "unmatched"
		if rctx := chi.RouteContext(req.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				path = p
			}
		}
		r.httpRequests.WithLabelValues(req.Method, path, strconv.Itoa(rec.status)).Inc()
		r.httpDuration.WithLabelValues(req.Method, path).Observe(time.Since(start).Seconds())
	})
}
