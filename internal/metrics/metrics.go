// Package metrics exposes resolver, lookup, cache and rate limit counters to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/serroba/purview/internal/preview"
	"github.com/serroba/purview/internal/ratelimit"
)

const namespace = "purview"

// Recorder implements the observer interfaces of the preview, lookup,
// partnercache and ratelimit packages.
type Recorder struct {
	registry       *prometheus.Registry
	resolutions    *prometheus.CounterVec
	resolveSeconds *prometheus.HistogramVec
	lookupAttempts *prometheus.CounterVec
	cacheEvents    *prometheus.CounterVec
	rateLimited    *prometheus.CounterVec
	eventsDropped  prometheus.Counter
}

// NewRecorder creates a recorder on its own registry, including Go runtime
// and process collectors.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolutions_total",
			Help:      "Token resolutions by outcome.",
		}, []string{"outcome"}),
		resolveSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "resolve_duration_seconds",
			Help:      "Time spent resolving a token.",
			Buckets:   []float64{.005, .025, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"outcome"}),
		lookupAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lookup_attempts_total",
			Help:      "HTTP attempts against the redirect lookup service by result.",
		}, []string{"result"}),
		cacheEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "partner_cache_events_total",
			Help:      "Partner config cache events.",
		}, []string{"event"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the rate limiter by scope.",
		}, []string{"scope"}),
		eventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analytics_events_dropped_total",
			Help:      "Preview served events that could not be published.",
		}),
	}

	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.resolutions,
		r.resolveSeconds,
		r.lookupAttempts,
		r.cacheEvents,
		r.rateLimited,
		r.eventsDropped,
	)

	return r
}

// Registry returns the registry backing the recorder.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

func (r *Recorder) ObserveResolution(outcome preview.Outcome, elapsed time.Duration) {
	r.resolutions.WithLabelValues(string(outcome)).Inc()
	r.resolveSeconds.WithLabelValues(string(outcome)).Observe(elapsed.Seconds())
}

func (r *Recorder) LookupAttempt(result string) {
	r.lookupAttempts.WithLabelValues(result).Inc()
}

func (r *Recorder) CacheEvent(event string) {
	r.cacheEvents.WithLabelValues(event).Inc()
}

func (r *Recorder) RateLimited(scope ratelimit.Scope) {
	r.rateLimited.WithLabelValues(string(scope)).Inc()
}

// EventDropped counts an analytics event lost to a publish failure.
func (r *Recorder) EventDropped() {
	r.eventsDropped.Inc()
}
