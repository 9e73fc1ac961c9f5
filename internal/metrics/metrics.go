// Package metrics holds the Prometheus collectors for fetch and scan activity.
// A nil *Registry is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Fetch paths
const (
	PathBatch  = "batch"
	PathSingle = "single"
)

// Registry holds all weekscan metrics
type Registry struct {
	CacheHits      prometheus.Counter
	CacheMisses    prometheus.Counter
	FetchAttempts  *prometheus.CounterVec
	FetchRetries   *prometheus.CounterVec
	FetchFallbacks *prometheus.CounterVec
	Outcomes       *prometheus.CounterVec
	ScanDuration   *prometheus.HistogramVec
	BreakerState   *prometheus.GaugeVec

	gatherer prometheus.Gatherer
}

// New creates the collectors and registers them with reg. A nil reg gets a
// fresh private registry.
func New(reg *prometheus.Registry) *Registry {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	r := &Registry{
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "weekscan_cache_hits_total",
			Help: "Instruments served from the local bar cache",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "weekscan_cache_misses_total",
			Help: "Instruments not found in the local bar cache",
		}),
		FetchAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "weekscan_fetch_attempts_total",
			Help: "Provider calls by path and result",
		}, []string{"provider", "path", "result"}),
		FetchRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "weekscan_fetch_retries_total",
			Help: "Provider call retries by path",
		}, []string{"provider", "path"}),
		FetchFallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "weekscan_fetch_fallbacks_total",
			Help: "Instruments fetched individually after a batch failed to resolve them",
		}, []string{"provider", "reason"}),
		Outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "weekscan_instrument_outcomes_total",
			Help: "Terminal instrument states per scan",
		}, []string{"state"}),
		ScanDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "weekscan_scan_duration_seconds",
			Help:    "Wall time of complete scans",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 3600},
		}, []string{"mode"}),
		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "weekscan_provider_breaker_state",
			Help: "Circuit breaker state per provider (0 closed, 1 half-open, 2 open)",
		}, []string{"provider"}),
		gatherer: reg,
	}
	reg.MustRegister(r.CacheHits, r.CacheMisses, r.FetchAttempts, r.FetchRetries,
		r.FetchFallbacks, r.Outcomes, r.ScanDuration, r.BreakerState)
	return r
}

// CacheHit counts an instrument served from cache.
func (r *Registry) CacheHit() {
	if r != nil {
		r.CacheHits.Inc()
	}
}

// CacheMiss counts an instrument missing from cache.
func (r *Registry) CacheMiss() {
	if r != nil {
		r.CacheMisses.Inc()
	}
}

// FetchAttempt counts one provider call.
func (r *Registry) FetchAttempt(provider, path string, err error) {
	if r == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.FetchAttempts.WithLabelValues(provider, path, result).Inc()
}

// FetchRetry counts one retry of a provider call.
func (r *Registry) FetchRetry(provider, path string) {
	if r != nil {
		r.FetchRetries.WithLabelValues(provider, path).Inc()
	}
}

// Fallback counts instruments moved to per-instrument fetching.
func (r *Registry) Fallback(provider, reason string, n int) {
	if r != nil && n > 0 {
		r.FetchFallbacks.WithLabelValues(provider, reason).Add(float64(n))
	}
}

// Outcome counts an instrument reaching a terminal state.
func (r *Registry) Outcome(state string) {
	if r != nil {
		r.Outcomes.WithLabelValues(state).Inc()
	}
}

// ScanFinished records the duration of a scan.
func (r *Registry) ScanFinished(mode string, d time.Duration) {
	if r != nil {
		r.ScanDuration.WithLabelValues(mode).Observe(d.Seconds())
	}
}

// Breaker records a circuit breaker state.
func (r *Registry) Breaker(provider string, state int) {
	if r != nil {
		r.BreakerState.WithLabelValues(provider).Set(float64(state))
	}
}

// Handler serves the registry in Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	if r == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})
}
