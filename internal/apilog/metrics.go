package apilog

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the
// resolution service.
type Metrics struct {
	Resolutions     *prometheus.CounterVec // labels: kind, outcome={resolved,empty,rejected,error}
	ResolveDuration *prometheus.HistogramVec

	// Cache and provider metrics.
	CacheLookups   *prometheus.CounterVec // labels: result={hit,miss}
	ProviderCalls  *prometheus.CounterVec // labels: provider, outcome={success,empty,error,quota}
	ProviderCost   *prometheus.CounterVec // labels: provider
	RateLimited    prometheus.Counter
	GovernorActive prometheus.Gauge
}

// NewMetrics creates and registers all service metrics with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	m := build()
	prometheus.MustRegister(
		m.Resolutions,
		m.ResolveDuration,
		m.CacheLookups,
		m.ProviderCalls,
		m.ProviderCost,
		m.RateLimited,
		m.GovernorActive,
	)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return build()
}

func build() *Metrics {
	return &Metrics{
		Resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "siteintel",
			Name:      "resolutions_total",
			Help:      "Resolution requests by query kind and outcome.",
		}, []string{"kind", "outcome"}),
		ResolveDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "siteintel",
			Name:      "resolve_duration_seconds",
			Help:      "End-to-end resolution duration in seconds.",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"kind"}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "siteintel",
			Name:      "cache_lookups_total",
			Help:      "Cache lookups by result.",
		}, []string{"result"}),
		ProviderCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "siteintel",
			Name:      "provider_calls_total",
			Help:      "Upstream provider calls by provider and outcome.",
		}, []string{"provider", "outcome"}),
		ProviderCost: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "siteintel",
			Name:      "provider_cost_dollars_total",
			Help:      "Cumulative estimated upstream spend in dollars.",
		}, []string{"provider"}),
		RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "siteintel",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the per-identity rate limit.",
		}),
		GovernorActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "siteintel",
			Name:      "cost_governor_active",
			Help:      "1 when the cost governor is restricting paid providers.",
		}),
	}
}
