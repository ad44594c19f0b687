// Package metrics exposes the Prometheus collectors shared across components.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pricewatch"

var (
	// ProviderRequests counts outbound provider calls by normalised outcome.
	ProviderRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "provider",
		Name:      "requests_total",
		Help:      "Provider calls by provider and outcome kind.",
	}, []string{"provider", "outcome"})

	ProviderLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "provider",
		Name:      "request_duration_seconds",
		Help:      "Provider call latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"provider"})

	RateLimitWait = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "provider",
		Name:      "ratelimit_wait_seconds",
		Help:      "Time spent waiting for a provider rate-limit window.",
		Buckets:   []float64{0, 0.1, 0.5, 1, 5, 15, 30, 60, 120},
	}, []string{"provider"})

	Aggregations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "aggregator",
		Name:      "searches_total",
		Help:      "Aggregated searches by kind and whether a price was available.",
	}, []string{"kind", "result"})

	Ticks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "tracker",
		Name:      "ticks_total",
		Help:      "Tracking ticks by result.",
	}, []string{"result"})

	TickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "tracker",
		Name:      "tick_duration_seconds",
		Help:      "Wall time of a full tracking tick.",
		Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
	})

	AlertChecks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "tracker",
		Name:      "alert_checks_total",
		Help:      "Per-alert check outcomes.",
	}, []string{"outcome"})

	// BuildInfo is always 1; its labels identify the running build.
	BuildInfo = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "build_info",
		Help:      "Build metadata of the running binary.",
	}, []string{"version", "commit"})

	Notifications = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "notify",
		Name:      "dispatch_total",
		Help:      "Notification dispatch attempts by result.",
	}, []string{"result"})
)

func init() {
	prometheus.MustRegister(
		ProviderRequests,
		ProviderLatency,
		RateLimitWait,
		Aggregations,
		Ticks,
		TickDuration,
		AlertChecks,
		Notifications,
		BuildInfo,
	)
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
