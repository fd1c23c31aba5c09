// Package metrics exposes Prometheus collectors for the auth gate.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// VerifyBuckets covers a local signature check up to a slow JWKS fetch.
var VerifyBuckets = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}

var (
	// AuthOutcomesTotal counts gate evaluations by result kind and gate mode.
	AuthOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clerkgate_auth_outcomes_total",
			Help: "Auth gate evaluations",
		},
		[]string{"kind", "mode"},
	)

	// VerifyDuration records how long a gate evaluation took.
	VerifyDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "clerkgate_verify_duration_seconds",
			Help:    "Auth gate evaluation duration",
			Buckets: VerifyBuckets,
		},
		[]string{"kind"},
	)

	// RateLimitRejectedTotal counts requests rejected by the per-IP limiter.
	RateLimitRejectedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "clerkgate_ratelimit_rejected_total",
			Help: "Rate limit rejections",
		},
	)
)

func init() {
	prometheus.MustRegister(
		AuthOutcomesTotal,
		VerifyDuration,
		RateLimitRejectedTotal,
	)
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
