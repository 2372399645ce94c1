package vlm

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	vlmCaptionRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vlm_caption_requests_total",
			Help: "Total captioning attempts per provider and outcome.",
		},
		[]string{"provider", "outcome"},
	)
	vlmCaptionLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vlm_caption_latency_seconds",
			Help:    "Latency of individual provider calls in seconds.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"provider"},
	)
	vlmFallbackTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vlm_fallback_total",
			Help: "Total fallback transitions between providers.",
		},
		[]string{"from", "to"},
	)
	vlmAvailabilityQueryFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vlm_availability_query_failures_total",
			Help: "Total availability lookups that degraded to local selection.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		vlmCaptionRequestsTotal,
		vlmCaptionLatencySeconds,
		vlmFallbackTotal,
		vlmAvailabilityQueryFailuresTotal,
	)
}

func observeCaptionAttempt(provider string, latency time.Duration, err error) {
	if provider == "" {
		provider = "unknown"
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	vlmCaptionRequestsTotal.WithLabelValues(provider, outcome).Inc()
	if latency > 0 {
		vlmCaptionLatencySeconds.WithLabelValues(provider).Observe(latency.Seconds())
	}
}

func observeFallback(from, to string) {
	vlmFallbackTotal.WithLabelValues(from, to).Inc()
}
