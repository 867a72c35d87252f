// Package metrics holds the service's Prometheus instruments.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// MatchesStarted counts scheduled games by match kind.
	MatchesStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "arena",
		Name:      "matches_started_total",
		Help:      "Games submitted to the job runner, by match kind.",
	}, []string{"kind"})

	// CallbacksReceived counts runner callbacks by kind and result.
	CallbacksReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "arena",
		Name:      "callbacks_received_total",
		Help:      "Match results posted back by the job runner.",
	}, []string{"kind", "result"})

	// RequestDuration observes HTTP handler latency.
	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "arena",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by route and status.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route", "status"})
)

// Handler exposes the default registry for scraping.
func Handler() http.Handler {
	return promhttp.Handler()
}
