// Package metrics exposes the proxy's Prometheus counters and the
// /metrics handler.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RequestsTotal counts /v1/messages requests by mapped model and
	// terminal outcome (ok, error, exhausted).
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "geminigate_requests_total",
		Help: "Total proxied requests by mapped model and outcome.",
	}, []string{"model", "outcome"})

	// AccountRotations counts how often the pipeline moved to the next
	// account after an upstream rejection.
	AccountRotations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "geminigate_account_rotations_total",
		Help: "Total account rotations triggered by upstream errors.",
	})

	// RetryWaits counts in-place waits for short rate-limit delays.
	RetryWaits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "geminigate_retry_waits_total",
		Help: "Total same-account retries after a rate-limit wait.",
	})

	// EmptyRetries counts retries triggered by empty completions.
	EmptyRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "geminigate_empty_completion_retries_total",
		Help: "Total retries triggered by empty upstream completions.",
	})

	// StreamEvents counts SSE events sent to clients, by event name.
	StreamEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "geminigate_stream_events_total",
		Help: "Total SSE events emitted to clients, by event name.",
	}, []string{"event"})

	// OutputTokens sums the output tokens reported by the upstream.
	OutputTokens = promauto.NewCounter(prometheus.CounterOpts{
		Name: "geminigate_output_tokens_total",
		Help: "Total output tokens reported by the upstream.",
	})
)

// Handler returns the /metrics endpoint handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
