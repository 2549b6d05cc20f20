// Package metrics provides Prometheus metrics for token acquisition and API calls.
//
// A nil *Recorder is valid and records nothing, so instrumented code never has
// to check whether metrics are enabled.
package metrics

import (
	"errors"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Result labels for metrics.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultStale   = "stale"
)

const namespace = "apiclient"

// Recorder holds the collectors shared by the token manager, the OAuth2
// transport and the API client.
type Recorder struct {
	tokenFetches  *prometheus.CounterVec
	cacheHits     prometheus.Counter
	requests      *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	unauthRetries prometheus.Counter
}

// New creates a Recorder and registers its collectors on reg.
// Collectors already registered on reg (by another Recorder) are reused, so
// several components can share one registry. A nil reg returns nil.
func New(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		return nil
	}

	return &Recorder{
		tokenFetches: register(reg, prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "token",
				Name:      "fetch_total",
				Help:      "Total number of token fetches from the token source",
			},
			[]string{"result"},
		)),
		cacheHits: register(reg, prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "token",
				Name:      "cache_hits_total",
				Help:      "Total number of token requests served from cache",
			},
		)),
		requests: register(reg, prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Total number of API calls by method and status code",
			},
			[]string{"method", "code"},
		)),
		duration: register(reg, prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "Duration of API calls in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		)),
		unauthRetries: register(reg, prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "unauthorized_retries_total",
				Help:      "Total number of requests replayed after a 401 response",
			},
		)),
	}
}

// register registers c on reg, returning the existing collector if an
// identical one is already registered.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing
			}
		}
	}
	return c
}

// TokenFetched records one call to the token source.
func (r *Recorder) TokenFetched(result string) {
	if r == nil {
		return
	}
	r.tokenFetches.WithLabelValues(result).Inc()
}

// TokenCacheHit records a token request served without I/O.
func (r *Recorder) TokenCacheHit() {
	if r == nil {
		return
	}
	r.cacheHits.Inc()
}

// RequestCompleted records an API call. A zero code means the call failed
// before a response was received.
func (r *Recorder) RequestCompleted(method string, code int, elapsed time.Duration) {
	if r == nil {
		return
	}
	label := "error"
	if code > 0 {
		label = strconv.Itoa(code)
	}
	r.requests.WithLabelValues(method, label).Inc()
	r.duration.WithLabelValues(method).Observe(elapsed.Seconds())
}

// UnauthorizedRetry records a request replayed after a 401.
func (r *Recorder) UnauthorizedRetry() {
	if r == nil {
		return
	}
	r.unauthRetries.Inc()
}
