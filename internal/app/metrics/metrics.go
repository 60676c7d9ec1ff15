// Package metrics exposes the service's Prometheus collectors. One Metrics
// value is shared by the HTTP layer, the action executor, and the cache.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "console"

// Metrics holds the registry and collectors. It implements the cache and
// action observer interfaces.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	actionRuns *prometheus.CounterVec

	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route, method and status.",
		}, []string{"route", "method", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		actionRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "action_runs_total",
			Help:      "Action pipeline executions by action and outcome.",
		}, []string{"action", "outcome"}),
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Cache hits by key prefix.",
		}, []string{"prefix"}),
		cacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Cache misses by key prefix.",
		}, []string{"prefix"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequests,
		m.httpDuration,
		m.actionRuns,
		m.cacheHits,
		m.cacheMisses,
	)
	return m
}

// Handler serves the scrape endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveHTTP records one served request.
func (m *Metrics) ObserveHTTP(route, method string, status int, elapsed time.Duration) {
	m.httpRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

// ActionCompleted implements the action observer.
func (m *Metrics) ActionCompleted(name string, success bool) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	m.actionRuns.WithLabelValues(name, outcome).Inc()
}

// CacheHit implements the cache observer.
func (m *Metrics) CacheHit(key string) {
	m.cacheHits.WithLabelValues(keyPrefix(key)).Inc()
}

// CacheMiss implements the cache observer.
func (m *Metrics) CacheMiss(key string) {
	m.cacheMisses.WithLabelValues(keyPrefix(key)).Inc()
}

// keyPrefix trims a cache key to its namespace so label cardinality stays
// bounded regardless of how many users exist.
func keyPrefix(key string) string {
	for i := 0; i < len(key); i++ {
		if key[i] == ':' {
			return key[:i]
		}
	}
	return key
}
