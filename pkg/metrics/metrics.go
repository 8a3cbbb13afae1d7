// Package metrics holds the Prometheus collectors shared by the cache, upstream
// and aggregation layers. A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the service.
type Metrics struct {
	cacheHits          *prometheus.CounterVec
	cacheMisses        *prometheus.CounterVec
	durableWriteErrors prometheus.Counter
	upstreamRequests   *prometheus.CounterVec
	upstreamDuration   *prometheus.HistogramVec
	aggregations       *prometheus.CounterVec
	enrichments        *prometheus.CounterVec
	exportBatches      *prometheus.CounterVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		cacheHits: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "worldstats_cache_hits_total",
			Help: "Cache hits by tier.",
		}, []string{"tier"}),
		cacheMisses: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "worldstats_cache_misses_total",
			Help: "Cache misses by tier.",
		}, []string{"tier"}),
		durableWriteErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "worldstats_cache_durable_write_errors_total",
			Help: "Failed asynchronous writes to the durable cache tier.",
		}),
		upstreamRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "worldstats_upstream_requests_total",
			Help: "Outbound provider requests by provider and outcome.",
		}, []string{"provider", "outcome"}),
		upstreamDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "worldstats_upstream_request_duration_seconds",
			Help:    "Outbound provider request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider"}),
		aggregations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "worldstats_aggregations_total",
			Help: "Country aggregations by result (cached, assembled, minimal, blank).",
		}, []string{"result"}),
		enrichments: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "worldstats_enrichments_total",
			Help: "Deferred enrichment tasks by outcome.",
		}, []string{"outcome"}),
		exportBatches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "worldstats_export_batches_total",
			Help: "Snapshot export batches by sink and outcome.",
		}, []string{"sink", "outcome"}),
	}
}

func (m *Metrics) CacheHit(tier string) {
	if m == nil {
		return
	}
	m.cacheHits.WithLabelValues(tier).Inc()
}

func (m *Metrics) CacheMiss(tier string) {
	if m == nil {
		return
	}
	m.cacheMisses.WithLabelValues(tier).Inc()
}

func (m *Metrics) DurableWriteError() {
	if m == nil {
		return
	}
	m.durableWriteErrors.Inc()
}

// ObserveUpstream records one outbound call. outcome is "ok" or an error category.
func (m *Metrics) ObserveUpstream(provider, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.upstreamRequests.WithLabelValues(provider, outcome).Inc()
	m.upstreamDuration.WithLabelValues(provider).Observe(elapsed.Seconds())
}

func (m *Metrics) Aggregation(result string) {
	if m == nil {
		return
	}
	m.aggregations.WithLabelValues(result).Inc()
}

func (m *Metrics) Enrichment(outcome string) {
	if m == nil {
		return
	}
	m.enrichments.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ExportBatch(sink, outcome string) {
	if m == nil {
		return
	}
	m.exportBatches.WithLabelValues(sink, outcome).Inc()
}
