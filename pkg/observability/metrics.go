package observability

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Authorization metrics
	AuthzDecisionsTotal  *prometheus.CounterVec
	AuthzStageDuration   *prometheus.HistogramVec
	QuotaRejectionsTotal prometheus.Counter
	GrantsIssuedTotal    prometheus.Counter

	// Cache metrics
	CacheHitsTotal               *prometheus.CounterVec
	CacheMissesTotal             *prometheus.CounterVec
	CacheSingleflightSharedTotal *prometheus.CounterVec
	CacheErrorsTotal             *prometheus.CounterVec

	// Store metrics
	StoreRetriesTotal *prometheus.CounterVec

	// Background work
	BookkeepingDroppedTotal *prometheus.CounterVec

	// Database pool metrics
	DBConnectionsOpen  prometheus.Gauge
	DBConnectionsInUse prometheus.Gauge
	DBConnectionsIdle  prometheus.Gauge
	DBWaitCount        prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		AuthzDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assetgate_authz_decisions_total",
				Help: "Total number of authorization decisions by outcome",
			},
			[]string{"outcome"},
		),
		AuthzStageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "assetgate_authz_stage_duration_seconds",
				Help:    "Authorization pipeline stage duration in seconds",
				Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2},
			},
			[]string{"stage"},
		),
		QuotaRejectionsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "assetgate_quota_rejections_total",
				Help: "Total number of requests rejected because the account quota was reached",
			},
		),
		GrantsIssuedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "assetgate_grants_issued_total",
				Help: "Total number of access grants issued",
			},
		),

		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assetgate_cache_hits_total",
				Help: "Total number of cache hits",
			},
			[]string{"kind", "tier"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assetgate_cache_misses_total",
				Help: "Total number of cache misses",
			},
			[]string{"kind"},
		),
		CacheSingleflightSharedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assetgate_cache_singleflight_shared_total",
				Help: "Total number of cache misses served by another in-flight load",
			},
			[]string{"kind"},
		),
		CacheErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assetgate_cache_errors_total",
				Help: "Total number of cache backend errors",
			},
			[]string{"kind", "operation"},
		),

		StoreRetriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assetgate_store_retries_total",
				Help: "Total number of retried source-of-truth reads",
			},
			[]string{"operation"},
		),

		BookkeepingDroppedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assetgate_bookkeeping_dropped_total",
				Help: "Total number of background bookkeeping tasks dropped or failed",
			},
			[]string{"task"},
		),

		DBConnectionsOpen: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "assetgate_db_connections_open",
				Help: "Number of open database connections",
			},
		),
		DBConnectionsInUse: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "assetgate_db_connections_in_use",
				Help: "Number of database connections in use",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "assetgate_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
		DBWaitCount: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "assetgate_db_connections_wait_count",
				Help: "Total number of connections waited for",
			},
		),
	}

	registry.MustRegister(
		m.AuthzDecisionsTotal,
		m.AuthzStageDuration,
		m.QuotaRejectionsTotal,
		m.GrantsIssuedTotal,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.CacheSingleflightSharedTotal,
		m.CacheErrorsTotal,
		m.StoreRetriesTotal,
		m.BookkeepingDroppedTotal,
		m.DBConnectionsOpen,
		m.DBConnectionsInUse,
		m.DBConnectionsIdle,
		m.DBWaitCount,
	)

	return m
}

// RecordDecision counts one authorization outcome
func (m *Metrics) RecordDecision(outcome string) {
	if m == nil {
		return
	}
	m.AuthzDecisionsTotal.WithLabelValues(outcome).Inc()
}

// ObserveStage records how long a pipeline stage took
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.AuthzStageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// QuotaRejected counts a quota rejection
func (m *Metrics) QuotaRejected() {
	if m == nil {
		return
	}
	m.QuotaRejectionsTotal.Inc()
}

// GrantIssued counts an issued grant
func (m *Metrics) GrantIssued() {
	if m == nil {
		return
	}
	m.GrantsIssuedTotal.Inc()
}

// CacheHit counts a hit on the given tier ("l1", "l2", "memory", "redis")
func (m *Metrics) CacheHit(kind, tier string) {
	if m == nil {
		return
	}
	m.CacheHitsTotal.WithLabelValues(kind, tier).Inc()
}

// CacheMiss counts a miss that went to the source of truth
func (m *Metrics) CacheMiss(kind string) {
	if m == nil {
		return
	}
	m.CacheMissesTotal.WithLabelValues(kind).Inc()
}

// CacheShared counts a miss collapsed into another caller's load
func (m *Metrics) CacheShared(kind string) {
	if m == nil {
		return
	}
	m.CacheSingleflightSharedTotal.WithLabelValues(kind).Inc()
}

// CacheError counts a cache backend failure
func (m *Metrics) CacheError(kind, operation string) {
	if m == nil {
		return
	}
	m.CacheErrorsTotal.WithLabelValues(kind, operation).Inc()
}

// StoreRetry counts a retried read
func (m *Metrics) StoreRetry(operation string) {
	if m == nil {
		return
	}
	m.StoreRetriesTotal.WithLabelValues(operation).Inc()
}

// BookkeepingDropped counts a background task that was dropped or failed
func (m *Metrics) BookkeepingDropped(task string) {
	if m == nil {
		return
	}
	m.BookkeepingDroppedTotal.WithLabelValues(task).Inc()
}

// RecordDBStats copies connection pool stats into the gauges
func (m *Metrics) RecordDBStats(stats sql.DBStats) {
	if m == nil {
		return
	}
	m.DBConnectionsOpen.Set(float64(stats.OpenConnections))
	m.DBConnectionsInUse.Set(float64(stats.InUse))
	m.DBConnectionsIdle.Set(float64(stats.Idle))
	m.DBWaitCount.Set(float64(stats.WaitCount))
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(router *mux.Router, gatherer prometheus.Gatherer) {
	router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
}
