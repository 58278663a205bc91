package observability

import (
	"database/sql"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics_RegistersAll(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)
	require.NotNil(t, m)

	m.RecordDecision("granted")
	m.ObserveStage("credential", 3*time.Millisecond)
	m.CacheHit("credential", "l1")
	m.CacheMiss("credential")
	m.CacheShared("credential")
	m.CacheError("credential", "get")
	m.StoreRetry("GetAccount")
	m.BookkeepingDropped("touch_credential")
	m.QuotaRejected()
	m.GrantIssued()

	families, err := registry.Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"assetgate_authz_decisions_total",
		"assetgate_authz_stage_duration_seconds",
		"assetgate_cache_hits_total",
		"assetgate_cache_misses_total",
		"assetgate_cache_singleflight_shared_total",
		"assetgate_quota_rejections_total",
		"assetgate_grants_issued_total",
		"assetgate_bookkeeping_dropped_total",
		"assetgate_store_retries_total",
	} {
		assert.True(t, names[want], "missing metric %s", want)
	}
}

func TestMetrics_Counters(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordDecision("granted")
	m.RecordDecision("granted")
	m.RecordDecision("payment_required")
	assert.Equal(t, float64(2), testutil.ToFloat64(m.AuthzDecisionsTotal.WithLabelValues("granted")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.AuthzDecisionsTotal.WithLabelValues("payment_required")))

	m.CacheHit("permission", "l2")
	assert.Equal(t, float64(1), testutil.ToFloat64(m.CacheHitsTotal.WithLabelValues("permission", "l2")))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.CacheHitsTotal.WithLabelValues("permission", "l1")))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordDecision("granted")
		m.ObserveStage("quota", time.Second)
		m.CacheHit("k", "l1")
		m.CacheMiss("k")
		m.CacheShared("k")
		m.CacheError("k", "set")
		m.StoreRetry("op")
		m.BookkeepingDropped("task")
		m.QuotaRejected()
		m.GrantIssued()
		m.RecordDBStats(sql.DBStats{})
	})
}

func TestMetrics_RecordDBStats(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.RecordDBStats(sql.DBStats{OpenConnections: 5, InUse: 3, Idle: 2, WaitCount: 7})

	assert.Equal(t, float64(5), testutil.ToFloat64(m.DBConnectionsOpen))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.DBConnectionsInUse))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.DBConnectionsIdle))
	assert.Equal(t, float64(7), testutil.ToFloat64(m.DBWaitCount))
}

func TestRegisterMetricsEndpoint(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)
	m.GrantIssued()

	router := mux.NewRouter()
	RegisterMetricsEndpoint(router, registry)

	srv := httptest.NewServer(router)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "assetgate_grants_issued_total 1")
}
