package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func newTestCollector(t *testing.T) *Collector {
	t.Helper()

	return NewCollectorWithRegisterer(prometheus.NewRegistry(), "crisislens", zap.NewNop())
}

func TestCollector_RecordHTTPRequest(t *testing.T) {
	c := newTestCollector(t)

	c.RecordHTTPRequest("POST", "/v1/captions", 200, 120*time.Millisecond, 2048, 512)
	c.RecordHTTPRequest("POST", "/v1/captions", 200, 80*time.Millisecond, 1024, 256)
	c.RecordHTTPRequest("POST", "/v1/captions", 502, 10*time.Millisecond, 1024, 64)

	assert.Equal(t, float64(2), testutil.ToFloat64(
		c.httpRequestsTotal.WithLabelValues("POST", "/v1/captions", "2xx")))
	assert.Equal(t, float64(1), testutil.ToFloat64(
		c.httpRequestsTotal.WithLabelValues("POST", "/v1/captions", "5xx")))
}

func TestCollector_RecordValidation(t *testing.T) {
	c := newTestCollector(t)

	c.RecordValidation("crisis_map", "valid", 5*time.Millisecond)
	c.RecordValidation("crisis_map", "invalid", 3*time.Millisecond)
	c.RecordValidation("drone_image", "valid", 2*time.Millisecond)

	assert.Equal(t, float64(1), testutil.ToFloat64(
		c.validationsTotal.WithLabelValues("crisis_map", "valid")))
	assert.Equal(t, float64(1), testutil.ToFloat64(
		c.validationsTotal.WithLabelValues("crisis_map", "invalid")))
	assert.Equal(t, float64(1), testutil.ToFloat64(
		c.validationsTotal.WithLabelValues("drone_image", "valid")))
}

func TestCollector_RecordCache(t *testing.T) {
	c := newTestCollector(t)

	c.RecordCacheHit("schema_memory")
	c.RecordCacheHit("schema_memory")
	c.RecordCacheMiss("schema_redis")

	assert.Equal(t, float64(2), testutil.ToFloat64(
		c.cacheHits.WithLabelValues("schema_memory")))
	assert.Equal(t, float64(1), testutil.ToFloat64(
		c.cacheMisses.WithLabelValues("schema_redis")))
}

func TestCollector_RecordDBConnections(t *testing.T) {
	c := newTestCollector(t)

	c.RecordDBConnections("crisislens", 8, 3)

	assert.Equal(t, float64(8), testutil.ToFloat64(
		c.dbConnectionsOpen.WithLabelValues("crisislens")))
	assert.Equal(t, float64(3), testutil.ToFloat64(
		c.dbConnectionsIdle.WithLabelValues("crisislens")))
}

func TestStatusCode(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{200, "2xx"},
		{204, "2xx"},
		{301, "3xx"},
		{404, "4xx"},
		{502, "5xx"},
		{99, "unknown"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, statusCode(tt.code))
	}
}
