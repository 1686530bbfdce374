package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	return rr.Body.String()
}

func TestNewMetrics_Independent(t *testing.T) {
	a, b := NewMetrics(), NewMetrics()
	a.TicksTotal.WithLabelValues("SPY").Inc()
	assert.Contains(t, scrape(t, a), `companion_ticks_total{symbol="SPY"} 1`)
	assert.NotContains(t, scrape(t, b), `companion_ticks_total{symbol="SPY"}`)
}

func TestHandler_ExposesMetrics(t *testing.T) {
	m := NewMetrics()
	m.DroppedTicks.WithLabelValues("SPY", "stale").Inc()
	m.ObserveTickLatency(2 * time.Millisecond)

	body := scrape(t, m)
	assert.True(t, strings.Contains(body, `companion_dropped_ticks_total{reason="stale",symbol="SPY"} 1`), body)
	assert.Contains(t, body, "companion_tick_latency_seconds_count 1")
}

func healthOf(t *testing.T, h *HealthStatus) (int, map[string]any) {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	return rr.Code, body
}

func TestHealth_Status(t *testing.T) {
	h := NewHealthStatus()
	code, body := healthOf(t, h)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "unhealthy", body["status"])

	h.SetRedisConnected(true)
	h.SetFeedConnected(true)
	code, body = healthOf(t, h)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", body["status"])

	h.SetSQLite(true, false)
	code, body = healthOf(t, h)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "degraded", body["status"])

	h.SetSQLite(true, true)
	h.SetCharts([]string{"SPY:60s"})
	h.SetLastTickTime(time.Now())
	code, body = healthOf(t, h)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, []any{"SPY:60s"}, body["charts"])
	assert.NotEmpty(t, body["tick_age"])
}
