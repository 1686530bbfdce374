package companion

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kcu-companion/internal/chart"
	"kcu-companion/internal/latency"
	"kcu-companion/internal/logger"
	"kcu-companion/internal/markethours"
)

func startAPI(t *testing.T) (*fixture, *httptest.Server) {
	t.Helper()
	f := newFixture(t, nil)
	f.start(t)
	require.Eventually(t, func() bool { return f.snapshotBars(t, "SPY") == 30 }, 2*time.Second, 10*time.Millisecond)
	srv := httptest.NewServer(f.svc.Handler())
	t.Cleanup(srv.Close)
	return f, srv
}

func post(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func get(t *testing.T, url string) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestAPI_ListCharts(t *testing.T) {
	_, srv := startAPI(t)

	resp := get(t, srv.URL+"/api/charts")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var charts []chartInfo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&charts))
	require.Len(t, charts, 2)
	assert.Equal(t, "QQQ", charts[0].Symbol)
	assert.Equal(t, 0, charts[0].Bars)
	assert.Equal(t, "SPY", charts[1].Symbol)
	assert.Equal(t, 60, charts[1].TF)
	assert.Equal(t, 30, charts[1].Bars)
	assert.False(t, charts[1].Follow, "bulk load does not follow")
	assert.NotEmpty(t, charts[1].Session)
}

func TestAPI_ChartsReportSession(t *testing.T) {
	f, srv := startAPI(t)

	resp := get(t, srv.URL+"/api/charts")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var charts []chartInfo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&charts))
	want := markethours.StatusString(f.clk.Now())
	for _, c := range charts {
		assert.Equal(t, want, c.Session, c.Symbol)
	}
}

// syncBuffer is a goroutine-safe log sink.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestAPI_TraceID(t *testing.T) {
	logs := &syncBuffer{}
	f := newFixture(t, func(o *Options) {
		o.Logger = slog.New(slog.NewTextHandler(logs, nil))
	})
	f.start(t)
	srv := httptest.NewServer(f.svc.Handler())
	t.Cleanup(srv.Close)

	resp := get(t, srv.URL+"/api/latency")
	assert.Equal(t, logger.GenerateTraceID("http", f.clk.Now()), resp.Header.Get("X-Trace-Id"))

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/charts/MSFT", nil)
	require.NoError(t, err)
	req.Header.Set("X-Trace-Id", "client-42")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "client-42", resp.Header.Get("X-Trace-Id"), "caller trace id is kept")

	out := logs.String()
	assert.Contains(t, out, "request failed")
	assert.Contains(t, out, "trace_id=client-42")
	assert.Contains(t, out, "path=/api/charts/MSFT")
}

func TestAPI_Snapshot(t *testing.T) {
	_, srv := startAPI(t)

	resp := get(t, srv.URL+"/api/charts/spy")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var snap chart.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	assert.Equal(t, "SPY", snap.Symbol)
	assert.Len(t, snap.Candles, 30)
	assert.Len(t, snap.Series, 2)

	resp = get(t, srv.URL+"/api/charts/MSFT")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_Realtime(t *testing.T) {
	_, srv := startAPI(t)

	resp := post(t, srv.URL+"/api/charts/SPY/realtime", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = post(t, srv.URL+"/api/charts/MSFT/realtime", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = get(t, srv.URL+"/api/charts/SPY/realtime")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestAPI_Range(t *testing.T) {
	f, srv := startAPI(t)

	resp := post(t, srv.URL+"/api/charts/SPY/range", `{"from":5,"to":9}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	snap, err := f.svc.Snapshot(context.Background(), "SPY")
	require.NoError(t, err)
	require.NotNil(t, snap.Range)
	assert.Equal(t, 5, snap.Range.From)
	assert.Equal(t, 9, snap.Range.To)
	assert.False(t, snap.Follow)

	resp = post(t, srv.URL+"/api/charts/SPY/range", `{"last":10}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	snap, err = f.svc.Snapshot(context.Background(), "SPY")
	require.NoError(t, err)
	assert.Equal(t, 20, snap.Range.From)
	assert.Equal(t, 29, snap.Range.To)

	for _, body := range []string{`{`, `{}`, `{"from":1}`} {
		resp = post(t, srv.URL+"/api/charts/SPY/range", body)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
	}
	resp = post(t, srv.URL+"/api/charts/MSFT/range", `{"last":10}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_ReloadIndicators(t *testing.T) {
	f, srv := startAPI(t)

	resp := post(t, srv.URL+"/api/indicators", `{"specs":"EMA:3,EMA:8,VWAP"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out struct {
		Status    string `json:"status"`
		Preserved int    `json:"preserved"`
		Created   int    `json:"created"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "ok", out.Status)
	assert.Equal(t, 4, out.Preserved, "EMA_3 and VWAP on two charts")
	assert.Equal(t, 2, out.Created)

	resp = post(t, srv.URL+"/api/indicators", `{"specs":"EMA:3,EMA:3"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	for _, bad := range []string{"EMA:abc", "garbage", "EMA:9,RSI:14", "EMA:-3"} {
		resp = post(t, srv.URL+"/api/indicators", `{"specs":"`+bad+`"}`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, bad)
	}
	snap, err := f.svc.Snapshot(context.Background(), "SPY")
	require.NoError(t, err)
	names := make([]string, len(snap.Series))
	for i, ser := range snap.Series {
		names[i] = ser.Name
	}
	assert.Equal(t, []string{"EMA_3", "EMA_8", "VWAP"}, names, "rejected reloads leave overlays alone")

	resp = post(t, srv.URL+"/api/indicators", `{"specs":"  "}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp = post(t, srv.URL+"/api/indicators", `nope`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_Latency(t *testing.T) {
	_, srv := startAPI(t)

	resp := get(t, srv.URL+"/api/latency")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var sum latency.Summary
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&sum))
	assert.Zero(t, sum.Count)
}

func TestAPI_OptionalEndpoints(t *testing.T) {
	_, srv := startAPI(t)

	for _, path := range []string{"/ws", "/healthz", "/metrics"} {
		resp := get(t, srv.URL+path)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, path)
	}
}
