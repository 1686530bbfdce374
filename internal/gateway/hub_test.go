package gateway

import (
	"bytes"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kcu-companion/internal/levels"
	"kcu-companion/internal/model"
)

type envelope struct {
	Type    string          `json:"type"`
	Symbol  string          `json:"symbol"`
	Seq     int64           `json:"seq"`
	TS      string          `json:"ts"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

func TestBuildEnvelopeFormat(t *testing.T) {
	now := time.Date(2026, 3, 2, 14, 30, 1, 0, time.UTC)
	buf := buildEnvelope("candle", "SPY", 42, now, []byte(`{"time":1,"close":2}`))

	var env envelope
	require.NoError(t, json.Unmarshal(buf, &env), string(buf))
	assert.Equal(t, "candle", env.Type)
	assert.Equal(t, "SPY", env.Symbol)
	assert.Equal(t, int64(42), env.Seq)
	parsed, err := time.Parse(time.RFC3339Nano, env.TS)
	require.NoError(t, err)
	assert.True(t, parsed.Equal(now))
	assert.JSONEq(t, `{"time":1,"close":2}`, string(env.Data))
}

func TestBroadcast_EncodeErrorReturned(t *testing.T) {
	h := NewHub(clock.NewMock())
	err := h.Broadcast("SPY", "candle", model.Candle{Time: 1, Close: math.NaN()})
	assert.Error(t, err)
	assert.Equal(t, int64(0), h.Seq("SPY"), "failed envelopes consume no sequence number")
}

func TestMissed(t *testing.T) {
	h := NewHub(clock.NewMock())
	h.replayCap = 3
	for i := 0; i < 5; i++ {
		require.NoError(t, h.Broadcast("SPY", "fit", struct{}{}))
	}

	envs, ok := h.Missed("SPY", 3)
	require.True(t, ok)
	assert.Len(t, envs, 2)

	_, ok = h.Missed("SPY", 1)
	assert.False(t, ok, "seq 2 fell out of the buffer")

	envs, ok = h.Missed("SPY", 5)
	assert.True(t, ok)
	assert.Empty(t, envs)

	_, ok = h.Missed("SPY", 9)
	assert.False(t, ok, "a client ahead of the server needs a snapshot")

	_, ok = h.Missed("QQQ", 1)
	assert.False(t, ok)
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// reader splits coalesced frames into envelopes.
type reader struct {
	t       *testing.T
	conn    *websocket.Conn
	pending []envelope
}

func (r *reader) next() envelope {
	r.t.Helper()
	for len(r.pending) == 0 {
		r.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, msg, err := r.conn.ReadMessage()
		require.NoError(r.t, err)
		for _, line := range bytes.Split(msg, []byte{'\n'}) {
			var env envelope
			require.NoError(r.t, json.Unmarshal(line, &env), string(line))
			r.pending = append(r.pending, env)
		}
	}
	env := r.pending[0]
	r.pending = r.pending[1:]
	return env
}

func send(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(v))
}

func newTestServer(t *testing.T) (*Hub, *httptest.Server) {
	h := NewHub(clock.NewMock())
	h.Snapshot = func(symbol string) ([]byte, bool) {
		if symbol != "SPY" && symbol != "QQQ" {
			return nil, false
		}
		env, err := h.SnapshotEnvelope(symbol, map[string]string{"symbol": symbol})
		return env, err == nil
	}
	srv := httptest.NewServer(http.HandlerFunc(h.HandleWS))
	t.Cleanup(func() {
		h.Close()
		srv.Close()
	})
	return h, srv
}

func TestHub_SubscribeSnapshotThenUpdates(t *testing.T) {
	h, srv := newTestServer(t)
	conn := dial(t, srv)
	r := &reader{t: t, conn: conn}

	send(t, conn, map[string]any{"type": "subscribe", "symbol": "SPY"})
	env := r.next()
	assert.Equal(t, "snapshot", env.Type)
	assert.Equal(t, "SPY", env.Symbol)
	assert.Equal(t, int64(0), env.Seq)

	spy := NewSurface(h, "SPY")
	qqq := NewSurface(h, "QQQ")

	require.NoError(t, spy.UpdateCandle(model.Candle{Time: 60, Open: 1, High: 2, Low: 0.5, Close: 1.5}))
	require.NoError(t, qqq.FitContent())
	require.NoError(t, spy.UpdateLastPoint("EMA_9", model.Present(60, 1.25)))
	require.NoError(t, spy.UpdateLastPoint("VWAP", model.Absent(60)))

	env = r.next()
	assert.Equal(t, "candle", env.Type)
	assert.Equal(t, int64(1), env.Seq)
	var c model.Candle
	require.NoError(t, json.Unmarshal(env.Data, &c))
	assert.Equal(t, 1.5, c.Close)

	env = r.next()
	assert.Equal(t, "point", env.Type, "QQQ envelopes are not delivered")
	assert.Equal(t, int64(2), env.Seq)
	assert.JSONEq(t, `{"name":"EMA_9","point":{"time":60,"value":1.25}}`, string(env.Data))

	env = r.next()
	assert.JSONEq(t, `{"name":"VWAP","point":{"time":60}}`, string(env.Data))
}

func TestHub_LineEnvelopes(t *testing.T) {
	h, srv := newTestServer(t)
	conn := dial(t, srv)
	r := &reader{t: t, conn: conn}
	send(t, conn, map[string]any{"type": "subscribe", "symbol": "SPY"})
	r.next()

	s := NewSurface(h, "SPY")
	slot := levels.Slot{Pool: levels.PoolGamma, Index: 2, Active: true, Line: levels.Line{
		Level: model.PriceLevel{Price: 505, Label: "Call Wall", Kind: model.KindCallWall},
		Style: levels.Style{Color: "#22c55e", Width: 2, LineStyle: levels.LineDashed},
		From:  100, To: 200, Near: true,
	}}
	require.NoError(t, s.SetLine(slot))
	require.NoError(t, s.SetLevelAlert(slot, true))
	require.NoError(t, s.ClearLine(slot))

	env := r.next()
	require.Equal(t, "line", env.Type)
	var line LineMsg
	require.NoError(t, json.Unmarshal(env.Data, &line))
	assert.Equal(t, NewLineMsg(slot), line)
	assert.Equal(t, "gamma:2", line.Slot)

	env = r.next()
	assert.Equal(t, "alert", env.Type)
	assert.JSONEq(t, `{"slot":"gamma:2","near":true}`, string(env.Data))

	env = r.next()
	assert.Equal(t, "line_clear", env.Type)
	assert.JSONEq(t, `{"slot":"gamma:2"}`, string(env.Data))
}

func TestHub_UnknownSymbol(t *testing.T) {
	_, srv := newTestServer(t)
	conn := dial(t, srv)
	r := &reader{t: t, conn: conn}

	send(t, conn, map[string]any{"type": "subscribe", "symbol": "NOPE"})
	env := r.next()
	assert.Equal(t, "error", env.Type)
	assert.Equal(t, "unknown symbol", env.Message)
}

func TestHub_ResumeFromSeq(t *testing.T) {
	h, srv := newTestServer(t)
	s := NewSurface(h, "SPY")
	require.NoError(t, s.FitContent())
	require.NoError(t, s.SetVisibleRange(10, 20))

	conn := dial(t, srv)
	r := &reader{t: t, conn: conn}
	send(t, conn, map[string]any{"type": "subscribe", "symbol": "SPY", "since": 1})

	env := r.next()
	assert.Equal(t, "range", env.Type, "only the missed envelope is replayed")
	assert.Equal(t, int64(2), env.Seq)
	assert.JSONEq(t, `{"from":10,"to":20}`, string(env.Data))
}

func TestHub_CommandsAndPing(t *testing.T) {
	h, srv := newTestServer(t)
	cmds := make(chan string, 1)
	h.OnCommand = func(symbol, command string) { cmds <- symbol + ":" + command }

	conn := dial(t, srv)
	r := &reader{t: t, conn: conn}

	send(t, conn, map[string]any{"type": "realtime", "symbol": "SPY"})
	send(t, conn, map[string]any{"type": "subscribe", "symbol": "SPY"})
	r.next()
	send(t, conn, map[string]any{"type": "realtime", "symbol": "SPY"})

	select {
	case got := <-cmds:
		assert.Equal(t, "SPY:realtime", got, "commands require a subscription")
	case <-time.After(2 * time.Second):
		t.Fatal("command not delivered")
	}

	send(t, conn, map[string]any{"ping": 7})
	env := r.next()
	assert.Equal(t, "pong", env.Type)
}

func TestHub_SymbolCaseInsensitive(t *testing.T) {
	h, srv := newTestServer(t)
	cmds := make(chan string, 1)
	h.OnCommand = func(symbol, command string) { cmds <- symbol + ":" + command }

	conn := dial(t, srv)
	r := &reader{t: t, conn: conn}

	send(t, conn, map[string]any{"type": "subscribe", "symbol": " spy "})
	env := r.next()
	require.Equal(t, "snapshot", env.Type)
	assert.Equal(t, "SPY", env.Symbol)

	require.NoError(t, NewSurface(h, "SPY").FitContent())
	env = r.next()
	assert.Equal(t, "fit", env.Type, "broadcasts reach a lowercase subscriber")
	assert.Equal(t, "SPY", env.Symbol)

	send(t, conn, map[string]any{"type": "realtime", "symbol": "spy"})
	select {
	case got := <-cmds:
		assert.Equal(t, "SPY:realtime", got)
	case <-time.After(2 * time.Second):
		t.Fatal("command not delivered")
	}

	send(t, conn, map[string]any{"type": "unsubscribe", "symbol": "Spy"})
	send(t, conn, map[string]any{"ping": 1})
	assert.Equal(t, "pong", r.next().Type)
	require.NoError(t, NewSurface(h, "SPY").FitContent())
	send(t, conn, map[string]any{"ping": 2})
	assert.Equal(t, "pong", r.next().Type, "unsubscribe matched the upper-cased symbol")
}

func TestHub_ClientCount(t *testing.T) {
	h, srv := newTestServer(t)
	counts := make(chan int, 4)
	h.OnClients = func(n int) { counts <- n }

	conn := dial(t, srv)
	assert.Equal(t, 1, <-counts)
	assert.Equal(t, 1, h.ClientCount())

	conn.Close()
	select {
	case n := <-counts:
		assert.Equal(t, 0, n)
	case <-time.After(2 * time.Second):
		t.Fatal("disconnect not observed")
	}
}
