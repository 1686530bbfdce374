package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the companion chart service.
type Metrics struct {
	Registry *prometheus.Registry

	// Live pipeline
	TicksTotal    *prometheus.CounterVec // labels: symbol
	DroppedTicks  *prometheus.CounterVec // labels: symbol, reason
	BarsCommitted *prometheus.CounterVec // labels: symbol
	TickLatency   prometheus.Histogram
	RecomputeDur  prometheus.Histogram

	// Levels
	LevelSnapshots  *prometheus.CounterVec // labels: symbol
	LevelSlotWrites *prometheus.CounterVec // labels: pool
	ProximityAlerts *prometheus.CounterVec // labels: symbol, kind

	// Transport
	WSClients      prometheus.Gauge
	WSDropped      prometheus.Counter
	FeedReconnects prometheus.Counter

	// Storage
	SQLiteWriteDur  prometheus.Histogram
	RetentionPruned prometheus.Counter

	// Market session state
	MarketState prometheus.Gauge // 0=closed, 1=extended, 2=regular
}

// NewMetrics creates all metrics on a fresh registry, together with the Go
// runtime and process collectors.
func NewMetrics() *Metrics {
	fast := []float64{0.000005, 0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01}
	m := &Metrics{
		Registry: prometheus.NewRegistry(),

		TicksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "companion_ticks_total",
			Help: "Live bar updates received per symbol",
		}, []string{"symbol"}),
		DroppedTicks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "companion_dropped_ticks_total",
			Help: "Live bar updates discarded (malformed or stale)",
		}, []string{"symbol", "reason"}),
		BarsCommitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "companion_bars_committed_total",
			Help: "Building bars finalized per symbol",
		}, []string{"symbol"}),
		TickLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "companion_tick_latency_seconds",
			Help:    "Dispatcher processing time per accepted tick",
			Buckets: fast,
		}),
		RecomputeDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "companion_recompute_duration_seconds",
			Help:    "Full chart reload (history bulk load) duration",
			Buckets: prometheus.DefBuckets,
		}),

		LevelSnapshots: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "companion_level_snapshots_total",
			Help: "Level snapshots applied per symbol",
		}, []string{"symbol"}),
		LevelSlotWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "companion_level_slot_writes_total",
			Help: "Level pool slots redrawn or cleared",
		}, []string{"pool"}),
		ProximityAlerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "companion_proximity_alerts_total",
			Help: "Gamma levels that moved within range of price",
		}, []string{"symbol", "kind"}),

		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "companion_ws_clients",
			Help: "Connected WebSocket clients",
		}),
		WSDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "companion_ws_dropped_messages_total",
			Help: "Messages dropped for slow WebSocket clients",
		}),
		FeedReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "companion_feed_reconnects_total",
			Help: "Live feed reconnection attempts",
		}),

		SQLiteWriteDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "companion_sqlite_write_duration_seconds",
			Help:    "SQLite bar persistence latency",
			Buckets: prometheus.DefBuckets,
		}),
		RetentionPruned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "companion_retention_pruned_total",
			Help: "Bars deleted by the retention job",
		}),

		MarketState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "companion_market_state",
			Help: "US equities session state (0=closed, 1=extended, 2=regular)",
		}),
	}

	m.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.TicksTotal,
		m.DroppedTicks,
		m.BarsCommitted,
		m.TickLatency,
		m.RecomputeDur,
		m.LevelSnapshots,
		m.LevelSlotWrites,
		m.ProximityAlerts,
		m.WSClients,
		m.WSDropped,
		m.FeedReconnects,
		m.SQLiteWriteDur,
		m.RetentionPruned,
		m.MarketState,
	)

	return m
}

// ObserveTickLatency records one dispatcher latency sample.
func (m *Metrics) ObserveTickLatency(d time.Duration) {
	m.TickLatency.Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	FeedConnected  bool      `json:"feed_connected"`
	LastTickTime   time.Time `json:"last_tick_time"`
	RedisConnected bool      `json:"redis_connected"`
	SQLiteEnabled  bool      `json:"sqlite_enabled"`
	SQLiteOK       bool      `json:"sqlite_ok"`
	Charts         []string  `json:"charts"`

	// Liveness probe results
	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		StartedAt: time.Now(),
	}
}

func (h *HealthStatus) SetFeedConnected(v bool) {
	h.mu.Lock()
	h.FeedConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastTickTime(t time.Time) {
	h.mu.Lock()
	h.LastTickTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetRedisConnected(v bool) {
	h.mu.Lock()
	h.RedisConnected = v
	h.mu.Unlock()
}

// SetSQLite records whether SQLite is configured and currently usable.
func (h *HealthStatus) SetSQLite(enabled, ok bool) {
	h.mu.Lock()
	h.SQLiteEnabled = enabled
	h.SQLiteOK = ok
	h.mu.Unlock()
}

func (h *HealthStatus) SetCharts(keys []string) {
	h.mu.Lock()
	h.Charts = append([]string(nil), keys...)
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite pings the database and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if sqlDB != nil {
					h.CheckSQLite(probeCtx, sqlDB)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	// Determine overall status
	overallStatus := "healthy"
	httpCode := http.StatusOK

	sqliteDown := h.SQLiteEnabled && !h.SQLiteOK
	if !h.FeedConnected || !h.RedisConnected || sqliteDown {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}
	if !h.RedisConnected && (sqliteDown || !h.SQLiteEnabled) {
		overallStatus = "unhealthy"
	}

	// Tick age
	tickAge := ""
	lastTick := ""
	if !h.LastTickTime.IsZero() {
		tickAge = time.Since(h.LastTickTime).Round(time.Millisecond).String()
		lastTick = h.LastTickTime.Format(time.RFC3339)
	}

	status := struct {
		Status          string   `json:"status"`
		Uptime          string   `json:"uptime"`
		FeedConnected   bool     `json:"feed_connected"`
		LastTickTime    string   `json:"last_tick_time"`
		TickAge         string   `json:"tick_age"`
		RedisConnected  bool     `json:"redis_connected"`
		RedisLatencyMs  float64  `json:"redis_latency_ms"`
		SQLiteEnabled   bool     `json:"sqlite_enabled"`
		SQLiteOK        bool     `json:"sqlite_ok"`
		SQLiteLatencyMs float64  `json:"sqlite_latency_ms"`
		Charts          []string `json:"charts"`
		LastCheckAt     string   `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		FeedConnected:   h.FeedConnected,
		LastTickTime:    lastTick,
		TickAge:         tickAge,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteEnabled:   h.SQLiteEnabled,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		Charts:          h.Charts,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	addr string
	srv  *http.Server
}

// NewServer creates a metrics and health server.
func NewServer(addr string, m *Metrics, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.Handle("/healthz", health)

	return &Server{
		addr: addr,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
