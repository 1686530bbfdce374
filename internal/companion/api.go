package companion

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"kcu-companion/internal/chart"
	"kcu-companion/internal/dispatcher"
	"kcu-companion/internal/indicator"
	"kcu-companion/internal/logger"
	"kcu-companion/internal/markethours"
)

const traceHeader = "X-Trace-Id"

// chartInfo is one entry of GET /api/charts.
type chartInfo struct {
	Symbol  string           `json:"symbol"`
	TF      int              `json:"tf"`
	Bars    int              `json:"bars"`
	Levels  int              `json:"levels"`
	Follow  bool             `json:"follow"`
	Session string           `json:"session"`
	Stats   dispatcher.Stats `json:"stats"`
}

type rangeRequest struct {
	From *int `json:"from"`
	To   *int `json:"to"`
	Last int  `json:"last"`
}

type reloadRequest struct {
	Specs string `json:"specs"` // INDICATOR_CONFIGS format
}

// Handler serves the HTTP API, the WebSocket endpoint and, when configured,
// /healthz and /metrics.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/charts", s.handleCharts)
	mux.HandleFunc("GET /api/charts/{symbol}", s.handleSnapshot)
	mux.HandleFunc("POST /api/charts/{symbol}/realtime", s.handleRealtime)
	mux.HandleFunc("POST /api/charts/{symbol}/range", s.handleRange)
	mux.HandleFunc("POST /api/indicators", s.handleReload)
	mux.HandleFunc("GET /api/latency", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.latency.Summary())
	})
	if s.opts.Hub != nil {
		mux.HandleFunc("/ws", s.opts.Hub.HandleWS)
	}
	if s.opts.Health != nil {
		mux.Handle("/healthz", s.opts.Health)
	}
	if s.opts.Metrics != nil {
		mux.Handle("/metrics", s.opts.Metrics.Handler())
	}
	return s.withTrace(mux)
}

func (s *Service) handleCharts(w http.ResponseWriter, r *http.Request) {
	session := markethours.StatusString(s.clock.Now())
	out := make([]chartInfo, 0, len(s.symbols))
	for _, sym := range s.symbols {
		var info chartInfo
		err := s.Do(r.Context(), sym, func(c *chart.Chart) {
			snap := c.Snapshot()
			info = chartInfo{
				Symbol:  snap.Symbol,
				TF:      snap.TF,
				Bars:    len(snap.Candles),
				Levels:  len(snap.Levels),
				Follow:  snap.Follow,
				Session: session,
				Stats:   snap.Stats,
			}
		})
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		out = append(out, info)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Service) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := s.Snapshot(r.Context(), r.PathValue("symbol"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Service) handleRealtime(w http.ResponseWriter, r *http.Request) {
	err := s.Do(r.Context(), r.PathValue("symbol"), func(c *chart.Chart) { c.ScrollToRealtime() })
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Service) handleRange(w http.ResponseWriter, r *http.Request) {
	var req rangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}
	var apply func(c *chart.Chart)
	switch {
	case req.Last > 0:
		apply = func(c *chart.Chart) { c.ShowLast(req.Last) }
	case req.From != nil && req.To != nil:
		apply = func(c *chart.Chart) { c.SetRange(*req.From, *req.To) }
	default:
		http.Error(w, "need last, or from and to", http.StatusBadRequest)
		return
	}
	if err := s.Do(r.Context(), r.PathValue("symbol"), apply); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReload handles POST /api/indicators for live overlay changes.
func (s *Service) handleReload(w http.ResponseWriter, r *http.Request) {
	var req reloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Specs) == "" {
		http.Error(w, "specs is required", http.StatusBadRequest)
		return
	}
	specs, err := indicator.ParseSpecsStrict(req.Specs)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	preserved, created, err := s.ReloadIndicators(r.Context(), specs)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"preserved": preserved,
		"created":   created,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Service) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrUnknownChart):
		status = http.StatusNotFound
	case errors.Is(err, ErrStopped):
		status = http.StatusServiceUnavailable
	case errors.Is(err, indicator.ErrInvalidSpec):
		status = http.StatusBadRequest
	}
	s.log.Warn("request failed", append(logger.LogWithTrace(r.Context()),
		"method", r.Method, "path", r.URL.Path, "status", status, "err", err)...)
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// withTrace tags each request with a trace id. A caller-supplied
// X-Trace-Id is kept, otherwise one is generated. The id is echoed back.
func (s *Service) withTrace(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tid := r.Header.Get(traceHeader)
		if tid == "" {
			tid = logger.GenerateTraceID("http", s.clock.Now())
		}
		w.Header().Set(traceHeader, tid)
		ctx := logger.WithTraceID(r.Context(), tid)
		s.log.Debug("http request", append(logger.LogWithTrace(ctx), "method", r.Method, "path", r.URL.Path)...)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
