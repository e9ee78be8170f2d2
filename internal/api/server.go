// Package api implements the query server: the REST and websocket surface
// over the indexed database and the replay engine, grounded on the
// teacher's internal/metrics.StartServer bare-mux shape and cmd/ui/main.go's
// HandleFunc routing, generalized from a single metrics/health endpoint and
// a graph websocket to the full route set the indexer exposes.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"polyindex/internal/metrics"
	"polyindex/internal/replay"
	"polyindex/internal/store"
	"polyindex/internal/sync"
)

// Server is the query server's HTTP handler set: read-only access to the
// indexed store, trigger/poll access to the replay engine, the sync
// coordinator's status snapshot, and the Prometheus exposition endpoint.
type Server struct {
	store       *store.Store
	engine      *replay.Engine
	coordinator *sync.Coordinator
	metrics     *metrics.Metrics
	mux         *http.ServeMux
}

// New builds a Server and registers every route.
func New(s *store.Store, e *replay.Engine, c *sync.Coordinator, m *metrics.Metrics) *Server {
	srv := &Server{store: s, engine: e, coordinator: c, metrics: m, mux: http.NewServeMux()}
	srv.routes()
	return srv
}

// ListenAndServe starts the server on the given port, blocking until ctx is
// canceled or the server errors.
func (s *Server) ListenAndServe(ctx context.Context, port int) error {
	httpSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: s.mux,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", port).Msg("query server listening")
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/health", s.withCORS(s.handleHealth))
	s.mux.HandleFunc("/api/tables", s.withCORS(s.handleTables))
	s.mux.HandleFunc("/api/sync-state", s.withCORS(s.handleSyncState))
	s.mux.HandleFunc("/api/query", s.withCORS(s.handleQuery))
	s.mux.HandleFunc("/api/rebuild", s.withCORS(s.handleRebuild))
	s.mux.HandleFunc("/api/rebuild-status", s.withCORS(s.handleRebuildStatus))
	s.mux.HandleFunc("/api/user/", s.withCORS(s.handleUser))
	s.mux.HandleFunc("/api/replay", s.withCORS(s.handleReplay))
	s.mux.HandleFunc("/api/replay-positions", s.withCORS(s.handleReplayPositions))
	s.mux.HandleFunc("/api/replay-trades", s.withCORS(s.handleReplayTrades))
	s.mux.HandleFunc("/api/replay-users", s.withCORS(s.handleReplayUsers))
	s.mux.HandleFunc("/api/ws/sync-status", s.handleSyncStatusWS)
	s.mux.Handle("/metrics", s.metricsHandler())
	s.mux.HandleFunc("/", s.handleStatic)
}

func (s *Server) metricsHandler() http.Handler {
	if s.metrics == nil {
		return http.NotFoundHandler()
	}
	return s.metrics.Handler()
}

// withCORS wraps a handler with the permissive cross-origin headers the
// teacher's browser-facing UI server relies on, and records request
// latency/status-class metrics per route.
func (s *Server) withCORS(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next(sw, r)
		if s.metrics != nil {
			s.metrics.RecordHTTPRequest(r.URL.Path, statusClass(sw.status), time.Since(start))
		}
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func statusClass(code int) string {
	return strconv.Itoa(code/100) + "xx"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("encoding json response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleTables(w http.ResponseWriter, r *http.Request) {
	tables, err := s.store.Tables(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tables": tables})
}

func (s *Server) handleSyncState(w http.ResponseWriter, r *http.Request) {
	last, err := s.store.LastBlock(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := map[string]any{"last_block": last}
	if s.coordinator != nil {
		resp["sync_status"] = s.coordinator.Status()
	}
	writeJSON(w, http.StatusOK, resp)
}

// forbiddenQueryPattern rejects anything but a single read-only SELECT:
// statement separators, SQL comments, and every DML/DDL keyword. Checked
// against the upper-cased query so callers can't dodge it with mixed case.
var forbiddenQueryPattern = regexp.MustCompile(
	`;|--|/\*|\bINSERT\b|\bUPDATE\b|\bDELETE\b|\bDROP\b|\bCREATE\b|\bALTER\b|\bTRUNCATE\b|\bATTACH\b|\bPRAGMA\b`)

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeError(w, http.StatusBadRequest, "missing q parameter")
		return
	}
	upper := strings.ToUpper(q)
	if !strings.HasPrefix(upper, "SELECT") {
		writeError(w, http.StatusBadRequest, "only SELECT queries are allowed")
		return
	}
	if forbiddenQueryPattern.MatchString(upper) {
		writeError(w, http.StatusBadRequest, "query contains a disallowed keyword or statement separator")
		return
	}

	rows, err := s.store.QueryRows(r.Context(), q)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rows": rows})
}

func (s *Server) handleRebuild(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	if err := s.engine.TriggerRebuild(context.Background()); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func (s *Server) handleRebuildStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Progress())
}

// handleUser dispatches /api/user/{addr}/pnl and /api/user/{addr}/positions.
// spec.md §4.6 names these as distinct routes over the same replay state
// the /api/replay* family exposes; here they're both thin views over
// Engine.UserState so the positions/pnl split doesn't need its own storage.
func (s *Server) handleUser(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/user/")
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[0] == "" {
		writeError(w, http.StatusNotFound, "expected /api/user/{addr}/pnl or /positions")
		return
	}
	addr, view := parts[0], parts[1]

	state, ok := s.engine.UserState(addr)
	if !ok {
		writeError(w, http.StatusNotFound, "no replay data for this user")
		return
	}

	switch view {
	case "pnl":
		byCondition := make(map[uint32]int64, len(state.Conditions))
		var total int64
		for _, cond := range state.Conditions {
			if len(cond.Snapshots) == 0 {
				continue
			}
			pnl := cond.Snapshots[len(cond.Snapshots)-1].RealizedPnL
			byCondition[cond.CondIdx] = pnl
			total += pnl
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"realized_pnl":              total,
			"realized_pnl_by_condition": byCondition,
		})
	case "positions":
		positions, _ := s.engine.ActivePositions(addr)
		writeJSON(w, http.StatusOK, map[string]any{"positions": positions})
	default:
		writeError(w, http.StatusNotFound, "unknown user view: "+view)
	}
}

func (s *Server) handleReplay(w http.ResponseWriter, r *http.Request) {
	addr := r.URL.Query().Get("user")
	if addr == "" {
		writeError(w, http.StatusBadRequest, "missing user parameter")
		return
	}
	timeline, ok := s.engine.UserTimeline(addr)
	if !ok {
		writeError(w, http.StatusNotFound, "no replay data for this user")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"timeline": timeline})
}

func (s *Server) handleReplayPositions(w http.ResponseWriter, r *http.Request) {
	addr := r.URL.Query().Get("user")
	sk, err := strconv.ParseInt(r.URL.Query().Get("sk"), 10, 64)
	if addr == "" || err != nil {
		writeError(w, http.StatusBadRequest, "missing or invalid user/sk parameters")
		return
	}
	positions, ok := s.engine.PositionsAt(addr, sk)
	if !ok {
		writeError(w, http.StatusNotFound, "no replay data for this user")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"positions": positions})
}

func (s *Server) handleReplayTrades(w http.ResponseWriter, r *http.Request) {
	addr := r.URL.Query().Get("user")
	sk, err := strconv.ParseInt(r.URL.Query().Get("sk"), 10, 64)
	if addr == "" || err != nil {
		writeError(w, http.StatusBadRequest, "missing or invalid user/sk parameters")
		return
	}
	radius, err := strconv.ParseInt(r.URL.Query().Get("radius"), 10, 64)
	if err != nil {
		radius = 0
	}
	trades, centerOffset, ok := s.engine.TradesNear(addr, sk, radius)
	if !ok {
		writeError(w, http.StatusNotFound, "no replay data for this user")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"trades": trades, "center_offset": centerOffset})
}

func (s *Server) handleReplayUsers(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": s.engine.UsersSorted(limit)})
}

func (s *Server) handleStatic(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	http.ServeFile(w, r, "static/index.html")
}
