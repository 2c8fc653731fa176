// Package admin exposes the operational HTTP surface spec §7 calls for:
// /healthz, /metrics, /debug/catalog, /debug/sessions, and a /debug/live
// websocket streaming session-state changes. Grounded on the teacher's
// internal/api/routes.go (chi router layout) and internal/api/ws.go
// (the websocket upgrade/push-loop shape), repurposed from streaming
// live query results to streaming session registry snapshots.
package admin

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/kvsql/kvsql/internal/catalog"
	"github.com/kvsql/kvsql/internal/session"
)

// Server holds the shared resources the admin handlers read from; it
// never mutates engine state, only observes it.
type Server struct {
	Sessions *session.Manager
	Catalog  *catalog.Cache
	Log      *zap.Logger

	startedAt   time.Time
	queryCount  int64 // atomic; bumped by the wire front via RecordQuery
}

func NewServer(sessions *session.Manager, cat *catalog.Cache, log *zap.Logger) *Server {
	return &Server{Sessions: sessions, Catalog: cat, Log: log, startedAt: time.Now()}
}

// RecordQuery lets the wire front report one statement's completion for
// /metrics, without the admin package needing a dependency back onto it.
func (s *Server) RecordQuery() {
	atomic.AddInt64(&s.queryCount, 1)
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.loggingMiddleware)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/metrics", s.handleMetrics)
	r.Get("/debug/catalog", s.handleDebugCatalog)
	r.Get("/debug/sessions", s.handleDebugSessions)
	r.Get("/debug/live", s.handleDebugLive)

	return r
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(ww, r)
		s.Log.Debug("admin_request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"uptime_seconds": time.Since(s.startedAt).Seconds(),
		"sessions":       s.Sessions.Count(),
		"queries_total":  atomic.LoadInt64(&s.queryCount),
	})
}

func (s *Server) handleDebugCatalog(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.Catalog.Snapshot())
}

func (s *Server) handleDebugSessions(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.Sessions.Snapshot())
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleDebugLive pushes a session-registry snapshot to the client
// every tick until the connection closes, for a live dashboard.
func (s *Server) handleDebugLive(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Log.Warn("debug_live upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for range ticker.C {
		if err := conn.WriteJSON(s.Sessions.Snapshot()); err != nil {
			s.Log.Debug("debug_live write closed", zap.Error(err))
			return
		}
	}
}
