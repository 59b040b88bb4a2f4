package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strconv"

	"github.com/benaskins/herald/internal/supervisor"
)

// Server serves the herald control API for one supervised server.
type Server struct {
	sup      *supervisor.Supervisor
	metrics  http.Handler
	listener net.Listener
	server   *http.Server
	logger   *slog.Logger
	ctx      context.Context
}

// NewServer creates an API server fronting the given supervisor. metrics,
// when non-nil, is mounted at /metrics.
func NewServer(sup *supervisor.Supervisor, metrics http.Handler, ctx context.Context) *Server {
	s := &Server{
		sup:     sup,
		metrics: metrics,
		logger:  slog.With("component", "api"),
		ctx:     ctx,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/status", s.status)
	mux.HandleFunc("GET /v1/descriptor", s.descriptor)
	mux.HandleFunc("GET /v1/diagnostics", s.diagnostics)
	mux.HandleFunc("POST /v1/stop", s.stop)
	mux.HandleFunc("GET /v1/health", s.health)
	if metrics != nil {
		mux.Handle("GET /metrics", metrics)
	}

	s.server = &http.Server{Handler: mux}
	return s
}

// ListenUnix starts the server on a Unix socket.
func (s *Server) ListenUnix(path string) error {
	ln, err := net.Listen("unix", path)
	if err != nil {
		return err
	}
	s.listener = ln
	s.logger.Info("API listening", "socket", path)
	return s.server.Serve(ln)
}

// ListenTCP starts the server on a TCP address.
func (s *Server) ListenTCP(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.listener = ln
	s.logger.Info("API listening", "addr", addr)
	return s.server.Serve(ln)
}

// Shutdown gracefully shuts down the API server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sup.Status())
}

func (s *Server) descriptor(w http.ResponseWriter, r *http.Request) {
	if st := s.sup.Status(); st.State != supervisor.StateReady {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "server not ready, state " + string(st.State)})
		return
	}
	writeJSON(w, http.StatusOK, s.sup.Descriptor())
}

func (s *Server) diagnostics(w http.ResponseWriter, r *http.Request) {
	n := 0
	if raw := r.URL.Query().Get("n"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid line count " + strconv.Quote(raw)})
			return
		}
		n = v
	}
	writeJSON(w, http.StatusOK, map[string][]string{"lines": s.sup.Diagnostics(n)})
}

func (s *Server) stop(w http.ResponseWriter, r *http.Request) {
	s.sup.Stop(s.ctx)
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
