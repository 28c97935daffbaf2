// Package api serves the read-only status HTTP API: queue and scheduler
// state, health, Prometheus metrics and a websocket event stream. It binds
// to loopback by default and carries no mutating endpoints.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/antigravity-dev/relay/internal/app"
	"github.com/antigravity-dev/relay/internal/config"
)

// Server is the HTTP status server.
type Server struct {
	cfg       *config.Manager
	app       *app.App
	logger    *slog.Logger
	startTime time.Time
	hub       *wsHub

	mu         sync.Mutex
	addr       string
	httpServer *http.Server
}

// NewServer wires a status server over an app. Start runs it.
func NewServer(cfg *config.Manager, a *app.App, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "api")
	return &Server{
		cfg:       cfg,
		app:       a,
		logger:    logger,
		startTime: time.Now(),
		hub:       newWSHub(cfg.Get().API.MaxWSConnections, logger),
	}
}

// Addr returns the bound listen address, empty before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ws", s.handleWS)
	return mux
}

// Start listens on the configured bind address and blocks until ctx is
// cancelled.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Get().API.Bind)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.addr = ln.Addr().String()
	s.mu.Unlock()

	hubCtx, hubCancel := context.WithCancel(ctx)
	defer hubCancel()
	go s.hub.run(hubCtx)
	unsubscribe := s.app.Events().Subscribe(s.hub.offer)
	defer unsubscribe()

	s.httpServer = &http.Server{
		Handler:     s.routes(),
		BaseContext: func(_ net.Listener) context.Context { return ctx },
	}
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutCtx)
	}()

	s.logger.Info("api server starting", "bind", s.addr)
	err = s.httpServer.Serve(ln)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// GET /status
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	qs, err := s.app.GetQueueStatus()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := map[string]any{
		"uptime_s":    time.Since(s.startTime).Seconds(),
		"stats":       qs.Stats,
		"scheduler":   qs.Scheduler,
		"rate_limits": qs.RateLimits,
	}
	if es, err := s.app.GetExecutorStatus(); err == nil && es != nil {
		resp["executor"] = es
	}
	writeJSON(w, resp)
}

// GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	healthy := true
	if _, err := s.app.Queue().GetStats(); err != nil {
		healthy = false
	}
	w.Header().Set("Content-Type", "application/json")
	if !healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(map[string]any{
		"healthy":  healthy,
		"uptime_s": time.Since(s.startTime).Seconds(),
	})
}
