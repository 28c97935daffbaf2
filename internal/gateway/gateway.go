// Package gateway is the external-process boundary: line-delimited JSON
// over a loopback TCP socket. One request per line, one response line back.
// Collaborating processes submit tasks and read queue state through it
// without linking against relay.
package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/antigravity-dev/relay/internal/app"
	"github.com/antigravity-dev/relay/internal/config"
	"github.com/antigravity-dev/relay/internal/queue"
	"github.com/antigravity-dev/relay/internal/store"
)

const (
	// readIdleTimeout bounds how long a connection may sit between lines.
	readIdleTimeout = 5 * time.Minute
	writeTimeout    = 10 * time.Second
	maxLineBytes    = 1 << 20
)

// request is the union of all accepted message payloads.
type request struct {
	Type           string   `json:"type"`
	ID             string   `json:"id,omitempty"`
	Prompt         string   `json:"prompt,omitempty"`
	Message        string   `json:"message,omitempty"`
	Category       string   `json:"category,omitempty"`
	Priority       string   `json:"priority,omitempty"`
	PreferredModel string   `json:"preferred_model,omitempty"`
	MaxAttempts    int      `json:"max_attempts,omitempty"`
	DependsOn      []string `json:"depends_on,omitempty"`
	TaskID         string   `json:"task_id,omitempty"`
}

// Server accepts gateway connections and answers requests against the app.
type Server struct {
	cfg    *config.Manager
	app    *app.App
	logger *slog.Logger
	limits *remoteLimiter

	mu   sync.Mutex
	addr string
	wg   sync.WaitGroup
}

// NewServer wires a gateway over an app.
func NewServer(cfg *config.Manager, a *app.App, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	gw := cfg.Get().Gateway
	return &Server{
		cfg:    cfg,
		app:    a,
		logger: logger.With("component", "gateway"),
		limits: newRemoteLimiter(gw.PerRemoteRPS, gw.PerRemoteBurst),
	}
}

// Addr returns the bound listen address, empty before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Start listens on the configured bind address and serves until ctx is
// cancelled. Open connections are closed on shutdown.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Get().Gateway.Bind)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.addr = ln.Addr().String()
	s.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	s.logger.Info("gateway listening", "bind", s.addr)
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				s.wg.Wait()
				return nil
			}
			s.logger.Warn("accept failed", "error", err)
			continue
		}
		s.wg.Add(1)
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	connID := uuid.NewString()
	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		host = conn.RemoteAddr().String()
	}
	s.logger.Debug("connection opened", "conn", connID, "remote", host)

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	for {
		conn.SetReadDeadline(time.Now().Add(readIdleTimeout))
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil && ctx.Err() == nil {
				if errors.Is(err, bufio.ErrTooLong) {
					s.writeLine(conn, map[string]any{"type": "error", "message": "line too long"})
				}
				s.logger.Debug("connection read ended", "conn", connID, "error", err)
			}
			return
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		if !s.limits.allow(host) {
			s.writeLine(conn, map[string]any{"type": "error", "message": "rate limited"})
			continue
		}

		var req request
		if err := json.Unmarshal(line, &req); err != nil {
			s.writeLine(conn, map[string]any{"type": "error", "message": "invalid json"})
			continue
		}

		resp := s.handle(ctx, req)
		if req.ID != "" {
			resp["id"] = req.ID
		}
		if !s.writeLine(conn, resp) {
			return
		}
	}
}

func (s *Server) writeLine(conn net.Conn, v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Error("response marshal failed", "error", err)
		return false
	}
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if _, err := conn.Write(append(data, '\n')); err != nil {
		return false
	}
	return true
}

func (s *Server) handle(ctx context.Context, req request) map[string]any {
	switch req.Type {
	case "ping":
		return map[string]any{
			"type":      "pong",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"server":    "relay-gateway",
		}

	case "submit_task":
		id, err := s.app.AddTask(ctx, queue.TaskInput{
			Prompt:         req.Prompt,
			Category:       req.Category,
			Priority:       req.Priority,
			PreferredModel: req.PreferredModel,
			MaxAttempts:    req.MaxAttempts,
			DependsOn:      req.DependsOn,
		})
		if err != nil {
			return errorResponse(err)
		}
		return map[string]any{"type": "task_submitted", "task_id": id}

	case "task_status":
		tk, err := s.app.GetTask(req.TaskID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return map[string]any{"type": "error", "message": "task not found"}
			}
			return errorResponse(err)
		}
		return map[string]any{"type": "task_status", "task": tk}

	case "queue_status":
		qs, err := s.app.GetQueueStatus()
		if err != nil {
			return errorResponse(err)
		}
		return map[string]any{"type": "queue_status", "status": qs}

	case "classify":
		msg := req.Message
		if msg == "" {
			msg = req.Prompt
		}
		c := s.app.Classify(ctx, msg)
		return map[string]any{
			"type":       "classification",
			"category":   c.Category,
			"confidence": c.Confidence,
			"reason":     c.Reason,
		}

	default:
		return map[string]any{"type": "error", "message": "unknown message type: " + req.Type}
	}
}

func errorResponse(err error) map[string]any {
	return map[string]any{"type": "error", "message": err.Error()}
}
