package api

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/antigravity-dev/relay/internal/events"
)

const wsWriteDeadline = 5 * time.Second

var upgrader = websocket.Upgrader{
	// The API binds to loopback; cross-origin pages gain nothing here.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsHub fans executor events out to websocket clients. A single run loop
// owns registration, so slow clients never block the emitter.
type wsHub struct {
	logger     *slog.Logger
	maxConns   int
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	events     chan events.Event
	done       chan struct{}

	mu      sync.RWMutex
	clients map[*websocket.Conn]bool
}

func newWSHub(maxConns int, logger *slog.Logger) *wsHub {
	if maxConns <= 0 {
		maxConns = 32
	}
	return &wsHub{
		logger:     logger,
		maxConns:   maxConns,
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		events:     make(chan events.Event, 64),
		done:       make(chan struct{}),
		clients:    make(map[*websocket.Conn]bool),
	}
}

// offer hands an event to the hub without blocking the emitter. Events are
// dropped when the hub is saturated; the stream is advisory, the store is
// the record.
func (h *wsHub) offer(ev events.Event) {
	select {
	case h.events <- ev:
	default:
	}
}

func (h *wsHub) run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case conn := <-h.register:
			h.mu.Lock()
			if len(h.clients) >= h.maxConns {
				h.mu.Unlock()
				conn.Close()
				h.logger.Warn("websocket rejected, connection cap reached", "cap", h.maxConns)
				continue
			}
			h.clients[conn] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("websocket client registered", "total", total)
		case conn := <-h.unregister:
			h.mu.Lock()
			if h.clients[conn] {
				delete(h.clients, conn)
				conn.Close()
			}
			h.mu.Unlock()
		case ev := <-h.events:
			h.broadcast(ev)
		}
	}
}

func (h *wsHub) broadcast(ev events.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for conn := range h.clients {
		conn.SetWriteDeadline(time.Now().Add(wsWriteDeadline))
		if err := conn.WriteJSON(ev); err != nil {
			h.logger.Debug("websocket write failed", "error", err)
			go h.drop(conn)
		}
	}
}

func (h *wsHub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.Close()
	}
	h.clients = make(map[*websocket.Conn]bool)
}

func (h *wsHub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// drop hands a connection back to the run loop, tolerating hub shutdown.
func (h *wsHub) drop(conn *websocket.Conn) {
	select {
	case h.unregister <- conn:
	case <-h.done:
		conn.Close()
	}
}

// GET /ws
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	select {
	case s.hub.register <- conn:
	case <-s.hub.done:
		conn.Close()
		return
	}
	defer s.hub.drop(conn)

	// Read pump: the stream is server-to-client, reading only detects
	// closure.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
