package adminserver

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// statusHub pushes Status snapshots to subscribed WebSocket clients,
// adapted from the teacher's DAG event hub (register/unregister/
// broadcast channels guarded by one mutex) onto a single recurring
// snapshot instead of a stream of distinct event types.
type statusHub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan Status
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	mu         sync.RWMutex
	upgrader   websocket.Upgrader
	logger     *slog.Logger
}

func newStatusHub(logger *slog.Logger) *statusHub {
	if logger == nil {
		logger = slog.Default()
	}
	return &statusHub{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan Status, 64),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		logger:     logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// run drives the hub until ctx is cancelled.
func (h *statusHub) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case conn := <-h.register:
			h.mu.Lock()
			h.clients[conn] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("adminserver: client connected", "total", n)

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("adminserver: client disconnected", "total", n)

		case snapshot := <-h.broadcast:
			h.mu.RLock()
			for conn := range h.clients {
				if err := conn.WriteJSON(snapshot); err != nil {
					h.logger.Warn("adminserver: websocket write failed", "error", err)
					conn.Close()
					delete(h.clients, conn)
				}
			}
			h.mu.RUnlock()
		}
	}
}

func (h *statusHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.Close()
		delete(h.clients, conn)
	}
}

// handleWebSocket upgrades a request and registers the connection with the hub.
func (h *statusHub) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("adminserver: websocket upgrade failed", "error", err)
		return
	}
	h.register <- conn

	go func() {
		defer func() { h.unregister <- conn }()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// publish pushes a snapshot to all current subscribers, dropping it if
// the hub is saturated rather than blocking the publisher.
func (h *statusHub) publish(s Status) {
	select {
	case h.broadcast <- s:
	default:
	}
}

// pump periodically publishes snapshot() until ctx is cancelled.
func (h *statusHub) pump(ctx context.Context, interval time.Duration, snapshot func() Status) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.publish(snapshot())
		}
	}
}
