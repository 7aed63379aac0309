package report

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const maxDashboardConnections = 200

// DashboardHub broadcasts each progress tick as JSON to connected websocket
// clients, adapted from the teacher's broadcast-hub shape: a register and
// unregister channel drained by one loop goroutine, a single ticker driving
// broadcasts rather than one per connection.
type DashboardHub struct {
	clients    map[*websocket.Conn]struct{}
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	mu         sync.RWMutex
	snapshot   func() FinalReport
	interval   time.Duration
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// NewDashboardHub builds a hub that calls snapshot on each broadcast tick to
// obtain the data to send.
func NewDashboardHub(snapshot func() FinalReport, interval time.Duration) *DashboardHub {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &DashboardHub{
		clients:    make(map[*websocket.Conn]struct{}),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		snapshot:   snapshot,
		interval:   interval,
	}
}

// ServeHTTP upgrades the request to a websocket connection and registers it
// with the hub.
func (h *DashboardHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("report: websocket upgrade failed: %v", err)
		return
	}
	h.register <- conn
}

// Run drives the hub's main loop until ctx is cancelled.
func (h *DashboardHub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case conn := <-h.register:
			h.mu.Lock()
			if len(h.clients) >= maxDashboardConnections {
				h.mu.Unlock()
				conn.Close()
				log.Printf("report: dashboard connection rejected, at capacity (%d)", maxDashboardConnections)
				continue
			}
			h.clients[conn] = struct{}{}
			h.mu.Unlock()
		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			h.mu.Unlock()
		case <-ticker.C:
			h.broadcast()
		}
	}
}

func (h *DashboardHub) broadcast() {
	tick := h.snapshot()

	h.mu.RLock()
	defer h.mu.RUnlock()
	for conn := range h.clients {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteJSON(tick); err != nil {
			log.Printf("report: dashboard write error: %v", err)
			go func(c *websocket.Conn) { h.unregister <- c }(conn)
		}
	}
}

func (h *DashboardHub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.Close()
	}
	h.clients = make(map[*websocket.Conn]struct{})
}

// ClientCount returns the number of connected dashboard clients.
func (h *DashboardHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
