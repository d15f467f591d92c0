package server

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/viewmill/viewmill/internal/logging"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next message from the peer.
	pongWait = 60 * time.Second

	// Send pings with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from the peer.
	maxMessageSize = 512
)

// reloadMessage is pushed to connected browsers when watched sources
// change.
type reloadMessage struct {
	Type      string    `json:"type"`
	Paths     []string  `json:"paths,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// hub tracks live-reload websocket clients and fans broadcast messages
// out to them. Registration and broadcast run on one goroutine; the
// clients map is additionally lock-guarded so Shutdown and count can
// reach it from outside.
type hub struct {
	log logging.Logger

	clients map[*websocket.Conn]*client
	mu      sync.RWMutex

	register   chan *client
	unregister chan *websocket.Conn
	broadcast  chan []byte

	// done is closed when run returns, releasing pump goroutines that
	// would otherwise block on an unregister nobody receives.
	done chan struct{}
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	hub  *hub
}

func newHub(log logging.Logger) *hub {
	return &hub{
		log:        log,
		clients:    make(map[*websocket.Conn]*client),
		register:   make(chan *client),
		unregister: make(chan *websocket.Conn),
		broadcast:  make(chan []byte, 8),
		done:       make(chan struct{}),
	}
}

func (h *hub) run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			return

		case c := <-h.register:
			if c == nil || c.conn == nil {
				continue
			}
			h.mu.Lock()
			h.clients[c.conn] = c
			total := len(h.clients)
			h.mu.Unlock()
			h.log.Debug(ctx, "reload client connected", "total", total)

		case conn := <-h.unregister:
			if conn == nil {
				continue
			}
			h.mu.Lock()
			if c, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				close(c.send)
				conn.Close(websocket.StatusNormalClosure, "")
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.log.Debug(ctx, "reload client disconnected", "total", total)

		case message := <-h.broadcast:
			var stalled []*websocket.Conn
			h.mu.RLock()
			for conn, c := range h.clients {
				select {
				case c.send <- message:
				default:
					// Send queue full, drop the client.
					stalled = append(stalled, conn)
				}
			}
			h.mu.RUnlock()

			if len(stalled) > 0 {
				h.mu.Lock()
				for _, conn := range stalled {
					if c, ok := h.clients[conn]; ok {
						delete(h.clients, conn)
						close(c.send)
						conn.Close(websocket.StatusNormalClosure, "")
					}
				}
				h.mu.Unlock()
			}
		}
	}
}

// announce queues a reload message for every connected client. The
// send never blocks: when the queue is saturated the message is
// dropped, the next change will announce again.
func (h *hub) announce(paths []string) {
	data, err := json.Marshal(reloadMessage{
		Type:      "reload",
		Paths:     paths,
		Timestamp: time.Now(),
	})
	if err != nil {
		data = []byte(`{"type":"reload"}`)
	}
	select {
	case h.broadcast <- data:
	default:
	}
}

func (h *hub) count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// closeAll disconnects every client; used during shutdown.
func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn, c := range h.clients {
		close(c.send)
		conn.Close(websocket.StatusNormalClosure, "")
	}
	h.clients = make(map[*websocket.Conn]*client)
}

// readPump drains inbound frames until the peer goes away, then
// unregisters the connection.
func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c.conn:
		case <-c.hub.done:
		}
	}()

	c.conn.SetReadLimit(maxMessageSize)

	ctx := context.Background()
	for {
		readCtx, cancel := context.WithTimeout(ctx, pongWait)
		_, _, err := c.conn.Read(readCtx)
		cancel()
		if err != nil {
			return
		}
	}
}

// writePump forwards queued messages to the peer and keeps the
// connection alive with periodic pings.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	ctx := context.Background()
	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, writeWait)
			err := c.conn.Write(writeCtx, websocket.MessageText, message)
			cancel()
			if err != nil {
				return
			}

		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, writeWait)
			err := c.conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return
			}
		}
	}
}
