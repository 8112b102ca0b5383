package pricefeed

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pawanbishnoiii/vk1-sub001/internal/metrics"
)

// Message types pushed to WebSocket clients.
const (
	MsgSnapshot     = "snapshot"
	MsgTicker       = "ticker"
	MsgTradeOpened  = "trade_opened"
	MsgTradeSettled = "trade_settled"
)

// Message is a JSON message sent to WebSocket clients.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type envelope struct {
	userID string // empty: every client
	data   []byte
}

type client struct {
	conn   *websocket.Conn
	userID string
	send   chan []byte
}

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

// Hub manages WebSocket connections. Tickers go to every client; trade
// events go only to the connections of the trade's owner.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan envelope
	register   chan *client
	unregister chan *client
	done       chan struct{}

	// Identify resolves the user behind an upgrade request, or "" for an
	// anonymous (price-only) connection.
	Identify func(r *http.Request) string

	// Welcome, if set, is the first message every new client receives.
	Welcome func() Message
}

// NewHub creates a new WebSocket hub.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan envelope, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
	}
}

// Run starts the hub's main event loop. Must be called in a goroutine.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	defer func() {
		for c := range h.clients {
			close(c.send)
			delete(h.clients, c)
		}
		metrics.WebSocketClients.Set(0)
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case c := <-h.register:
			h.clients[c] = true
			if h.Welcome != nil {
				if data, err := json.Marshal(h.Welcome()); err == nil {
					c.send <- data // fresh buffer, cannot block
				}
			}
			metrics.WebSocketClients.Set(float64(len(h.clients)))
			slog.Info("ws client connected", "total", len(h.clients), "user_id", c.userID)

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
				metrics.WebSocketClients.Set(float64(len(h.clients)))
			}

		case env := <-h.broadcast:
			for c := range h.clients {
				if env.userID != "" && c.userID != env.userID {
					continue
				}
				select {
				case c.send <- env.data:
				default:
					// Slow consumer: drop it rather than stall everyone.
					delete(h.clients, c)
					close(c.send)
				}
			}
			metrics.WebSocketClients.Set(float64(len(h.clients)))
		}
	}
}

// Broadcast sends a message to all connected clients.
func (h *Hub) Broadcast(msg Message) {
	h.enqueue("", msg)
}

// SendToUser sends a message to the connections of one user.
func (h *Hub) SendToUser(userID string, msg Message) {
	if userID == "" {
		return
	}
	h.enqueue(userID, msg)
}

// BroadcastTicker is a pricefeed onTick callback.
func (h *Hub) BroadcastTicker(t Ticker) {
	h.Broadcast(Message{Type: MsgTicker, Data: t})
}

func (h *Hub) enqueue(userID string, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case h.broadcast <- envelope{userID: userID, data: data}:
	default:
		// Drop if buffer full to avoid blocking trading paths.
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true // browser clients are served from other origins
	},
}

// HandleWS handles WebSocket upgrade requests at GET /api/v1/ws.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	var userID string
	if h.Identify != nil {
		userID = h.Identify(r)
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "err", err)
		return
	}

	c := &client{conn: conn, userID: userID, send: make(chan []byte, 64)}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go h.writePump(c)
	go h.readPump(c)
}

// readPump keeps the connection alive and detects disconnects.
func (h *Hub) readPump(c *client) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
		c.conn.Close()
	}()
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump is the only writer of c.conn; it also pings through proxies.
func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
