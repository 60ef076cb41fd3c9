package server

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/nats-io/nats.go"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Dashboards connect cross-origin; auth lives at the gateway.
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

const (
	pingInterval = 30 * time.Second
	writeTimeout = 10 * time.Second
)

// Client is one connected dashboard socket.
type Client struct {
	conn *websocket.Conn
	send chan []byte
	hub  *WSHub
}

// WSHub fans alert messages out to connected WebSocket clients. It feeds
// from the alarm subjects, so every emitted alert reaches live dashboards.
type WSHub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	natsConn   *nats.Conn
	alarmSub   *nats.Subscription
	done       chan struct{}
	stopOnce   sync.Once
	mu         sync.RWMutex
}

// NewWSHub creates a hub bridging NATS alarms to WebSocket clients.
func NewWSHub(nc *nats.Conn) *WSHub {
	return &WSHub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		natsConn:   nc,
		done:       make(chan struct{}),
	}
}

// Start subscribes to the alarm subjects and runs the broadcast loop.
func (h *WSHub) Start(alarmSubjectPrefix string) error {
	sub, err := h.natsConn.Subscribe(alarmSubjectPrefix+".>", func(msg *nats.Msg) {
		select {
		case h.broadcast <- msg.Data:
		default:
			log.Println("[WSHub] Broadcast buffer full, dropping alarm frame")
		}
	})
	if err != nil {
		return err
	}
	h.alarmSub = sub

	go h.run()
	return nil
}

// Stop unsubscribes from NATS, ends the broadcast loop, and closes every
// client. Safe to call more than once.
func (h *WSHub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
	if h.alarmSub != nil {
		h.alarmSub.Unsubscribe()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		c.conn.Close()
		delete(h.clients, c)
	}
}

func (h *WSHub) run() {
	for {
		select {
		case <-h.done:
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			log.Printf("[WSHub] Client connected (%d total)", h.clientCount())

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Slow client: drop it rather than stall the hub.
					delete(h.clients, client)
					close(client.send)
				}
			}
			h.mu.Unlock()
		}
	}
}

func (h *WSHub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeWS upgrades an HTTP request to a WebSocket subscription.
func (h *WSHub) ServeWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("[WSHub] Upgrade failed: %v", err)
		return
	}

	client := &Client{
		conn: conn,
		send: make(chan []byte, 64),
		hub:  h,
	}
	select {
	case h.register <- client:
	case <-h.done:
		// Hub already stopped; nobody would manage this socket.
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
			// Stop already closed the client map.
		}
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
