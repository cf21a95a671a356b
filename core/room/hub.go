package room

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"soundroom/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second // heartbeat interval, must be < pongWait
	maxMessageSize = 4096
	sendBufferSize = 256
)

// Client is one connected WebSocket peer. Its identity within a room lives in
// the binding table, not here; the connection id alone is stable for the
// connection's lifetime.
type Client struct {
	ID   string
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// NewClient wraps an upgraded connection with a fresh connection id.
func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		ID:   uuid.NewString(),
		hub:  hub,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
	}
}

// broadcastMessage is one fan-out unit: a payload for a room, optionally
// excluding the sending connection.
type broadcastMessage struct {
	RoomCode    string
	Message     []byte
	ExcludeConn string
}

// Hub tracks live connections and room subscriptions, and owns all fan-out.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client            // conn id -> client
	rooms   map[string]map[*Client]bool   // room code -> subscribers

	register   chan *Client
	unregister chan *Client
	broadcast  chan *broadcastMessage
	done       chan struct{}

	// OnDisconnect runs before a client is dropped, giving the router a
	// chance to unbind and mutate the room. Set once before Run.
	OnDisconnect func(*Client)
}

// NewHub creates a hub. Call Run in its own goroutine.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		rooms:      make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *broadcastMessage, 256),
		done:       make(chan struct{}),
	}
}

// Run processes register/unregister/broadcast events until Stop.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case msg := <-h.broadcast:
			h.broadcastToRoom(msg)

		case <-h.done:
			h.cleanup()
			return
		}
	}
}

// Stop shuts the hub down and closes every client send channel.
func (h *Hub) Stop() {
	close(h.done)
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[client.ID] = client
	logger.Debug("client connected", logger.String("conn", client.ID))
}

func (h *Hub) unregisterClient(client *Client) {
	if h.OnDisconnect != nil {
		h.OnDisconnect(client)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client.ID]; !ok {
		return
	}
	delete(h.clients, client.ID)
	for code, subscribers := range h.rooms {
		if subscribers[client] {
			delete(subscribers, client)
			if len(subscribers) == 0 {
				delete(h.rooms, code)
			}
		}
	}
	close(client.send)
	logger.Debug("client disconnected", logger.String("conn", client.ID))
}

// JoinRoom subscribes a connection to a room's fan-out.
func (h *Hub) JoinRoom(client *Client, roomCode string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.rooms[roomCode] == nil {
		h.rooms[roomCode] = make(map[*Client]bool)
	}
	h.rooms[roomCode][client] = true
}

// LeaveRoom unsubscribes a connection from a room's fan-out.
func (h *Hub) LeaveRoom(client *Client, roomCode string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if subscribers, ok := h.rooms[roomCode]; ok {
		delete(subscribers, client)
		if len(subscribers) == 0 {
			delete(h.rooms, roomCode)
		}
	}
}

func (h *Hub) broadcastToRoom(msg *broadcastMessage) {
	h.mu.RLock()
	subscribers, ok := h.rooms[msg.RoomCode]
	if !ok {
		h.mu.RUnlock()
		return
	}
	clientList := make([]*Client, 0, len(subscribers))
	for client := range subscribers {
		clientList = append(clientList, client)
	}
	h.mu.RUnlock()

	for _, client := range clientList {
		if msg.ExcludeConn != "" && client.ID == msg.ExcludeConn {
			continue
		}
		select {
		case client.send <- msg.Message:
		default:
			// Send buffer full, drop the client. Re-queued off the run
			// loop so fan-out never blocks on its own channel.
			go func(c *Client) { h.unregister <- c }(client)
		}
	}
}

func (h *Hub) cleanup() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, client := range h.clients {
		close(client.send)
	}
	h.clients = make(map[string]*Client)
	h.rooms = make(map[string]map[*Client]bool)
}

// Register adds a freshly-upgraded connection.
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister drops a connection, running the disconnect hook first.
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// Broadcast fans a raw message out to a room, optionally excluding one
// connection. It never blocks: the disconnect hook runs inside the Run loop
// and queues broadcasts onto the channel that same loop drains, so a blocking
// send from there would wedge the hub once the buffer fills.
func (h *Hub) Broadcast(roomCode string, message []byte, excludeConn string) {
	msg := &broadcastMessage{
		RoomCode:    roomCode,
		Message:     message,
		ExcludeConn: excludeConn,
	}
	select {
	case h.broadcast <- msg:
	default:
		go func() { h.broadcast <- msg }()
	}
}

// BroadcastEvent encodes and fans a server event out to a room.
func (h *Hub) BroadcastEvent(roomCode string, t EventType, payload interface{}, excludeConn string) error {
	data, err := EncodeServerEvent(t, payload)
	if err != nil {
		return err
	}
	h.Broadcast(roomCode, data, excludeConn)
	return nil
}

// ClientCount returns the number of live connections.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// RoomClientCount returns the number of connections subscribed to a room.
func (h *Hub) RoomClientCount(roomCode string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomCode])
}

// ========== Client methods ==========

// SendEvent encodes a server event and queues it for this connection. The
// message is dropped when the send buffer is full; slow consumers are
// reaped by the write pump's deadlines.
func (c *Client) SendEvent(t EventType, payload interface{}) error {
	data, err := EncodeServerEvent(t, payload)
	if err != nil {
		return err
	}
	select {
	case c.send <- data:
	default:
	}
	return nil
}

// ReadPump reads inbound events and hands them to the router until the
// connection dies, then unregisters the client.
func (c *Client) ReadPump(ctx context.Context, handler func(ctx context.Context, client *Client, evt *ClientEvent)) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, message, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
					logger.Warn("websocket read error",
						logger.ErrorField(err),
						logger.String("conn", c.ID))
				}
				return
			}
			c.conn.SetReadDeadline(time.Now().Add(pongWait))

			var evt ClientEvent
			if err := json.Unmarshal(message, &evt); err != nil {
				logger.Warn("invalid event format",
					logger.ErrorField(err),
					logger.String("conn", c.ID))
				continue
			}
			handler(ctx, c, &evt)
		}
	}
}

// WritePump drains the send queue and emits the periodic liveness probe: a
// protocol-level ping plus the named ping event clients answer with pong.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Coalesce whatever else is queued.
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
			if probe, err := EncodeServerEvent(EvtPing, nil); err == nil {
				c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := c.conn.WriteMessage(websocket.TextMessage, probe); err != nil {
					return
				}
			}
		}
	}
}
