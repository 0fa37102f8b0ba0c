package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendBuffer = 256
)

// Message represents a WebSocket message
type Message struct {
	Type      string                 `json:"type"`
	Payload   interface{}            `json:"payload"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Client represents a WebSocket client connection watching one room
type Client struct {
	ID         string
	RemoteAddr string
	Conn       *websocket.Conn
	Room       string
	Send       chan *Message
	Hub        *Hub
	mu         sync.Mutex
}

// Hub manages all WebSocket connections and rooms
type Hub struct {
	// Registered clients grouped by room
	rooms map[string]map[*Client]bool

	Register   chan *Client
	Unregister chan *Client

	broadcast chan *BroadcastMessage

	// Active clients by ID for quick lookup
	clients map[string]*Client

	mu sync.RWMutex
}

// BroadcastMessage represents a message to broadcast to a room
type BroadcastMessage struct {
	Room    string
	Message *Message
	Exclude *Client // Optional: exclude this client from broadcast
}

// ServerRoom is the room carrying console output and lifecycle events of one server
func ServerRoom(name string) string {
	return "server:" + name
}

// NewHub creates a new WebSocket hub
func NewHub() *Hub {
	return &Hub{
		rooms:      make(map[string]map[*Client]bool),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		broadcast:  make(chan *BroadcastMessage, sendBuffer),
		clients:    make(map[string]*Client),
	}
}

// NewClient creates a client with a fresh id for conn joining room
func NewClient(hub *Hub, conn *websocket.Conn, room string) *Client {
	client := &Client{
		ID:   uuid.New().String(),
		Conn: conn,
		Room: room,
		Send: make(chan *Message, sendBuffer),
		Hub:  hub,
	}
	if conn != nil {
		client.RemoteAddr = conn.RemoteAddr().String()
	}
	return client
}

// Run starts the hub's main loop
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case client := <-h.Register:
			h.registerClient(client)

		case client := <-h.Unregister:
			h.unregisterClient(client)

		case message := <-h.broadcast:
			h.broadcastToRoom(message)

		case <-ctx.Done():
			log.Println("[WebSocket] Hub shutting down")
			h.shutdown()
			return
		}
	}
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	h.clients[client.ID] = client
	if h.rooms[client.Room] == nil {
		h.rooms[client.Room] = make(map[*Client]bool)
	}
	h.rooms[client.Room][client] = true
	size := len(h.rooms[client.Room])
	h.mu.Unlock()

	log.Printf("[WebSocket] Client %s (%s) joined room %s. Room size: %d",
		client.ID, client.RemoteAddr, client.Room, size)

	h.enqueue(&BroadcastMessage{
		Room: client.Room,
		Message: &Message{
			Type: "viewer_joined",
			Payload: map[string]interface{}{
				"client_id": client.ID,
				"viewers":   size,
			},
			Timestamp: time.Now(),
		},
		Exclude: client,
	})
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	delete(h.clients, client.ID)

	clients, ok := h.rooms[client.Room]
	if !ok || !clients[client] {
		h.mu.Unlock()
		return
	}
	delete(clients, client)
	close(client.Send)
	size := len(clients)
	if size == 0 {
		delete(h.rooms, client.Room)
	}
	h.mu.Unlock()

	if size == 0 {
		log.Printf("[WebSocket] Room %s is now empty and removed", client.Room)
		return
	}

	log.Printf("[WebSocket] Client %s left room %s. Room size: %d", client.ID, client.Room, size)
	h.enqueue(&BroadcastMessage{
		Room: client.Room,
		Message: &Message{
			Type: "viewer_left",
			Payload: map[string]interface{}{
				"client_id": client.ID,
				"viewers":   size,
			},
			Timestamp: time.Now(),
		},
	})
}

// broadcastToRoom sends a message to all clients in a room
func (h *Hub) broadcastToRoom(bm *BroadcastMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.rooms[bm.Room] {
		if bm.Exclude != nil && client.ID == bm.Exclude.ID {
			continue
		}

		select {
		case client.Send <- bm.Message:
		default:
			// Slow viewer, drop rather than block the hub
			log.Printf("[WebSocket] Client %s send channel full, dropping message", client.ID)
		}
	}
}

// enqueue hands a message to the hub loop without ever blocking the caller
func (h *Hub) enqueue(bm *BroadcastMessage) bool {
	select {
	case h.broadcast <- bm:
		return true
	default:
		log.Printf("[WebSocket] Broadcast queue full, dropping %s for room %s", bm.Message.Type, bm.Room)
		return false
	}
}

// GetRoomSize returns the number of clients in a room
func (h *Hub) GetRoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// BroadcastToRoom queues a message for all clients in a room. It never
// blocks; messages are dropped when the hub is saturated.
func (h *Hub) BroadcastToRoom(room string, message *Message) {
	if h == nil {
		return
	}
	h.enqueue(&BroadcastMessage{
		Room:    room,
		Message: message,
	})
}

// BroadcastServerEvent publishes a lifecycle event to the room of server
func (h *Hub) BroadcastServerEvent(server, eventType string, payload map[string]interface{}) {
	if payload == nil {
		payload = make(map[string]interface{})
	}
	payload["server"] = server
	h.BroadcastToRoom(ServerRoom(server), &Message{
		Type:      eventType,
		Payload:   payload,
		Timestamp: time.Now(),
	})
}

// shutdown closes all connections
func (h *Hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, client := range h.clients {
		close(client.Send)
		if client.Conn != nil {
			client.Conn.Close()
		}
	}

	h.rooms = make(map[string]map[*Client]bool)
	h.clients = make(map[string]*Client)
}

// ReadPump drains the connection so control frames are processed. Viewers
// are read-only; commands go through the HTTP API.
func (c *Client) ReadPump() {
	defer func() {
		c.Hub.Unregister <- c
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(4096)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[WebSocket] Read error: %v", err)
			}
			break
		}

		var msg Message
		if err := json.Unmarshal(message, &msg); err != nil {
			log.Printf("[WebSocket] Failed to parse message: %v", err)
			continue
		}
		if msg.Type == "ping" {
			_ = c.SendMessage("pong", nil)
		}
	}
}

// WritePump pumps messages from hub to WebSocket connection
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.Conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}

			data, err := json.Marshal(message)
			if err != nil {
				log.Printf("[WebSocket] Failed to marshal message: %v", err)
				continue
			}
			w.Write(data)

			// Coalesce queued messages into the same frame
			n := len(c.Send)
			for i := 0; i < n; i++ {
				data, err := json.Marshal(<-c.Send)
				if err != nil {
					continue
				}
				w.Write([]byte("\n"))
				w.Write(data)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// SendMessage sends a message to this specific client
func (c *Client) SendMessage(msgType string, payload interface{}) (err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("client send channel is closed")
		}
	}()

	msg := &Message{
		Type:      msgType,
		Payload:   payload,
		Timestamp: time.Now(),
	}

	select {
	case c.Send <- msg:
		return nil
	default:
		return fmt.Errorf("client send channel is full")
	}
}
