package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"bustrack/internal/shared/logger"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// A client must send its auth message within this window or the
	// connection is closed.
	authTimeout = 5 * time.Second

	pingInterval   = 30 * time.Second
	pongWait       = 60 * time.Second
	maxMessageSize = 8192
	writeWait      = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// TODO: restrict origins once the app domains are fixed.
		return true
	},
}

// AuthFunc validates the token from the client's first message and
// returns the authenticated user id and role.
type AuthFunc func(token string) (userID, role string, err error)

// MessageHandler receives every parsed inbound message from a client.
type MessageHandler func(client *Client, messageType string, data json.RawMessage) error

// Client is one authenticated WebSocket connection.
type Client struct {
	ID     string
	UserID string
	Role   string
	conn   *websocket.Conn
	send   chan []byte
	hub    *Hub
	log    *logger.Logger
}

// Hub owns every live connection. Delivery to a client goes through the
// client's buffered send channel; a full buffer means the client is too
// slow and gets disconnected rather than blocking the writer.
type Hub struct {
	clients        map[string]*Client
	mu             sync.RWMutex
	register       chan *Client
	unregister     chan *Client
	authFunc       AuthFunc
	messageHandler MessageHandler
	onDisconnect   func(connID string)
	onCountChange  func(n int)
	sendBuffer     int
	log            *logger.Logger
}

func NewHub(authFunc AuthFunc, sendBuffer int, log *logger.Logger) *Hub {
	if sendBuffer <= 0 {
		sendBuffer = 256
	}
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client, 10),
		unregister: make(chan *Client, 10),
		authFunc:   authFunc,
		sendBuffer: sendBuffer,
		log:        log,
	}
}

// SetMessageHandler installs the inbound message handler. Call before Run.
func (h *Hub) SetMessageHandler(handler MessageHandler) {
	h.messageHandler = handler
}

// SetOnDisconnect installs a hook invoked with the connection id after a
// client is removed. Call before Run.
func (h *Hub) SetOnDisconnect(fn func(connID string)) {
	h.onDisconnect = fn
}

// SetOnCountChange installs a hook invoked with the live connection count
// after every register/unregister. Call before Run.
func (h *Hub) SetOnCountChange(fn func(n int)) {
	h.onCountChange = fn
}

// Run processes register/unregister events until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.log.Info(logger.Entry{Action: "hub_stopped", Message: "websocket hub stopped"})
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.ID] = client
			n := len(h.clients)
			h.mu.Unlock()
			if h.onCountChange != nil {
				h.onCountChange(n)
			}
			h.log.Info(logger.Entry{
				Action:  "client_registered",
				Message: client.ID,
				Additional: map[string]any{
					"user_id": client.UserID,
					"role":    client.Role,
				},
			})

		case client := <-h.unregister:
			h.mu.Lock()
			_, ok := h.clients[client.ID]
			if ok {
				delete(h.clients, client.ID)
				close(client.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			if !ok {
				continue
			}
			if h.onCountChange != nil {
				h.onCountChange(n)
			}
			if h.onDisconnect != nil {
				h.onDisconnect(client.ID)
			}
			h.log.Info(logger.Entry{
				Action:  "client_unregistered",
				Message: client.ID,
			})
		}
	}
}

// Send queues a payload for one connection without blocking. Returns false
// when the connection is unknown or its buffer is full.
//
// The read lock is held across the channel send: unregister closes the
// client's send channel under the write lock, so releasing the lock
// between lookup and send would race a disconnect into a send on a
// closed channel.
func (h *Hub) Send(connID string, payload []byte) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	client := h.clients[connID]
	if client == nil {
		return false
	}

	select {
	case client.send <- payload:
		return true
	default:
		return false
	}
}

// SendToUser queues a payload for every connection the user holds.
func (h *Hub) SendToUser(userID string, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, client := range h.clients {
		if client.UserID != userID {
			continue
		}
		select {
		case client.send <- payload:
		default:
			h.log.Warn(logger.Entry{
				Action:  "send_to_user_dropped",
				Message: userID,
				Additional: map[string]any{
					"client_id": client.ID,
				},
			})
		}
	}
}

// IsUserConnected reports whether the user has at least one live connection.
func (h *Hub) IsUserConnected(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, client := range h.clients {
		if client.UserID == userID {
			return true
		}
	}
	return false
}

// ServeWS upgrades the request and runs the auth handshake: the first
// client message must carry a valid token.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error(logger.Entry{
			Action:  "ws_upgrade_failed",
			Message: err.Error(),
			Error:   &logger.ErrObj{Msg: err.Error()},
		})
		return
	}

	client := &Client{
		ID:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, h.sendBuffer),
		hub:  h,
		log:  h.log,
	}

	_ = conn.SetReadDeadline(time.Now().Add(authTimeout))

	var authMsg struct {
		Token string `json:"token"`
	}
	if err := conn.ReadJSON(&authMsg); err != nil {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseProtocolError, "auth timeout"))
		_ = conn.Close()
		h.log.Warn(logger.Entry{
			Action:  "ws_auth_failed",
			Message: "no auth message received",
		})
		return
	}

	userID, role, err := h.authFunc(authMsg.Token)
	if err != nil {
		_ = conn.WriteJSON(map[string]string{"error": "invalid token"})
		_ = conn.Close()
		h.log.Warn(logger.Entry{
			Action:  "ws_auth_invalid_token",
			Message: err.Error(),
		})
		return
	}

	client.UserID = userID
	client.Role = role

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	h.register <- client

	_ = conn.WriteJSON(map[string]string{
		"status":        "authenticated",
		"connection_id": client.ID,
	})

	go client.writePump()
	go client.readPump()
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Error(logger.Entry{
					Action:  "ws_read_error",
					Message: c.ID,
					Error:   &logger.ErrObj{Msg: err.Error()},
				})
			}
			break
		}

		var msg struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data,omitempty"`
		}
		if err := json.Unmarshal(message, &msg); err != nil {
			c.log.Warn(logger.Entry{
				Action:  "ws_parse_message_error",
				Message: err.Error(),
				Additional: map[string]any{
					"client_id": c.ID,
				},
			})
			continue
		}

		if c.hub.messageHandler != nil {
			if err := c.hub.messageHandler(c, msg.Type, msg.Data); err != nil {
				c.log.Warn(logger.Entry{
					Action:  "ws_handle_message_error",
					Message: err.Error(),
					Additional: map[string]any{
						"client_id": c.ID,
						"msg_type":  msg.Type,
					},
				})
			}
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// SendJSON marshals data and queues it for one connection.
func (h *Hub) SendJSON(connID string, data any) bool {
	msg, err := json.Marshal(data)
	if err != nil {
		return false
	}
	return h.Send(connID, msg)
}
