package ws

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 4096

	// Send buffer size
	sendBufferSize = 256
)

// Client represents a WebSocket client connection. It implements realtime.Conn.
type Client struct {
	id      string
	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	userID  string
	limiter *rate.Limiter
	logger  *zap.Logger

	mu     sync.RWMutex
	closed bool
}

// NewClient creates a new client
func NewClient(hub *Hub, conn *websocket.Conn, userID string, limiter *rate.Limiter, logger *zap.Logger) *Client {
	return &Client{
		id:      uuid.New().String(),
		hub:     hub,
		conn:    conn,
		send:    make(chan []byte, sendBufferSize),
		userID:  userID,
		limiter: limiter,
		logger:  logger,
	}
}

// ID returns the connection ID
func (c *Client) ID() string {
	return c.id
}

// UserID returns the participant behind the connection
func (c *Client) UserID() string {
	return c.userID
}

// Send queues a frame without blocking. It reports false when the buffer is
// full or the client is closed.
func (c *Client) Send(frame []byte) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return false
	}

	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// ReadPump pumps messages from the WebSocket connection to the hub
func (c *Client) ReadPump() {
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
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("WebSocket read error",
					zap.String("user_id", c.userID),
					zap.Error(err),
				)
			}
			break
		}

		if c.limiter != nil && !c.limiter.Allow() {
			c.sendError(http.StatusTooManyRequests, "too many messages, slow down")
			continue
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Warn("Failed to parse message",
				zap.String("user_id", c.userID),
				zap.Error(err),
			)
			c.sendError(http.StatusBadRequest, "invalid message format")
			continue
		}

		c.hub.HandleMessage(c, &msg)
	}
}

// WritePump pumps messages from the hub to the WebSocket connection
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
				// Hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			// One frame per WebSocket message so clients can parse each as JSON
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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

// SendMessage sends a message to the client
func (c *Client) SendMessage(msg *Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error("Failed to marshal message",
			zap.String("user_id", c.userID),
			zap.Error(err),
		)
		return
	}

	if !c.Send(data) {
		// Channel is full, client is slow
		c.logger.Warn("Client send buffer full",
			zap.String("user_id", c.userID),
			zap.String("type", string(msg.Type)),
		)
	}
}

// sendError sends an error message to the client
func (c *Client) sendError(code int, message string) {
	errMsg, _ := NewErrorMessage(code, message)
	c.SendMessage(errMsg)
}

// Close closes the send channel. It is safe to call more than once.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.send)
	}
}
