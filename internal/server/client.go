// Package server manages individual WebSocket clients: registration in the
// broadcast registry, the read loop, serialized writes and lifecycle control
// for each connection.
package server

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/kefeimo/leaf-proxy/internal/logging"
	"github.com/kefeimo/leaf-proxy/internal/relay"
)

// websocketRelayName labels the /ws registry in logs and metrics.
const websocketRelayName = "websocket"

// Client represents a WebSocket client connection. It is a relay.Member, so
// any handler may write to it during a broadcast; writes are serialized
// because gorilla/websocket allows a single concurrent writer.
type Client struct {
	conn          *websocket.Conn
	id            string
	addr          string
	registry      *relay.Registry
	log           *zap.Logger
	metrics       *relay.Metrics
	writeTimeout  time.Duration
	excludeSender bool

	writeMu   sync.Mutex
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// NewClient creates a Client for an upgraded connection. conn may be nil in
// tests that only exercise registration.
func NewClient(conn *websocket.Conn, registry *relay.Registry, addr string, cfg WebSocketConfig,
	log *zap.Logger, metrics *relay.Metrics) *Client {
	if conn != nil && cfg.MaxMessageSize > 0 {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}
	if log == nil {
		log = zap.NewNop()
	}
	id := uuid.NewString()

	return &Client{
		conn:          conn,
		id:            id,
		addr:          addr,
		registry:      registry,
		log:           log.With(zap.String("conn_id", id), zap.String("remote_addr", addr)),
		metrics:       metrics,
		writeTimeout:  cfg.WriteTimeout,
		excludeSender: cfg.ExcludeSender,
	}
}

// ID returns the generated connection identifier.
func (c *Client) ID() string { return c.id }

// RemoteAddr returns the client address reported by the HTTP server.
func (c *Client) RemoteAddr() string { return c.addr }

// Send writes payload as one text frame.
func (c *Client) Send(payload []byte) error {
	if c.closed.Load() || c.conn == nil {
		return relay.ErrMemberClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			_ = c.Close()
			return err
		}
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		_ = c.Close()
		return err
	}
	return nil
}

// Close closes the underlying connection once.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		if c.conn != nil {
			c.closeErr = c.conn.Close()
		}
	})
	return c.closeErr
}

// Closed reports whether Close has been called.
func (c *Client) Closed() bool { return c.closed.Load() }

// Serve registers the client, relays every inbound text frame to the whole
// registry and unregisters when the connection ends, whatever the cause.
func (c *Client) Serve() {
	done := c.metrics.TrackConnection(websocketRelayName)
	defer done()
	defer c.closeConnection()

	c.registry.Register(c)
	defer c.registry.Unregister(c)

	c.readPump()
}

func (c *Client) readPump() {
	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			c.handleReadError(err)
			return
		}

		if messageType != websocket.TextMessage {
			c.log.Warn("Ignoring non-text frame", zap.Int("message_type", messageType))
			continue
		}

		c.metrics.RecordReceived(websocketRelayName, len(data))
		c.log.Info("Received message", zap.String("payload", logging.Printable(data)))

		var exclude relay.Member
		if c.excludeSender {
			exclude = c
		}
		c.registry.Broadcast(relay.FormatReply(data), exclude)
		if c.Closed() {
			c.log.Info("Client connection closed during broadcast")
			return
		}
	}
}

// handleReadError logs the end of the read loop at a level matching its cause.
func (c *Client) handleReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.log.Warn("Message exceeded maximum size", zap.Error(err))
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
		websocket.CloseAbnormalClosure):
		c.log.Info("Client disconnected", zap.Error(err))
	case isExpectedCloseError(err):
		c.log.Info("Client connection closed", zap.Error(err))
	default:
		c.log.Warn("WebSocket read error", zap.Error(err))
	}
}

func (c *Client) closeConnection() {
	if err := c.Close(); err != nil && !isExpectedCloseError(err) {
		c.log.Warn("Error closing connection", zap.Error(err))
	}
}
