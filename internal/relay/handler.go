package relay

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/kefeimo/leaf-proxy/internal/logging"
)

// Mode selects what a handler does with each chunk it reads.
type Mode string

const (
	// ModeEcho writes every chunk back to its sender unchanged.
	ModeEcho Mode = "echo"
	// ModeReply answers every chunk with ReplyPrefix + chunk, sender only.
	ModeReply Mode = "reply"
	// ModeBroadcast sends ReplyPrefix + chunk to every registered member.
	ModeBroadcast Mode = "broadcast"
	// ModeHTTPHello answers the first chunk with a fixed HTTP response and
	// closes the connection.
	ModeHTTPHello Mode = "http-hello"
)

// ReplyPrefix is prepended to relayed messages in reply and broadcast modes.
const ReplyPrefix = "Server received: "

// DefaultReadBufferSize bounds a single read.
const DefaultReadBufferSize = 1024

const httpHelloResponse = "HTTP/1.1 200 OK\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"Content-Length: 28\r\n" +
	"Connection: close\r\n" +
	"\r\n" +
	"Hello from leaf-proxy relay!"

// ParseMode validates a configured mode name.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeEcho, ModeReply, ModeBroadcast, ModeHTTPHello:
		return m, nil
	default:
		return "", fmt.Errorf("unknown relay mode %q", s)
	}
}

// FormatReply builds the relayed form of payload.
func FormatReply(payload []byte) []byte {
	msg := make([]byte, 0, len(ReplyPrefix)+len(payload))
	msg = append(msg, ReplyPrefix...)
	return append(msg, payload...)
}

// Handler applies a relay mode to accepted connections. One Handler serves
// every connection of a Listener; per-connection state lives on the stack
// of Handle.
type Handler struct {
	relay         string
	mode          Mode
	bufferSize    int
	excludeSender bool
	registry      *Registry
	log           *zap.Logger
	metrics       *Metrics
}

// NewHandler creates a handler. registry is required for ModeBroadcast.
func NewHandler(relay string, mode Mode, bufferSize int, excludeSender bool,
	registry *Registry, log *zap.Logger, metrics *Metrics) (*Handler, error) {
	if _, err := ParseMode(string(mode)); err != nil {
		return nil, err
	}
	if mode == ModeBroadcast && registry == nil {
		return nil, fmt.Errorf("relay %q: broadcast mode requires a registry", relay)
	}
	if bufferSize <= 0 {
		bufferSize = DefaultReadBufferSize
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		relay:         relay,
		mode:          mode,
		bufferSize:    bufferSize,
		excludeSender: excludeSender,
		registry:      registry,
		log:           log,
		metrics:       metrics,
	}, nil
}

// Handle serves c until the peer disconnects or an I/O error occurs, then
// closes it. Failures never escape this call.
func (h *Handler) Handle(c *Conn) {
	log := h.log.With(zap.String("conn_id", c.ID()), zap.String("remote_addr", c.RemoteAddr()))

	h.metrics.connOpened(h.relay)
	defer h.metrics.connClosed(h.relay)
	defer func() {
		if err := c.Close(); err != nil && !IsPeerDisconnect(err) {
			log.Warn("Error closing connection", zap.Error(err))
		}
	}()
	defer func() {
		if r := recover(); r != nil {
			log.Error("Recovered from panic in connection handler", zap.Any("panic", r))
		}
	}()

	log.Info("Accepted connection")

	if h.mode == ModeBroadcast {
		h.registry.Register(c)
		defer h.registry.Unregister(c)
	}

	buf := make([]byte, h.bufferSize)
	for {
		n, err := c.Read(buf)
		if n > 0 {
			h.metrics.received(h.relay, n)
			log.Info("Received message", zap.String("payload", logging.Printable(buf[:n])))
			if !h.process(c, buf[:n], log) {
				return
			}
		}
		if err != nil {
			if IsPeerDisconnect(err) {
				log.Info("Client disconnected")
			} else {
				log.Warn("Read error", zap.Error(err))
			}
			return
		}
	}
}

// process applies the mode to one chunk and reports whether to keep reading.
func (h *Handler) process(c *Conn, data []byte, log *zap.Logger) bool {
	switch h.mode {
	case ModeEcho:
		return h.send(c, data, log)
	case ModeReply:
		return h.send(c, FormatReply(data), log)
	case ModeBroadcast:
		var exclude Member
		if h.excludeSender {
			exclude = c
		}
		h.registry.Broadcast(FormatReply(data), exclude)
		return !c.Closed()
	case ModeHTTPHello:
		h.send(c, []byte(httpHelloResponse), log)
		return false
	}
	return false
}

func (h *Handler) send(c *Conn, payload []byte, log *zap.Logger) bool {
	err := c.Send(payload)
	h.metrics.delivered(h.relay, err)
	if err != nil {
		if !IsPeerDisconnect(err) {
			log.Warn("Write error", zap.Error(err))
		}
		return false
	}
	return true
}
