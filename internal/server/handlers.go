// Package server exposes HTTP handlers, including the WebSocket broadcast
// endpoint, the echo routes, relay status, health checks and the test page.
package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/kefeimo/leaf-proxy/internal/relay"
)

const (
	rootMessage      = "HTTP server with socket handling"
	healthMessage    = "leaf-proxy server is running!"
	maxEchoBodyBytes = 1 << 20
)

// Server holds the dependencies of the HTTP handlers: the WebSocket
// broadcast registry and the TCP relays whose status it reports.
type Server struct {
	cfg      *Config
	log      *zap.Logger
	metrics  *relay.Metrics
	registry *relay.Registry
	relays   []*relay.Listener
	upgrader websocket.Upgrader
}

// NewServer creates the handler set. relays may be empty.
func NewServer(cfg *Config, log *zap.Logger, metrics *relay.Metrics, relays []*relay.Listener) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("http")
	origins := newOriginPolicy(cfg.WebSocket.AllowedOrigins, log)

	return &Server{
		cfg:      cfg,
		log:      log,
		metrics:  metrics,
		registry: relay.NewRegistry(websocketRelayName, log.Named("ws"), metrics),
		relays:   relays,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     origins.checkOrigin,
		},
	}
}

// Registry returns the registry of connected WebSocket clients.
func (s *Server) Registry() *relay.Registry { return s.registry }

// CloseClients drops every WebSocket client. http.Server.Shutdown does not
// track hijacked connections, so the host registers this on shutdown.
func (s *Server) CloseClients() {
	s.registry.CloseAll()
}

// WebSocketHandler upgrades the request and serves the client until it
// disconnects. Every text frame is answered with "Server received: <text>"
// sent to all connected clients, the sender included.
func (s *Server) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("WebSocket upgrade failed", zap.String("remote_addr", r.RemoteAddr), zap.Error(err))
		return
	}

	client := NewClient(conn, s.registry, r.RemoteAddr, s.cfg.WebSocket, s.log.Named("ws"), s.metrics)
	client.Serve()
}

// RootHandler answers GET / with a JSON greeting.
func (s *Server) RootHandler(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, RootResponse{Message: rootMessage})
}

// EchoGetHandler returns the "data" query parameter, or null when absent.
func (s *Server) EchoGetHandler(w http.ResponseWriter, r *http.Request) {
	var resp EchoGetResponse
	if values, ok := r.URL.Query()["data"]; ok && len(values) > 0 {
		resp.Data = &values[0]
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// EchoPostHandler returns the raw request body as a string.
func (s *Server) EchoPostHandler(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxEchoBodyBytes))
	if err != nil {
		http.Error(w, "Request body too large or unreadable", http.StatusBadRequest)
		return
	}
	s.writeJSON(w, http.StatusOK, EchoPostResponse{Data: string(body)})
}

// RelaysHandler lists the TCP relays with the port each one actually bound.
func (s *Server) RelaysHandler(w http.ResponseWriter, _ *http.Request) {
	statuses := make([]RelayStatus, 0, len(s.relays))
	for _, l := range s.relays {
		cfg := l.Config()
		statuses = append(statuses, RelayStatus{
			Name:              cfg.Name,
			Mode:              string(cfg.Mode),
			PortPolicy:        string(cfg.Policy),
			Host:              cfg.Host,
			ConfiguredPort:    cfg.Port,
			Port:              l.Port(),
			Ready:             l.Bound(),
			ActiveConnections: l.ActiveConnections(),
		})
	}
	s.writeJSON(w, http.StatusOK, statuses)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn("Error writing JSON response", zap.Error(err))
	}
}

// HealthHandler provides a simple health check endpoint that returns server status.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprint(w, healthMessage)
}

// TestPageHandler serves a small HTML page that connects to the WebSocket
// endpoint and shows every broadcast it receives.
func (s *Server) TestPageHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	if _, err := fmt.Fprintf(w, testPageHTML, s.cfg.WebSocket.Path); err != nil {
		s.log.Warn("Error writing HTML response", zap.Error(err))
	}
}

const testPageHTML = `<!DOCTYPE html>
<html>
<head>
    <title>leaf-proxy WebSocket relay</title>
    <style>
        body { font-family: sans-serif; margin: 20px; }
        #log { border: 1px solid #ccc; height: 300px; padding: 10px; overflow-y: scroll; margin: 10px 0; }
        .status { margin: 10px 0; padding: 5px; }
        .connected { background-color: #d4edda; }
        .disconnected { background-color: #f8d7da; }
    </style>
</head>
<body>
    <h1>leaf-proxy WebSocket relay</h1>
    <div id="status" class="status disconnected">Disconnected</div>
    <div>
        <input type="text" id="input" placeholder="Message" disabled>
        <button id="send" disabled>Send</button>
        <button id="toggle">Connect</button>
    </div>
    <div id="log"></div>
    <script>
        const path = %q;
        const log = document.getElementById('log');
        const input = document.getElementById('input');
        const send = document.getElementById('send');
        const toggle = document.getElementById('toggle');
        const status = document.getElementById('status');
        let ws = null;

        function append(text) {
            const line = document.createElement('div');
            line.textContent = text;
            log.appendChild(line);
            log.scrollTop = log.scrollHeight;
        }

        function setConnected(connected) {
            status.textContent = connected ? 'Connected' : 'Disconnected';
            status.className = 'status ' + (connected ? 'connected' : 'disconnected');
            input.disabled = !connected;
            send.disabled = !connected;
            toggle.textContent = connected ? 'Disconnect' : 'Connect';
        }

        toggle.onclick = function () {
            if (ws) { ws.close(); return; }
            const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
            ws = new WebSocket(scheme + location.host + path);
            ws.onopen = function () { setConnected(true); append('connected'); };
            ws.onmessage = function (event) { append(event.data); };
            ws.onclose = function () { setConnected(false); append('closed'); ws = null; };
        };

        send.onclick = function () {
            if (ws && input.value) { ws.send(input.value); input.value = ''; }
        };
        input.addEventListener('keypress', function (e) { if (e.key === 'Enter') send.onclick(); });
    </script>
</body>
</html>`
