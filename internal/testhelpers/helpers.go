// Package testhelpers provides utilities shared by the relay and server tests.
//
// It covers reserving TCP ports, dialing relays, and driving WebSocket
// clients so the package tests do not each reimplement socket plumbing.
package testhelpers

import (
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// DefaultTimeout bounds every blocking read and dial in tests.
const DefaultTimeout = 5 * time.Second

// FreePort returns a port that was free a moment ago on 127.0.0.1.
func FreePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to reserve port: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	if err := ln.Close(); err != nil {
		t.Fatalf("Failed to release port: %v", err)
	}
	return port
}

// OccupyConsecutivePorts binds n consecutive ports on 127.0.0.1 and checks
// that the port right after them is free. It returns the first port; the
// listeners are closed when the test ends.
func OccupyConsecutivePorts(t *testing.T, n int) int {
	t.Helper()

	for attempt := 0; attempt < 50; attempt++ {
		base := FreePort(t)
		if base+n >= 65535 {
			continue
		}

		listeners := make([]net.Listener, 0, n)
		ok := true
		for i := 0; i < n; i++ {
			ln, err := net.Listen("tcp", Addr(base+i))
			if err != nil {
				ok = false
				break
			}
			listeners = append(listeners, ln)
		}
		if ok && portFree(base+n) {
			t.Cleanup(func() {
				for _, ln := range listeners {
					_ = ln.Close()
				}
			})
			return base
		}
		for _, ln := range listeners {
			_ = ln.Close()
		}
	}

	t.Fatalf("Could not find %d consecutive free ports", n+1)
	return 0
}

func portFree(port int) bool {
	ln, err := net.Listen("tcp", Addr(port))
	if err != nil {
		return false
	}
	_ = ln.Close()
	return true
}

// Addr formats a loopback address for port.
func Addr(port int) string {
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
}

// DialTCP connects to a relay on 127.0.0.1 and closes the connection when
// the test ends.
func DialTCP(t *testing.T, port int) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", Addr(port), DefaultTimeout)
	if err != nil {
		t.Fatalf("Failed to dial relay on port %d: %v", port, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// ReadExactly reads exactly n bytes from conn or fails the test.
func ReadExactly(t *testing.T, conn net.Conn, n int) []byte {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(DefaultTimeout)); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(conn, buf); err != nil {
		t.Fatalf("Failed to read %d bytes: %v", n, err)
	}
	return buf
}

// ExpectNoData fails the test if conn yields any bytes within wait.
func ExpectNoData(t *testing.T, conn net.Conn, wait time.Duration) {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(wait)); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}
	buf := make([]byte, 64)
	n, err := conn.Read(buf)
	if n > 0 {
		t.Errorf("Expected no data, got %q", buf[:n])
	}
	if err != nil {
		if ne, ok := err.(net.Error); !ok || !ne.Timeout() {
			t.Errorf("Expected read timeout, got %v", err)
		}
	}
}

// WebSocketURL turns an httptest server URL into the ws:// URL for path.
func WebSocketURL(serverURL, path string) string {
	return "ws" + strings.TrimPrefix(serverURL, "http") + path
}

// ConnectWebSocket opens a WebSocket connection with a browser-like Origin
// header and closes it when the test ends.
func ConnectWebSocket(t *testing.T, url string) *websocket.Conn {
	t.Helper()

	dialer := websocket.Dialer{
		HandshakeTimeout: DefaultTimeout,
	}

	headers := http.Header{}
	headers.Set("Origin", "http://localhost:8000")

	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("Failed to connect WebSocket %s: %v", url, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// SendText sends a text frame.
func SendText(t *testing.T, conn *websocket.Conn, text string) {
	t.Helper()
	if err := conn.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
		t.Fatalf("Failed to send %q: %v", text, err)
	}
}

// ReceiveText reads the next frame and fails unless it is a text frame.
func ReceiveText(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(DefaultTimeout)); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}
	messageType, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("Failed to read message: %v", err)
	}
	if messageType != websocket.TextMessage {
		t.Fatalf("Expected text frame, got type %d", messageType)
	}
	return string(data)
}

// CloseWebSocket sends a normal close frame and closes the connection.
func CloseWebSocket(conn *websocket.Conn) error {
	err := conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil {
		return err
	}
	return conn.Close()
}
