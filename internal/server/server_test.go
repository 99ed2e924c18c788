package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/kefeimo/leaf-proxy/internal/relay"
	"github.com/kefeimo/leaf-proxy/internal/testhelpers"
)

func newTestHost(t *testing.T) (*Host, *Server) {
	t.Helper()
	s := newTestServer(t, nil)
	srv := CreateServer(HTTPConfig{Addr: "127.0.0.1:0"}, s.SetupRoutes(nil))
	srv.RegisterOnShutdown(s.CloseClients)
	return NewHost(srv, time.Second, zaptest.NewLogger(t)), s
}

func runHost(t *testing.T, h *Host) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- h.Run(ctx) }()
	t.Cleanup(cancel)
	return cancel, errCh
}

func waitRun(t *testing.T, errCh <-chan error) error {
	t.Helper()
	select {
	case err := <-errCh:
		return err
	case <-time.After(testhelpers.DefaultTimeout):
		t.Fatal("Run did not return")
		return nil
	}
}

func TestCreateServer(t *testing.T) {
	handler := http.NewServeMux()
	cfg := HTTPConfig{
		Addr:         ":8080",
		ReadTimeout:  time.Second,
		WriteTimeout: 2 * time.Second,
		IdleTimeout:  3 * time.Second,
	}

	srv := CreateServer(cfg, handler)

	assert.Equal(t, ":8080", srv.Addr)
	assert.Equal(t, handler, srv.Handler)
	assert.Equal(t, time.Second, srv.ReadTimeout)
	assert.Equal(t, 2*time.Second, srv.WriteTimeout)
	assert.Equal(t, 3*time.Second, srv.IdleTimeout)
}

func TestHostRunsStartupHooksOnce(t *testing.T) {
	h, _ := newTestHost(t)

	var calls atomic.Int32
	started := make(chan struct{})
	h.OnStartup(func(ctx context.Context) error {
		calls.Add(1)
		close(started)
		<-ctx.Done()
		return nil
	})

	cancel, errCh := runHost(t, h)

	select {
	case <-started:
	case <-time.After(testhelpers.DefaultTimeout):
		t.Fatal("startup hook did not run")
	}
	<-h.Ready()

	// A blocking hook must not hold up request handling.
	resp, err := http.Get("http://" + h.Addr().String() + "/health")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, resp.Body.Close())
	require.NoError(t, err)
	assert.Equal(t, "leaf-proxy server is running!", string(body))

	cancel()
	assert.NoError(t, waitRun(t, errCh))
	assert.Equal(t, int32(1), calls.Load())

	assert.Error(t, h.Run(context.Background()), "second Run must fail")
	assert.Equal(t, int32(1), calls.Load())
}

func TestHostStopsWhenHookFails(t *testing.T) {
	h, _ := newTestHost(t)
	hookErr := errors.New("relay exploded")
	h.OnStartup(func(context.Context) error { return hookErr })

	_, errCh := runHost(t, h)

	assert.ErrorIs(t, waitRun(t, errCh), hookErr)
}

func TestHostStartsRelays(t *testing.T) {
	h, s := newTestHost(t)

	l, err := relay.NewListener(relay.ListenerConfig{
		Name:   "echo",
		Host:   "127.0.0.1",
		Policy: relay.PortPolicyRetry,
		Mode:   relay.ModeEcho,
	}, zaptest.NewLogger(t), nil)
	require.NoError(t, err)
	h.OnStartup(l.Start)

	cancel, errCh := runHost(t, h)

	select {
	case <-l.Ready():
	case <-time.After(testhelpers.DefaultTimeout):
		t.Fatal("relay did not become ready")
	}

	conn := testhelpers.DialTCP(t, l.Port())
	_, err = conn.Write([]byte("ping"))
	require.NoError(t, err)
	assert.Equal(t, "ping", string(testhelpers.ReadExactly(t, conn, 4)))

	ws := testhelpers.ConnectWebSocket(t, "ws://"+h.Addr().String()+"/ws")
	waitForClients(t, s, 1)

	cancel()
	require.NoError(t, waitRun(t, errCh))

	// Shutdown drops both the relay connection and the WebSocket client.
	_, err = conn.Read(make([]byte, 1))
	assert.Error(t, err)
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(testhelpers.DefaultTimeout)))
	_, _, err = ws.ReadMessage()
	assert.Error(t, err)
}

func TestHostListenError(t *testing.T) {
	port := testhelpers.OccupyConsecutivePorts(t, 1)
	srv := CreateServer(HTTPConfig{Addr: testhelpers.Addr(port)}, http.NewServeMux())
	h := NewHost(srv, time.Second, zaptest.NewLogger(t))

	err := h.Run(context.Background())
	require.Error(t, err)
	assert.True(t, relay.IsAddrInUse(err))
}

func TestHostShutdownTimeoutIsNotAnError(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	mux := http.NewServeMux()
	mux.HandleFunc("/slow", func(http.ResponseWriter, *http.Request) {
		close(entered)
		<-release
	})
	srv := CreateServer(HTTPConfig{Addr: "127.0.0.1:0"}, mux)
	h := NewHost(srv, 50*time.Millisecond, zaptest.NewLogger(t))

	cancel, errCh := runHost(t, h)
	<-h.Ready()

	go func() {
		resp, err := http.Get("http://" + h.Addr().String() + "/slow")
		if err == nil {
			_ = resp.Body.Close()
		}
	}()

	select {
	case <-entered:
	case <-time.After(testhelpers.DefaultTimeout):
		t.Fatal("slow request never reached the handler")
	}

	cancel()
	assert.NoError(t, waitRun(t, errCh))
}
