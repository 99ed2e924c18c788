package main

import (
	"bytes"
	"context"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/kefeimo/leaf-proxy/internal/relay"
	"github.com/kefeimo/leaf-proxy/internal/testhelpers"
)

// syncBuffer guards the output written by the receive goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func startReplyRelay(t *testing.T) *relay.Listener {
	t.Helper()
	l, err := relay.NewListener(relay.ListenerConfig{
		Name:   "reply",
		Host:   "127.0.0.1",
		Policy: relay.PortPolicyRetry,
		Mode:   relay.ModeReply,
	}, zaptest.NewLogger(t), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- l.Start(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-errCh
	})
	<-l.Ready()
	return l
}

func TestRunSendsLinesAndPrintsReplies(t *testing.T) {
	l := startReplyRelay(t)
	conn, port, err := relay.DialWithRetry(context.Background(), relay.DialConfig{
		Host:    "127.0.0.1",
		Port:    l.Port(),
		Timeout: time.Second,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, l.Port(), port)

	in, inWriter := io.Pipe()
	out := &syncBuffer{}
	done := make(chan error, 1)
	go func() { done <- run(context.Background(), conn, in, out, zaptest.NewLogger(t)) }()

	_, err = io.WriteString(inWriter, "hello\n")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "Server received: hello")
	}, testhelpers.DefaultTimeout, 10*time.Millisecond)

	_, err = io.WriteString(inWriter, "exit\n")
	require.NoError(t, err)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(testhelpers.DefaultTimeout):
		t.Fatal("run did not return after exit")
	}
	_ = inWriter.Close()
}

func TestRunStopsWhenRelayCloses(t *testing.T) {
	l := startReplyRelay(t)
	conn := testhelpers.DialTCP(t, l.Port())

	in, inWriter := io.Pipe()
	t.Cleanup(func() { _ = inWriter.Close() })

	done := make(chan error, 1)
	go func() { done <- run(context.Background(), conn, in, io.Discard, zaptest.NewLogger(t)) }()

	// Half-closing makes the relay see EOF and drop the connection, which
	// ends the receive loop.
	require.NoError(t, conn.(*net.TCPConn).CloseWrite())

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(testhelpers.DefaultTimeout):
		t.Fatal("run did not return after the relay closed")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	l := startReplyRelay(t)
	conn := testhelpers.DialTCP(t, l.Port())

	in, inWriter := io.Pipe()
	t.Cleanup(func() { _ = inWriter.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx, conn, in, io.Discard, zaptest.NewLogger(t)) }()

	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(testhelpers.DefaultTimeout):
		t.Fatal("run did not return after cancel")
	}
}
