package relay

import (
	"errors"
	"fmt"
	"io"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kefeimo/leaf-proxy/internal/testhelpers"
)

func TestIsAddrInUse(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	_, err = net.Listen("tcp", ln.Addr().String())
	require.Error(t, err)
	assert.True(t, IsAddrInUse(err))
	assert.True(t, IsAddrInUse(fmt.Errorf("wrapped: %w", err)))

	assert.False(t, IsAddrInUse(nil))
	assert.False(t, IsAddrInUse(errors.New("address already in use")), "text alone is not classified")
}

func TestIsConnRefused(t *testing.T) {
	_, err := net.Dial("tcp", testhelpers.Addr(testhelpers.FreePort(t)))
	require.Error(t, err)
	assert.True(t, IsConnRefused(err))
	assert.False(t, IsConnRefused(io.EOF))
}

func TestIsPeerDisconnect(t *testing.T) {
	assert.True(t, IsPeerDisconnect(io.EOF))
	assert.True(t, IsPeerDisconnect(fmt.Errorf("read: %w", io.EOF)))
	assert.True(t, IsPeerDisconnect(net.ErrClosed))
	assert.False(t, IsPeerDisconnect(nil))
	assert.False(t, IsPeerDisconnect(errors.New("boom")))
}

func TestBindErrorMessage(t *testing.T) {
	cause := errors.New("bind: address already in use")

	conflict := &BindError{Relay: "stream", Addr: "127.0.0.1:9000", Port: 9000, Policy: PortPolicyFixed, Conflict: true, Err: cause}
	assert.Contains(t, conflict.Error(), "port 9000 is already in use (fixed port policy)")
	assert.Contains(t, conflict.Error(), `relay "stream"`)
	assert.ErrorIs(t, conflict, cause)

	other := &BindError{Relay: "echo", Addr: "10.0.0.1:80", Port: 80, Err: cause}
	assert.Contains(t, other.Error(), "failed to bind 10.0.0.1:80 on port 80")

	exhausted := &BindError{Relay: "echo", Addr: "127.0.0.1:65535", Port: 65535, Policy: PortPolicyRetry,
		Conflict: true, Err: fmt.Errorf("no ports left to try: %w", cause)}
	assert.Equal(t,
		`relay "echo": port 65535 is already in use (retry port policy): no ports left to try: bind: address already in use`,
		exhausted.Error())
}
