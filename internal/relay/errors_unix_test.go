//go:build unix

package relay

import (
	"net"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/sys/unix"
)

func TestIsPeerDisconnectErrno(t *testing.T) {
	reset := &net.OpError{Op: "read", Net: "tcp", Err: os.NewSyscallError("read", unix.ECONNRESET)}
	assert.True(t, IsPeerDisconnect(reset))

	pipe := &net.OpError{Op: "write", Net: "tcp", Err: os.NewSyscallError("write", unix.EPIPE)}
	assert.True(t, IsPeerDisconnect(pipe))

	perm := &net.OpError{Op: "listen", Net: "tcp", Err: os.NewSyscallError("bind", unix.EACCES)}
	assert.False(t, IsPeerDisconnect(perm))
	assert.False(t, IsAddrInUse(perm))
}
