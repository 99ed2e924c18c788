//go:build unix

package relay

import "golang.org/x/sys/unix"

var (
	errAddrInUse   error = unix.EADDRINUSE
	errConnRefused error = unix.ECONNREFUSED

	disconnectErrnos = []error{unix.ECONNRESET, unix.ECONNABORTED, unix.EPIPE}
)
