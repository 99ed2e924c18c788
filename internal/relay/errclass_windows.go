//go:build windows

package relay

import "golang.org/x/sys/windows"

var (
	errAddrInUse   error = windows.WSAEADDRINUSE
	errConnRefused error = windows.WSAECONNREFUSED

	disconnectErrnos = []error{windows.WSAECONNRESET, windows.WSAECONNABORTED}
)
