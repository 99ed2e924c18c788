package relay

import (
	"errors"
	"fmt"
	"io"
	"net"
)

// ErrMemberClosed is returned when sending to a member whose connection has
// already been closed. Broadcast treats it as a no-op.
var ErrMemberClosed = errors.New("relay: member closed")

// BindError reports a bind failure that stops a Listener from starting.
type BindError struct {
	Relay    string
	Addr     string
	Port     int
	Policy   PortPolicy
	Conflict bool
	Err      error
}

func (e *BindError) Error() string {
	if e.Conflict {
		return fmt.Sprintf("relay %q: port %d is already in use (%s port policy): %v", e.Relay, e.Port, e.Policy, e.Err)
	}
	return fmt.Sprintf("relay %q: failed to bind %s on port %d: %v", e.Relay, e.Addr, e.Port, e.Err)
}

func (e *BindError) Unwrap() error { return e.Err }

// IsAddrInUse reports whether err is the platform's "address already in use"
// condition.
func IsAddrInUse(err error) bool {
	return err != nil && errors.Is(err, errAddrInUse)
}

// IsConnRefused reports whether err means nothing is listening at the target.
func IsConnRefused(err error) bool {
	return err != nil && errors.Is(err, errConnRefused)
}

// IsPeerDisconnect reports whether err is an expected end of a session: a
// graceful close, a reset or abort from the peer, or a locally closed socket.
func IsPeerDisconnect(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	for _, target := range disconnectErrnos {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
