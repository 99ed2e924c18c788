package relay

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Conn is an accepted TCP connection owned by one handler. Writes are
// serialized so broadcasts from other handlers never interleave with the
// owner's own replies.
type Conn struct {
	id           string
	conn         net.Conn
	writeTimeout time.Duration

	writeMu   sync.Mutex
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// NewConn wraps c. A zero writeTimeout leaves writes unbounded.
func NewConn(c net.Conn, writeTimeout time.Duration) *Conn {
	return &Conn{
		id:           uuid.NewString(),
		conn:         c,
		writeTimeout: writeTimeout,
	}
}

// ID returns the connection's generated identifier.
func (c *Conn) ID() string { return c.id }

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() string { return c.conn.RemoteAddr().String() }

// Read reads the next chunk from the peer.
func (c *Conn) Read(p []byte) (int, error) { return c.conn.Read(p) }

// Send writes payload as-is. A failed write closes the connection so its
// handler stops and unregisters.
func (c *Conn) Send(payload []byte) error {
	if c.closed.Load() {
		return ErrMemberClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			_ = c.Close()
			return err
		}
	}
	if _, err := c.conn.Write(payload); err != nil {
		_ = c.Close()
		return err
	}
	return nil
}

// Close closes the underlying connection. Only the first call does any work.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// Closed reports whether Close has been called.
func (c *Conn) Closed() bool { return c.closed.Load() }
