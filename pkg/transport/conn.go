package transport

import (
	"errors"
	"io"
	"net"
	"sync"

	"github.com/pagevis/pagevis-go/pkg/log"
)

// ErrConnectionClosed is returned when sending on a closed connection.
var ErrConnectionClosed = errors.New("connection closed")

// FrameHandler receives one inbound frame payload.
type FrameHandler func(data []byte)

// Conn is a framed stream connection between the application and an adapter
// host. Writes may come from any goroutine; reads are owned by Serve.
type Conn struct {
	conn   net.Conn
	framer *Framer

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// NewConn wraps an established stream connection.
func NewConn(c net.Conn) *Conn {
	return &Conn{
		conn:   c,
		framer: NewFramer(c),
		done:   make(chan struct{}),
	}
}

// SetLogger enables frame event logging.
func (c *Conn) SetLogger(logger log.Logger, sessionID string) {
	c.framer.SetLogger(logger, sessionID, c.RemoteAddr())
}

// RemoteAddr returns the peer address, or "" if unknown.
func (c *Conn) RemoteAddr() string {
	if addr := c.conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

// Send writes one frame.
func (c *Conn) Send(data []byte) error {
	if c.IsClosed() {
		return ErrConnectionClosed
	}
	if err := c.framer.WriteFrame(data); err != nil {
		if c.IsClosed() {
			return ErrConnectionClosed
		}
		return err
	}
	return nil
}

// Serve reads frames and passes each to handler until the connection closes
// or a read fails. The connection is closed on return. A clean close by
// either side returns nil.
func (c *Conn) Serve(handler FrameHandler) error {
	defer c.Close()

	for {
		data, err := c.framer.ReadFrame()
		if err != nil {
			if c.IsClosed() || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		handler(data)
	}
}

// Done is closed once the connection is closed.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// IsClosed reports whether Close has been called.
func (c *Conn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Close closes the connection. Safe to call multiple times.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	c.mu.Unlock()

	return c.conn.Close()
}
