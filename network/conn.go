// Package network carries protocol messages between the example client and server over RakNet.
package network

import (
	"context"
	"net"
	"sync"

	"github.com/netmove/netmove/oerror"
	"github.com/netmove/netmove/protocol"
	"github.com/sandertv/go-raknet"
	"go.uber.org/atomic"
)

// maxMessageSize is the largest message a Conn reads.
const maxMessageSize = 1 << 16

// Conn sends and receives whole protocol messages. The underlying connection must preserve message
// boundaries, as RakNet connections do: every Write is read back by exactly one Read.
type Conn struct {
	conn   net.Conn
	closed atomic.Bool

	wmu sync.Mutex
	rmu sync.Mutex
	buf []byte
}

// NewConn wraps a message-oriented connection.
func NewConn(conn net.Conn) *Conn {
	return &Conn{conn: conn, buf: make([]byte, maxMessageSize)}
}

// WriteMessage encodes and sends m. It is safe to call from several goroutines.
func (c *Conn) WriteMessage(m protocol.Message) error {
	if c.closed.Load() {
		return oerror.New("write to closed connection")
	}
	data := protocol.Encode(m)
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if _, err := c.conn.Write(data); err != nil {
		return oerror.New("write %T: %w", m, err)
	}
	return nil
}

// ReadMessage blocks until the next message arrives and decodes it.
func (c *Conn) ReadMessage() (protocol.Message, error) {
	c.rmu.Lock()
	defer c.rmu.Unlock()
	if c.closed.Load() {
		return nil, oerror.New("read from closed connection")
	}
	n, err := c.conn.Read(c.buf)
	if err != nil {
		return nil, oerror.New("read message: %w", err)
	}
	return protocol.Decode(c.buf[:n])
}

func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Closed reports whether Close was called.
func (c *Conn) Closed() bool {
	return c.closed.Load()
}

// Close closes the connection. Only the first call has any effect.
func (c *Conn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	return c.conn.Close()
}

// Listener accepts RakNet connections.
type Listener struct {
	l *raknet.Listener
}

// Listen starts listening for RakNet connections on address.
func Listen(address string) (*Listener, error) {
	l, err := raknet.Listen(address)
	if err != nil {
		return nil, oerror.New("listen on %s: %w", address, err)
	}
	return &Listener{l: l}, nil
}

// Accept blocks until a connection is established.
func (l *Listener) Accept() (*Conn, error) {
	conn, err := l.l.Accept()
	if err != nil {
		return nil, err
	}
	return NewConn(conn), nil
}

// Addr returns the address the listener is bound to.
func (l *Listener) Addr() net.Addr {
	return l.l.Addr()
}

// Close stops listening. Established connections stay open.
func (l *Listener) Close() error {
	return l.l.Close()
}

// Dial connects to a RakNet listener at address.
func Dial(ctx context.Context, address string) (*Conn, error) {
	conn, err := raknet.DialContext(ctx, address)
	if err != nil {
		return nil, oerror.New("dial %s: %w", address, err)
	}
	return NewConn(conn), nil
}
