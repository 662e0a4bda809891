package transport

import (
	"errors"
	"io"
	"net"
	"os"
	"strconv"
	"sync"
	"time"
)

// TCPConfig describes the controller's TCP bridge
type TCPConfig struct {
	Host           string
	Port           int
	ConnectTimeout time.Duration
}

// Addr returns host:port
func (c TCPConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// TCP is a Transport over a TCP stream
type TCP struct {
	conn   net.Conn
	addr   string
	buf    []byte
	mu     sync.Mutex
	closed bool
}

// DialTCP connects to the bridge, giving up after cfg.ConnectTimeout
func DialTCP(cfg TCPConfig) (*TCP, error) {
	addr := cfg.Addr()
	conn, err := net.DialTimeout("tcp", addr, cfg.ConnectTimeout)
	if err != nil {
		return nil, &Error{Op: "dial", Endpoint: addr, Err: err}
	}
	return NewTCP(conn), nil
}

// NewTCP wraps an established connection
func NewTCP(conn net.Conn) *TCP {
	return &TCP{
		conn: conn,
		addr: conn.RemoteAddr().String(),
		buf:  make([]byte, readChunk),
	}
}

// Send writes all of data
func (t *TCP) Send(data []byte) error {
	if t.isClosed() {
		return ErrClosed
	}
	// net.Conn.Write only returns early with an error
	if _, err := t.conn.Write(data); err != nil {
		return &Error{Op: "write", Endpoint: t.addr, Err: err}
	}
	return nil
}

// Receive reads whatever arrives before the timeout
func (t *TCP) Receive(timeout time.Duration) ([]byte, error) {
	if t.isClosed() {
		return nil, ErrClosed
	}

	if err := t.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, &Error{Op: "set deadline", Endpoint: t.addr, Err: err}
	}

	n, err := t.conn.Read(t.buf)
	if n > 0 {
		out := make([]byte, n)
		copy(out, t.buf[:n])
		return out, nil
	}

	switch {
	case err == nil:
		return nil, nil
	case errors.Is(err, os.ErrDeadlineExceeded):
		return nil, nil
	case errors.Is(err, io.EOF):
		return nil, &Error{Op: "read", Endpoint: t.addr, Err: ErrPeerClosed}
	default:
		return nil, &Error{Op: "read", Endpoint: t.addr, Err: err}
	}
}

// Close closes the connection
func (t *TCP) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true
	return t.conn.Close()
}

// Endpoint returns the remote address
func (t *TCP) Endpoint() string {
	return t.addr
}

func (t *TCP) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}
