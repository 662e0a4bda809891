// Package transport moves raw bytes to and from the controller.
//
// Implementations never block past the timeout given to Receive and report
// an elapsed timeout as an empty read, not as an error. Errors returned by
// a transport mean the link itself is broken.
package transport

import (
	"errors"
	"fmt"
	"time"
)

// Transport is a byte pipe to one device. It is not safe for concurrent
// use; the session owning it serialises access.
type Transport interface {
	// Send writes all of data or fails
	Send(data []byte) error

	// Receive returns whatever bytes arrive within timeout, possibly none
	Receive(timeout time.Duration) ([]byte, error)

	// Close releases the underlying handle. It is safe to call more than once.
	Close() error

	// Endpoint names the remote end for logs and errors
	Endpoint() string
}

var (
	ErrClosed     = errors.New("transport: closed")
	ErrPeerClosed = errors.New("transport: peer closed the connection")
)

// Error is a failure of the link itself. The transport should be closed
// after one.
type Error struct {
	Op       string
	Endpoint string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("transport: %s %s: %v", e.Op, e.Endpoint, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsError reports whether err is, or wraps, a link failure
func IsError(err error) bool {
	var te *Error
	return errors.As(err, &te)
}

const readChunk = 1024
