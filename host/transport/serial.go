package transport

import (
	"fmt"
	"sync"
	"time"

	"vescprobe/host/serial"
)

// Serial is a Transport over a serial port
type Serial struct {
	port     serial.Port
	device   string
	buf      []byte
	mu       sync.Mutex
	closed   bool
	portRead time.Duration
}

// OpenSerial opens the configured port
func OpenSerial(cfg *serial.Config) (*Serial, error) {
	port, err := serial.Open(cfg)
	if err != nil {
		return nil, &Error{Op: "open", Endpoint: cfg.Device, Err: err}
	}
	return NewSerial(port, cfg.Device, cfg.ReadTimeout), nil
}

// NewSerial wraps an already open port. portRead is the longest a single
// port read can block, used to keep Receive within its timeout.
func NewSerial(port serial.Port, device string, portRead time.Duration) *Serial {
	return &Serial{
		port:     port,
		device:   device,
		buf:      make([]byte, readChunk),
		portRead: portRead,
	}
}

// Send writes a frame and waits for it to leave the output buffer
func (s *Serial) Send(data []byte) error {
	if s.isClosed() {
		return ErrClosed
	}

	written := 0
	for written < len(data) {
		n, err := s.port.Write(data[written:])
		if err != nil {
			return &Error{Op: "write", Endpoint: s.device, Err: err}
		}
		if n == 0 {
			return &Error{Op: "write", Endpoint: s.device,
				Err: fmt.Errorf("incomplete write: %d/%d bytes", written, len(data))}
		}
		written += n
	}

	if err := s.port.Flush(); err != nil {
		return &Error{Op: "flush", Endpoint: s.device, Err: err}
	}
	return nil
}

// Receive reads until some bytes arrive or timeout elapses
func (s *Serial) Receive(timeout time.Duration) ([]byte, error) {
	if s.isClosed() {
		return nil, ErrClosed
	}

	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}
		// Drivers with a fixed timeout block for at most portRead per read
		wait := remaining
		if s.portRead > 0 && wait > s.portRead {
			wait = s.portRead
		}
		if err := s.port.SetReadTimeout(wait); err != nil {
			return nil, &Error{Op: "set timeout", Endpoint: s.device, Err: err}
		}

		n, err := s.port.Read(s.buf)
		if n > 0 {
			out := make([]byte, n)
			copy(out, s.buf[:n])
			return out, nil
		}
		if err != nil {
			return nil, &Error{Op: "read", Endpoint: s.device, Err: err}
		}
	}
}

// Close closes the serial port
func (s *Serial) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.port.Close()
}

// Endpoint returns the device path
func (s *Serial) Endpoint() string {
	return s.device
}

func (s *Serial) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
