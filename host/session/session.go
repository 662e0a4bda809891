// Package session runs request/response exchanges with the controller.
//
// The protocol carries no sequence number, so a reply can only be matched
// to a request by having a single request in flight. A Session owns its
// transport and holds it exclusively for the whole of each call.
package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"vescprobe/host/transport"
	"vescprobe/protocol"
)

// DefaultTimeout is used when a call passes a zero timeout
const DefaultTimeout = 2 * time.Second

// State is the progress of the most recent call
type State int

const (
	StateIdle State = iota
	StateSent
	StateAwaitingBytes
	StateDecoded
	StateTimedOut
	StateChecksumMismatch
	StateMalformedFrame
	StateTransportFailed
)

var stateNames = [...]string{
	StateIdle:             "idle",
	StateSent:             "sent",
	StateAwaitingBytes:    "awaiting bytes",
	StateDecoded:          "decoded",
	StateTimedOut:         "timed out",
	StateChecksumMismatch: "checksum mismatch",
	StateMalformedFrame:   "malformed frame",
	StateTransportFailed:  "transport failed",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

var (
	ErrTimeout = errors.New("session: timed out waiting for reply")
	ErrClosed  = errors.New("session: closed")
)

// TimeoutError reports a call whose reply did not complete in time
type TimeoutError struct {
	Command string
	Timeout time.Duration

	// Pending is the number of bytes of an unfinished frame that were
	// buffered when the deadline passed
	Pending int
}

func (e *TimeoutError) Error() string {
	if e.Pending > 0 {
		return fmt.Sprintf("%s: no complete reply within %v (%d bytes of a partial frame discarded)",
			e.Command, e.Timeout, e.Pending)
	}
	return fmt.Sprintf("%s: no reply within %v", e.Command, e.Timeout)
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// IsRecoverable reports whether the session can still be used after err.
// Timeouts and rejected frames leave the link intact; transport failures
// do not.
func IsRecoverable(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, ErrClosed) || errors.Is(err, transport.ErrClosed) || transport.IsError(err) {
		return false
	}
	return true
}

// Option configures a Session
type Option func(*Session)

// WithLogger sets the logger; the default discards everything
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Session) {
		s.log = logger
	}
}

// WithRegistry replaces the built-in command table
func WithRegistry(reg *protocol.Registry) Option {
	return func(s *Session) {
		s.reg = reg
	}
}

// WithDefaultTimeout sets the timeout used when a call passes zero
func WithDefaultTimeout(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// Session is a single connection to one device
type Session struct {
	mu      sync.Mutex
	tr      transport.Transport
	reg     *protocol.Registry
	log     zerolog.Logger
	rx      *protocol.RxBuffer
	timeout time.Duration
	state   State
	closed  bool
}

// New creates a session that takes ownership of tr
func New(tr transport.Transport, opts ...Option) *Session {
	s := &Session{
		tr:      tr,
		reg:     protocol.DefaultRegistry(),
		log:     zerolog.Nop(),
		rx:      protocol.NewRxBuffer(512),
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With().Str("endpoint", tr.Endpoint()).Logger()
	return s
}

// Registry returns the command table used to resolve names
func (s *Session) Registry() *protocol.Registry {
	return s.reg
}

// State returns the state the most recent call ended in
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Call looks up a command, sends it and waits for its reply.
// Usage errors (unknown command, bad arguments, payload too large) are
// reported before anything is written.
func (s *Session) Call(name string, args []string, timeout time.Duration) (*protocol.Response, error) {
	cmd, payload, err := s.reg.Build(name, args)
	if err != nil {
		return nil, err
	}
	return s.CallCommand(cmd, payload, timeout)
}

// CallCommand sends an already built command
func (s *Session) CallCommand(cmd protocol.Command, payload []byte, timeout time.Duration) (*protocol.Response, error) {
	frame, err := protocol.Encode(cmd.Opcode, payload)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", cmd.Name, err)
	}
	return s.exchange(cmd, frame, timeout)
}

// Raw sends an arbitrary opcode and returns the first well-formed reply
func (s *Session) Raw(opcode byte, payload []byte, timeout time.Duration) (*protocol.Response, error) {
	cmd := protocol.Command{
		Name:   fmt.Sprintf("RAW_%d", opcode),
		Opcode: opcode,
		Reply:  protocol.ReplyAny,
	}
	return s.CallCommand(cmd, payload, timeout)
}

// Send writes a command without waiting for any reply
func (s *Session) Send(name string, args []string) error {
	cmd, payload, err := s.reg.Build(name, args)
	if err != nil {
		return err
	}
	cmd.Reply = protocol.ReplyNone
	_, err = s.CallCommand(cmd, payload, 0)
	return err
}

func (s *Session) exchange(cmd protocol.Command, frame []byte, timeout time.Duration) (*protocol.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}
	if timeout <= 0 {
		timeout = s.timeout
	}

	// Anything left over belongs to an earlier, finished call
	if n := s.rx.Available(); n > 0 {
		s.log.Warn().Str("command", cmd.Name).Int("bytes", n).Msg("discarding stale input")
	}
	s.rx.Reset()
	s.state = StateIdle

	s.log.Debug().Str("command", cmd.Name).Uint8("opcode", cmd.Opcode).Hex("frame", frame).Msg("send")
	if err := s.tr.Send(frame); err != nil {
		s.state = StateTransportFailed
		s.log.Error().Err(err).Str("command", cmd.Name).Msg("send failed")
		return nil, fmt.Errorf("%s: %w", cmd.Name, err)
	}
	s.state = StateSent

	if !cmd.ExpectsReply() {
		return &protocol.Response{Command: cmd.Name}, nil
	}

	s.state = StateAwaitingBytes
	deadline := time.Now().Add(timeout)

	for {
		resp, err := s.takeFrame(cmd)
		if resp != nil || err != nil {
			return resp, err
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			s.state = StateTimedOut
			pending := s.rx.Available()
			s.rx.Reset()
			s.log.Info().Str("command", cmd.Name).Dur("timeout", timeout).Int("pending", pending).Msg("timed out")
			return nil, &TimeoutError{Command: cmd.Name, Timeout: timeout, Pending: pending}
		}

		data, err := s.tr.Receive(remaining)
		if err != nil {
			s.state = StateTransportFailed
			s.log.Error().Err(err).Str("command", cmd.Name).Msg("receive failed")
			return nil, fmt.Errorf("%s: %w", cmd.Name, err)
		}
		if len(data) > 0 {
			s.log.Trace().Hex("data", data).Msg("recv")
			s.rx.Write(data)
		}
	}
}

// takeFrame consumes buffered frames until one answers cmd, the buffer
// needs more bytes, or a frame is rejected
func (s *Session) takeFrame(cmd protocol.Command) (*protocol.Response, error) {
	for {
		f, err := s.rx.Next()
		if protocol.IsIncomplete(err) {
			return nil, nil
		}
		if err != nil {
			if errors.Is(err, protocol.ErrChecksumMismatch) {
				s.state = StateChecksumMismatch
			} else {
				s.state = StateMalformedFrame
			}
			s.rx.Reset()
			s.log.Warn().Err(err).Str("command", cmd.Name).Msg("frame rejected")
			return nil, fmt.Errorf("%s: %w", cmd.Name, err)
		}

		if !cmd.Accepts(f.Opcode) {
			s.log.Warn().Str("command", cmd.Name).Uint8("opcode", f.Opcode).Int("len", len(f.Payload)).
				Msg("skipping unrelated frame")
			continue
		}

		s.state = StateDecoded
		s.log.Debug().Str("command", cmd.Name).Uint8("opcode", f.Opcode).Hex("payload", f.Payload).Msg("reply")
		return protocol.NewResponse(cmd.Name, f), nil
	}
}

// Close waits for an in-flight call to finish and releases the transport
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.tr.Close()
}
