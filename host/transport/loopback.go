package transport

import (
	"sync"
	"time"
)

// Peer is the device end of a Loopback. Respond is called with every
// chunk the host sends and returns the bytes the device writes back.
type Peer interface {
	Respond(sent []byte) []byte
}

// PeerFunc adapts a function to Peer
type PeerFunc func(sent []byte) []byte

// Respond calls f(sent)
func (f PeerFunc) Respond(sent []byte) []byte {
	return f(sent)
}

// Loopback is an in-memory Transport for tests and the simulator
type Loopback struct {
	// Delay holds back each reply before it becomes readable
	Delay time.Duration

	// ChunkSize splits replies into reads of at most this many bytes
	ChunkSize int

	peer   Peer
	name   string
	ready  chan struct{}
	done   chan struct{}
	once   sync.Once
	mu     sync.Mutex
	closed bool
	queue  [][]byte
	sent   [][]byte
}

// NewLoopback creates a loopback attached to peer. A nil peer never answers.
func NewLoopback(name string, peer Peer) *Loopback {
	return &Loopback{
		peer:  peer,
		name:  name,
		ready: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

// Send hands data to the peer and queues its reply
func (l *Loopback) Send(data []byte) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	l.sent = append(l.sent, append([]byte(nil), data...))
	l.mu.Unlock()

	if l.peer == nil {
		return nil
	}
	reply := l.peer.Respond(data)
	if len(reply) == 0 {
		return nil
	}

	if l.Delay > 0 {
		time.AfterFunc(l.Delay, func() { l.Inject(reply) })
		return nil
	}
	l.Inject(reply)
	return nil
}

// Inject makes data readable as if the device had written it
func (l *Loopback) Inject(data []byte) {
	chunk := l.ChunkSize
	if chunk <= 0 {
		chunk = len(data)
	}
	for len(data) > 0 {
		n := chunk
		if n > len(data) {
			n = len(data)
		}
		part := append([]byte(nil), data[:n]...)
		data = data[n:]

		l.mu.Lock()
		if l.closed {
			l.mu.Unlock()
			return
		}
		l.queue = append(l.queue, part)
		l.mu.Unlock()
	}

	select {
	case l.ready <- struct{}{}:
	default:
	}
}

// Receive waits up to timeout for the next chunk
func (l *Loopback) Receive(timeout time.Duration) ([]byte, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		l.mu.Lock()
		if l.closed {
			l.mu.Unlock()
			return nil, ErrClosed
		}
		if len(l.queue) > 0 {
			data := l.queue[0]
			l.queue = l.queue[1:]
			l.mu.Unlock()
			return data, nil
		}
		l.mu.Unlock()

		select {
		case <-l.ready:
		case <-timer.C:
			return nil, nil
		case <-l.done:
			return nil, ErrClosed
		}
	}
}

// Close detaches the loopback; pending replies are dropped
func (l *Loopback) Close() error {
	l.once.Do(func() {
		l.mu.Lock()
		l.closed = true
		l.queue = nil
		l.mu.Unlock()
		close(l.done)
	})
	return nil
}

// Closed reports whether Close has been called
func (l *Loopback) Closed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// Sent returns a copy of everything written by the host so far
func (l *Loopback) Sent() [][]byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([][]byte, len(l.sent))
	copy(out, l.sent)
	return out
}

// Endpoint returns the loopback name
func (l *Loopback) Endpoint() string {
	return l.name
}
