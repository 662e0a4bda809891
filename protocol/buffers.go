package protocol

import "errors"

// MaxFrameSize is the largest possible frame on the wire
const MaxFrameSize = LongHeaderSize + MaxBody + TrailerSize

// RxBuffer accumulates bytes read from a stream until whole frames can be
// taken off its front
type RxBuffer struct {
	buf []byte
}

// NewRxBuffer creates an RxBuffer with room for capacity bytes before it grows
func NewRxBuffer(capacity int) *RxBuffer {
	return &RxBuffer{buf: make([]byte, 0, capacity)}
}

// Write appends received bytes
func (b *RxBuffer) Write(data []byte) (int, error) {
	b.buf = append(b.buf, data...)
	return len(data), nil
}

// Data returns the buffered bytes. The slice is only valid until the next
// Write, Pop or Reset.
func (b *RxBuffer) Data() []byte {
	return b.buf
}

// Available returns the number of buffered bytes
func (b *RxBuffer) Available() int {
	return len(b.buf)
}

// Pop removes n bytes from the front of the buffer
func (b *RxBuffer) Pop(n int) {
	if n > len(b.buf) {
		n = len(b.buf)
	}
	rest := copy(b.buf, b.buf[n:])
	b.buf = b.buf[:rest]
}

// Reset discards everything buffered
func (b *RxBuffer) Reset() {
	b.buf = b.buf[:0]
}

// Next takes the next frame off the buffer.
//
// ErrIncomplete means no bytes were consumed and more input is needed.
// Any other error means the offending bytes were consumed: leading bytes
// that cannot start a frame, a frame that failed its checksum, or the
// marker of a frame with no terminator where its length said one would be.
func (b *RxBuffer) Next() (Frame, error) {
	if skip := Scan(b.buf); skip > 0 {
		marker := b.buf[0]
		b.Pop(skip)
		return Frame{}, &FrameError{Kind: ErrUnexpectedMarker, Marker: marker, Have: skip}
	}

	f, n, err := Decode(b.buf)
	switch {
	case err == nil:
		b.Pop(n)
		return f, nil
	case IsIncomplete(err):
		return Frame{}, err
	case errors.Is(err, ErrMissingTerminator):
		// The length byte may be the corrupt one, so resync from the next byte
		b.Pop(1)
	default:
		b.Pop(n)
	}
	return Frame{}, err
}
