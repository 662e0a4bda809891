package protocol

import (
	"errors"
	"fmt"
)

var (
	ErrUnexpectedMarker  = errors.New("protocol: unexpected frame marker")
	ErrIncomplete        = errors.New("protocol: incomplete frame")
	ErrMissingTerminator = errors.New("protocol: missing frame terminator")
	ErrChecksumMismatch  = errors.New("protocol: checksum mismatch")
	ErrShortPayload      = errors.New("protocol: short payload")
	ErrUnknownCommand    = errors.New("protocol: unknown command")
	ErrPayloadTooLarge   = errors.New("protocol: payload too large")
	ErrBadArgument       = errors.New("protocol: bad command argument")
	ErrUnexpectedReply   = errors.New("protocol: unexpected reply")
)

// FrameError describes why a byte sequence was rejected by the decoder.
// It matches its Kind sentinel with errors.Is, so callers can branch on
// ErrChecksumMismatch etc. without losing the detail fields.
type FrameError struct {
	Kind error

	// Marker is the offending first byte (ErrUnexpectedMarker); Have then
	// counts the bytes skipped, if any
	Marker byte

	// Need and Have are byte counts (ErrIncomplete, ErrShortPayload)
	Need int
	Have int

	// Want and Got are checksums (ErrChecksumMismatch)
	Want uint16
	Got  uint16

	// Terminator is the byte found where 0x03 was expected (ErrMissingTerminator)
	Terminator byte
}

func (e *FrameError) Error() string {
	switch e.Kind {
	case ErrUnexpectedMarker:
		if e.Have > 0 {
			return fmt.Sprintf("%v: 0x%02X (%d bytes skipped)", e.Kind, e.Marker, e.Have)
		}
		return fmt.Sprintf("%v: 0x%02X", e.Kind, e.Marker)
	case ErrIncomplete, ErrShortPayload:
		return fmt.Sprintf("%v: need %d bytes, have %d", e.Kind, e.Need, e.Have)
	case ErrChecksumMismatch:
		return fmt.Sprintf("%v: frame carries 0x%04X, body hashes to 0x%04X", e.Kind, e.Got, e.Want)
	case ErrMissingTerminator:
		return fmt.Sprintf("%v: found 0x%02X", e.Kind, e.Terminator)
	default:
		return e.Kind.Error()
	}
}

func (e *FrameError) Unwrap() error {
	return e.Kind
}

// IsIncomplete reports whether err only means "keep buffering"
func IsIncomplete(err error) bool {
	return errors.Is(err, ErrIncomplete)
}

// SignatureMismatchError is returned when a configuration block carries a
// signature other than the one the host was built against
type SignatureMismatchError struct {
	Want uint32
	Got  uint32
}

func (e *SignatureMismatchError) Error() string {
	return fmt.Sprintf("config signature mismatch: expected %d (0x%08X), device reports %d (0x%08X)",
		e.Want, e.Want, e.Got, e.Got)
}
