// Package protocol implements the framed packet protocol spoken by the
// motor-controller firmware over UART, USB CDC and its TCP bridge.
//
// A frame on the wire is:
//
//	0x02 len            body  crc_hi crc_lo 0x03   (len <= 255)
//	0x03 len_hi len_lo  body  crc_hi crc_lo 0x03   (len <= 65535)
//
// where body is the opcode byte followed by the command payload and the
// checksum covers the body only.
package protocol

// Version represents the vescprobe tool version
const Version = "0.1.0"

// Frame markers and limits
const (
	MarkerShort = 0x02 // 1-byte length header
	MarkerLong  = 0x03 // 2-byte big-endian length header
	Terminator  = 0x03

	ShortHeaderSize = 2
	LongHeaderSize  = 3
	TrailerSize     = 3 // crc (2) + terminator (1)

	MaxShortBody = 0xFF
	MaxBody      = 0xFFFF

	// MinFrameSize is the smallest well-formed frame: short header, opcode, trailer
	MinFrameSize = ShortHeaderSize + 1 + TrailerSize
)

// Frame is one decoded message: the opcode and the bytes that follow it
type Frame struct {
	Opcode  byte
	Payload []byte
}

// Body returns opcode || payload, the checksum input
func (f Frame) Body() []byte {
	body := make([]byte, 0, len(f.Payload)+1)
	body = append(body, f.Opcode)
	return append(body, f.Payload...)
}
