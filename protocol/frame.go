package protocol

import "encoding/binary"

// Encode builds a complete wire frame for opcode and payload.
// Bodies longer than MaxBody are rejected, never truncated.
func Encode(opcode byte, payload []byte) ([]byte, error) {
	bodyLen := len(payload) + 1
	if bodyLen > MaxBody {
		return nil, &FrameError{Kind: ErrPayloadTooLarge, Need: MaxBody, Have: bodyLen}
	}

	headerLen := ShortHeaderSize
	if bodyLen > MaxShortBody {
		headerLen = LongHeaderSize
	}

	frame := make([]byte, 0, headerLen+bodyLen+TrailerSize)
	if headerLen == ShortHeaderSize {
		frame = append(frame, MarkerShort, byte(bodyLen))
	} else {
		frame = append(frame, MarkerLong, byte(bodyLen>>8), byte(bodyLen))
	}

	bodyStart := len(frame)
	frame = append(frame, opcode)
	frame = append(frame, payload...)

	crc := Checksum(frame[bodyStart:])
	frame = binary.BigEndian.AppendUint16(frame, crc)
	frame = append(frame, Terminator)

	return frame, nil
}

// EncodeFrame is Encode for an already assembled Frame
func EncodeFrame(f Frame) ([]byte, error) {
	return Encode(f.Opcode, f.Payload)
}

// header parses the marker and length field at the start of raw.
// It returns the body length and the header size.
func header(raw []byte) (bodyLen int, headerLen int, err error) {
	if len(raw) < 1 {
		return 0, 0, &FrameError{Kind: ErrIncomplete, Need: 1, Have: 0}
	}

	switch raw[0] {
	case MarkerShort:
		if len(raw) < ShortHeaderSize {
			return 0, 0, &FrameError{Kind: ErrIncomplete, Need: ShortHeaderSize, Have: len(raw)}
		}
		return int(raw[1]), ShortHeaderSize, nil
	case MarkerLong:
		if len(raw) < LongHeaderSize {
			return 0, 0, &FrameError{Kind: ErrIncomplete, Need: LongHeaderSize, Have: len(raw)}
		}
		return int(binary.BigEndian.Uint16(raw[1:3])), LongHeaderSize, nil
	default:
		return 0, 0, &FrameError{Kind: ErrUnexpectedMarker, Marker: raw[0]}
	}
}

// Decode validates the frame at the start of raw and returns it together
// with the number of bytes it occupied. Bytes after the frame are ignored.
//
// The returned payload is a copy; raw can be reused by the caller.
func Decode(raw []byte) (Frame, int, error) {
	bodyLen, headerLen, err := header(raw)
	if err != nil {
		return Frame{}, 0, err
	}

	total := headerLen + bodyLen + TrailerSize
	if len(raw) < total {
		return Frame{}, 0, &FrameError{Kind: ErrIncomplete, Need: total, Have: len(raw)}
	}

	body := raw[headerLen : headerLen+bodyLen]
	received := binary.BigEndian.Uint16(raw[headerLen+bodyLen:])

	if term := raw[total-1]; term != Terminator {
		return Frame{}, total, &FrameError{Kind: ErrMissingTerminator, Terminator: term}
	}

	// A zero length body has no opcode; the firmware never sends one
	if bodyLen == 0 {
		return Frame{}, total, &FrameError{Kind: ErrShortPayload, Need: 1, Have: 0}
	}

	if actual := Checksum(body); actual != received {
		return Frame{}, total, &FrameError{Kind: ErrChecksumMismatch, Want: actual, Got: received}
	}

	payload := make([]byte, bodyLen-1)
	copy(payload, body[1:])

	return Frame{Opcode: body[0], Payload: payload}, total, nil
}

// Scan looks for the first byte in buf that could start a frame.
// It returns the number of leading bytes that cannot, which the caller
// should discard and report.
func Scan(buf []byte) int {
	for i, b := range buf {
		if b == MarkerShort || b == MarkerLong {
			return i
		}
	}
	return len(buf)
}
