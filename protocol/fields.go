package protocol

import (
	"bytes"
	"encoding/binary"
)

// ReadU32BE reads a big-endian uint32 at offset within payload.
// It never reads past len(payload).
func ReadU32BE(payload []byte, offset int) (uint32, error) {
	if err := need(payload, offset, 4); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(payload[offset:]), nil
}

// ReadU16BE reads a big-endian uint16 at offset within payload
func ReadU16BE(payload []byte, offset int) (uint16, error) {
	if err := need(payload, offset, 2); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(payload[offset:]), nil
}

// ReadI32BE reads a big-endian two's complement int32 at offset within payload
func ReadI32BE(payload []byte, offset int) (int32, error) {
	v, err := ReadU32BE(payload, offset)
	return int32(v), err
}

// ReadU8 reads the byte at offset within payload
func ReadU8(payload []byte, offset int) (uint8, error) {
	if err := need(payload, offset, 1); err != nil {
		return 0, err
	}
	return payload[offset], nil
}

func need(payload []byte, offset, n int) error {
	if offset < 0 || offset+n > len(payload) {
		return &FrameError{Kind: ErrShortPayload, Need: offset + n, Have: len(payload)}
	}
	return nil
}

// The Decode* helpers consume from the front of *data and advance it,
// for payloads made of consecutive variable width fields.

// DecodeUint8 decodes one byte and advances the slice
func DecodeUint8(data *[]byte) (uint8, error) {
	v, err := ReadU8(*data, 0)
	if err != nil {
		return 0, err
	}
	*data = (*data)[1:]
	return v, nil
}

// DecodeUint16 decodes a big-endian uint16 and advances the slice
func DecodeUint16(data *[]byte) (uint16, error) {
	v, err := ReadU16BE(*data, 0)
	if err != nil {
		return 0, err
	}
	*data = (*data)[2:]
	return v, nil
}

// DecodeUint32 decodes a big-endian uint32 and advances the slice
func DecodeUint32(data *[]byte) (uint32, error) {
	v, err := ReadU32BE(*data, 0)
	if err != nil {
		return 0, err
	}
	*data = (*data)[4:]
	return v, nil
}

// DecodeCString decodes a NUL terminated string and advances the slice
// past the terminator. A missing terminator is a short payload.
func DecodeCString(data *[]byte) (string, error) {
	end := bytes.IndexByte(*data, 0)
	if end < 0 {
		return "", &FrameError{Kind: ErrShortPayload, Need: len(*data) + 1, Have: len(*data)}
	}
	s := string((*data)[:end])
	*data = (*data)[end+1:]
	return s, nil
}

// DecodeBytes decodes n raw bytes and advances the slice
func DecodeBytes(data *[]byte, n int) ([]byte, error) {
	if err := need(*data, 0, n); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, *data)
	*data = (*data)[n:]
	return out, nil
}

// EncodeUint32 appends a big-endian uint32 to dst
func EncodeUint32(dst []byte, v uint32) []byte {
	return binary.BigEndian.AppendUint32(dst, v)
}
