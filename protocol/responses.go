package protocol

import (
	"fmt"
	"strings"
)

// Configuration block layout
const (
	ConfigBlockTag        = 0x49
	ConfigSignatureOffset = 2
)

// ExpectedConfigSignature is the signature of the config layout this
// host understands
const ExpectedConfigSignature uint32 = 1954583969 // 0x748095A1

const uuidLen = 12

// Response is the outcome of one completed exchange
type Response struct {
	// Command is the registry name of the request
	Command string

	// Replied is false for commands that expect no answer
	Replied bool

	Opcode  byte
	Payload []byte
}

// NewResponse wraps a decoded frame
func NewResponse(command string, f Frame) *Response {
	return &Response{
		Command: command,
		Replied: true,
		Opcode:  f.Opcode,
		Payload: f.Payload,
	}
}

// IsConfigBlock reports whether the payload starts with the config block tag
func (r *Response) IsConfigBlock() bool {
	return len(r.Payload) > 0 && r.Payload[0] == ConfigBlockTag
}

// ConfigSignature extracts the configuration signature
func (r *Response) ConfigSignature() (uint32, error) {
	if !r.Replied {
		return 0, fmt.Errorf("%w: %s got no reply", ErrUnexpectedReply, r.Command)
	}
	if !r.IsConfigBlock() {
		return 0, fmt.Errorf("%w: opcode %d is not a config block", ErrUnexpectedReply, r.Opcode)
	}
	return ReadU32BE(r.Payload, ConfigSignatureOffset)
}

// CheckSignature compares the configuration signature against expected
func (r *Response) CheckSignature(expected uint32) error {
	sig, err := r.ConfigSignature()
	if err != nil {
		return err
	}
	if sig != expected {
		return &SignatureMismatchError{Want: expected, Got: sig}
	}
	return nil
}

// FirmwareInfo is the decoded FW_VERSION reply
type FirmwareInfo struct {
	Major        uint8
	Minor        uint8
	HardwareName string
	UUID         []byte // empty when the firmware does not send one
}

func (f FirmwareInfo) String() string {
	s := fmt.Sprintf("%d.%02d", f.Major, f.Minor)
	if f.HardwareName != "" {
		s += " (" + f.HardwareName + ")"
	}
	return s
}

// FirmwareInfo decodes a FW_VERSION reply: major, minor, NUL terminated
// hardware name, then an optional 12 byte UUID
func (r *Response) FirmwareInfo() (FirmwareInfo, error) {
	if !r.Replied || r.Opcode != OpFWVersion {
		return FirmwareInfo{}, fmt.Errorf("%w: opcode %d is not a firmware version", ErrUnexpectedReply, r.Opcode)
	}

	data := r.Payload
	var info FirmwareInfo
	var err error

	if info.Major, err = DecodeUint8(&data); err != nil {
		return FirmwareInfo{}, fmt.Errorf("major version: %w", err)
	}
	if info.Minor, err = DecodeUint8(&data); err != nil {
		return FirmwareInfo{}, fmt.Errorf("minor version: %w", err)
	}
	if info.HardwareName, err = DecodeCString(&data); err != nil {
		return FirmwareInfo{}, fmt.Errorf("hardware name: %w", err)
	}
	if len(data) >= uuidLen {
		info.UUID, _ = DecodeBytes(&data, uuidLen)
	}

	return info, nil
}

// Text returns the printable text of a PRINT reply with invalid UTF-8
// replaced and trailing NULs and whitespace removed
func (r *Response) Text() string {
	return strings.TrimRight(strings.ToValidUTF8(string(r.Payload), "�"), "\x00 \r\n")
}
