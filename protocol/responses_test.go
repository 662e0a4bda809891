package protocol

import (
	"errors"
	"testing"
)

func TestConfigSignatureFromWire(t *testing.T) {
	// Config block reply with signature 0x748095A1
	raw, _ := Encode(OpGetCustomConfig, []byte{0x49, 0x00, 0x74, 0x80, 0x95, 0xA1, 0x00, 0x10})

	f, _, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	resp := NewResponse("GET_CUSTOM_CONFIG", f)

	sig, err := resp.ConfigSignature()
	if err != nil {
		t.Fatalf("ConfigSignature failed: %v", err)
	}
	if sig != ExpectedConfigSignature {
		t.Errorf("Expected signature %d, got %d", ExpectedConfigSignature, sig)
	}
	if err := resp.CheckSignature(ExpectedConfigSignature); err != nil {
		t.Errorf("CheckSignature failed: %v", err)
	}
}

func TestCheckSignatureMismatch(t *testing.T) {
	resp := &Response{Replied: true, Opcode: OpGetCustomConfig, Payload: []byte{0x49, 0, 0, 0, 0, 1}}

	err := resp.CheckSignature(ExpectedConfigSignature)
	var mismatch *SignatureMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("Expected SignatureMismatchError, got %v", err)
	}
	if mismatch.Got != 1 || mismatch.Want != ExpectedConfigSignature {
		t.Errorf("Unexpected mismatch detail: %+v", mismatch)
	}
}

func TestConfigSignatureErrors(t *testing.T) {
	testCases := []struct {
		name     string
		resp     *Response
		expected error
	}{
		{"no reply", &Response{Command: "ALIVE"}, ErrUnexpectedReply},
		{"not a config block", &Response{Replied: true, Payload: []byte{0x01, 0, 1, 2, 3, 4}}, ErrUnexpectedReply},
		{"empty payload", &Response{Replied: true}, ErrUnexpectedReply},
		{"short block", &Response{Replied: true, Payload: []byte{0x49, 0, 0x74, 0x80}}, ErrShortPayload},
	}

	for _, tc := range testCases {
		_, err := tc.resp.ConfigSignature()
		if !errors.Is(err, tc.expected) {
			t.Errorf("%s: expected %v, got %v", tc.name, tc.expected, err)
		}
	}
}

func TestFirmwareInfo(t *testing.T) {
	payload := []byte{6, 5, 'D', 'e', 'v', 'k', 'i', 't', ' ', 'C', '3', 0}
	uuid := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}
	payload = append(payload, uuid...)
	payload = append(payload, 0x01) // pairing flag

	resp := &Response{Replied: true, Opcode: OpFWVersion, Payload: payload}
	info, err := resp.FirmwareInfo()
	if err != nil {
		t.Fatalf("FirmwareInfo failed: %v", err)
	}

	if info.Major != 6 || info.Minor != 5 {
		t.Errorf("Expected version 6.5, got %d.%d", info.Major, info.Minor)
	}
	if info.HardwareName != "Devkit C3" {
		t.Errorf("Expected hardware name 'Devkit C3', got %q", info.HardwareName)
	}
	if len(info.UUID) != 12 || info.UUID[11] != 12 {
		t.Errorf("Unexpected UUID % X", info.UUID)
	}
	if info.String() != "6.05 (Devkit C3)" {
		t.Errorf("Unexpected String(): %q", info.String())
	}
}

func TestFirmwareInfoTruncated(t *testing.T) {
	resp := &Response{Replied: true, Opcode: OpFWVersion, Payload: []byte{6, 5, 'D', 'e'}}
	if _, err := resp.FirmwareInfo(); !errors.Is(err, ErrShortPayload) {
		t.Errorf("Expected ErrShortPayload, got %v", err)
	}

	wrong := &Response{Replied: true, Opcode: OpPrint, Payload: []byte{6, 5, 0}}
	if _, err := wrong.FirmwareInfo(); !errors.Is(err, ErrUnexpectedReply) {
		t.Errorf("Expected ErrUnexpectedReply, got %v", err)
	}
}

func TestResponseText(t *testing.T) {
	resp := &Response{Replied: true, Opcode: OpPrint, Payload: []byte("1\r\n\x00")}
	if resp.Text() != "1" {
		t.Errorf("Expected text '1', got %q", resp.Text())
	}
}
