package session

import (
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"vescprobe/host/logging"
	"vescprobe/host/sim"
	"vescprobe/host/transport"
	"vescprobe/protocol"
)

func newSimSession(t *testing.T) (*Session, *sim.Device, *transport.Loopback) {
	t.Helper()
	dev := sim.New(logging.Nop())
	lb := transport.NewLoopback("sim", dev)
	s := New(lb)
	t.Cleanup(func() { s.Close() })
	return s, dev, lb
}

func reply(opcode byte, payload []byte) []byte {
	frame, _ := protocol.Encode(opcode, payload)
	return frame
}

func TestCallSignature(t *testing.T) {
	s, _, _ := newSimSession(t)

	resp, err := s.Call("GET_CUSTOM_CONFIG", nil, time.Second)
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	sig, err := resp.ConfigSignature()
	if err != nil {
		t.Fatalf("ConfigSignature failed: %v", err)
	}
	if sig != protocol.ExpectedConfigSignature {
		t.Errorf("Expected signature %d, got %d", protocol.ExpectedConfigSignature, sig)
	}
	if s.State() != StateDecoded {
		t.Errorf("Expected state decoded, got %v", s.State())
	}
}

func TestCallNoReplyCommand(t *testing.T) {
	s, dev, lb := newSimSession(t)

	resp, err := s.Call("ALIVE", nil, time.Second)
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if resp.Replied {
		t.Error("ALIVE should resolve without a reply")
	}
	if s.State() != StateSent {
		t.Errorf("Expected state sent, got %v", s.State())
	}
	if dev.Stats().Alive != 1 {
		t.Errorf("Expected device to see 1 alive, got %d", dev.Stats().Alive)
	}

	sent := lb.Sent()
	if len(sent) != 1 || string(sent[0]) != string([]byte{0x02, 0x01, 0x1E, 0xF3, 0xFF, 0x03}) {
		t.Errorf("Unexpected bytes on the wire: % X", sent)
	}
}

func TestSendDoesNotWait(t *testing.T) {
	s, dev, lb := newSimSession(t)

	start := time.Now()
	if err := s.Send("FW_VERSION", nil); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("Send waited %v for a reply", elapsed)
	}
	if s.State() != StateSent {
		t.Errorf("Expected state sent, got %v", s.State())
	}
	if dev.Stats().Frames != 1 || len(lb.Sent()) != 1 {
		t.Errorf("Expected one frame on the wire, device saw %d", dev.Stats().Frames)
	}

	if err := s.Send("NO_SUCH_COMMAND", nil); !errors.Is(err, protocol.ErrUnknownCommand) {
		t.Errorf("Expected ErrUnknownCommand, got %v", err)
	}
}

func TestCallChunkedReply(t *testing.T) {
	s, _, lb := newSimSession(t)
	lb.ChunkSize = 1

	resp, err := s.Call("FW_VERSION", nil, time.Second)
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	info, err := resp.FirmwareInfo()
	if err != nil {
		t.Fatalf("FirmwareInfo failed: %v", err)
	}
	if info.HardwareName != "Devkit C3" {
		t.Errorf("Expected Devkit C3, got %q", info.HardwareName)
	}
}

func TestCallTimeout(t *testing.T) {
	lb := transport.NewLoopback("silent", nil)
	s := New(lb)
	defer s.Close()

	start := time.Now()
	_, err := s.Call("FW_VERSION", nil, 100*time.Millisecond)
	elapsed := time.Since(start)

	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Expected ErrTimeout, got %v", err)
	}
	if elapsed > 500*time.Millisecond {
		t.Errorf("Call took %v, expected to resolve at the 100ms deadline", elapsed)
	}
	if s.State() != StateTimedOut {
		t.Errorf("Expected state timed out, got %v", s.State())
	}
	if !IsRecoverable(err) {
		t.Error("Timeout should leave the session usable")
	}
}

func TestCallTimeoutWithPartialFrame(t *testing.T) {
	full := reply(protocol.OpFWVersion, []byte{6, 5, 0})
	lb := transport.NewLoopback("truncated", transport.PeerFunc(func([]byte) []byte {
		return full[:len(full)-1]
	}))
	s := New(lb)
	defer s.Close()

	_, err := s.Call("FW_VERSION", nil, 50*time.Millisecond)

	var te *TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("Expected TimeoutError, got %v", err)
	}
	if te.Pending != len(full)-1 {
		t.Errorf("Expected %d pending bytes, got %d", len(full)-1, te.Pending)
	}
}

func TestCallRejectedFrames(t *testing.T) {
	good := reply(protocol.OpFWVersion, []byte{6, 5, 0})

	badCRC := append([]byte{}, good...)
	badCRC[3] ^= 0x01

	badTerm := append([]byte{}, good...)
	badTerm[len(badTerm)-1] = 0x00

	testCases := []struct {
		name     string
		wire     []byte
		expected error
		state    State
	}{
		{"checksum", badCRC, protocol.ErrChecksumMismatch, StateChecksumMismatch},
		{"terminator", badTerm, protocol.ErrMissingTerminator, StateMalformedFrame},
		{"garbage", []byte("ets Jun  8 2016 00:22:57\r\n"), protocol.ErrUnexpectedMarker, StateMalformedFrame},
	}

	for _, tc := range testCases {
		wire := tc.wire
		lb := transport.NewLoopback(tc.name, transport.PeerFunc(func([]byte) []byte { return wire }))
		s := New(lb)

		_, err := s.Call("FW_VERSION", nil, time.Second)
		if !errors.Is(err, tc.expected) {
			t.Errorf("%s: expected %v, got %v", tc.name, tc.expected, err)
		}
		if errors.Is(err, ErrTimeout) {
			t.Errorf("%s: rejected frame must not be reported as a timeout", tc.name)
		}
		if s.State() != tc.state {
			t.Errorf("%s: expected state %v, got %v", tc.name, tc.state, s.State())
		}
		if !IsRecoverable(err) {
			t.Errorf("%s: parse failure should leave the session usable", tc.name)
		}
		s.Close()
	}
}

func TestCallRecoversAfterBadFrame(t *testing.T) {
	calls := 0
	lb := transport.NewLoopback("flaky", transport.PeerFunc(func([]byte) []byte {
		calls++
		frame := reply(protocol.OpFWVersion, []byte{6, 5, 0})
		if calls == 1 {
			frame[len(frame)-2] ^= 0xFF
		}
		return frame
	}))
	s := New(lb)
	defer s.Close()

	if _, err := s.Call("FW_VERSION", nil, time.Second); !errors.Is(err, protocol.ErrChecksumMismatch) {
		t.Fatalf("Expected checksum mismatch on first call, got %v", err)
	}
	if _, err := s.Call("FW_VERSION", nil, time.Second); err != nil {
		t.Errorf("Second call should succeed, got %v", err)
	}
}

func TestCallSkipsUnrelatedFrames(t *testing.T) {
	lb := transport.NewLoopback("chatty", transport.PeerFunc(func([]byte) []byte {
		wire := reply(protocol.OpGetValues, []byte{1, 2, 3})
		return append(wire, reply(protocol.OpPrint, []byte("t"))...)
	}))
	s := New(lb)
	defer s.Close()

	resp, err := s.Call("STORE_CONFIG", nil, time.Second)
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if resp.Opcode != protocol.OpPrint || resp.Text() != "t" {
		t.Errorf("Expected PRINT 't', got opcode %d %q", resp.Opcode, resp.Text())
	}
}

func TestCallUsageErrorsBeforeIO(t *testing.T) {
	s, _, lb := newSimSession(t)

	if _, err := s.Call("WARP_DRIVE", nil, time.Second); !errors.Is(err, protocol.ErrUnknownCommand) {
		t.Errorf("Expected ErrUnknownCommand, got %v", err)
	}
	if _, err := s.Call("ALIVE", []string{"now"}, time.Second); !errors.Is(err, protocol.ErrBadArgument) {
		t.Errorf("Expected ErrBadArgument, got %v", err)
	}
	if _, err := s.Raw(0x01, make([]byte, protocol.MaxBody), time.Second); !errors.Is(err, protocol.ErrPayloadTooLarge) {
		t.Errorf("Expected ErrPayloadTooLarge, got %v", err)
	}
	if len(lb.Sent()) != 0 {
		t.Errorf("Usage errors must not write anything, %d writes seen", len(lb.Sent()))
	}
}

func TestCallTransportFailure(t *testing.T) {
	lb := transport.NewLoopback("dead", nil)
	s := New(lb)
	lb.Close()

	_, err := s.Call("FW_VERSION", nil, time.Second)
	if !errors.Is(err, transport.ErrClosed) {
		t.Errorf("Expected transport closed error, got %v", err)
	}
	if IsRecoverable(err) {
		t.Error("Transport failure should not be recoverable")
	}
	if s.State() != StateTransportFailed {
		t.Errorf("Expected state transport failed, got %v", s.State())
	}
}

// countingTransport records how many goroutines are inside the transport at once
type countingTransport struct {
	transport.Transport
	mu     sync.Mutex
	active int
	max    int
}

func (c *countingTransport) enter() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active++
	if c.active > c.max {
		c.max = c.active
	}
}

func (c *countingTransport) leave() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active--
}

func (c *countingTransport) Send(data []byte) error {
	c.enter()
	defer c.leave()
	return c.Transport.Send(data)
}

func (c *countingTransport) Receive(timeout time.Duration) ([]byte, error) {
	c.enter()
	defer c.leave()
	return c.Transport.Receive(timeout)
}

func TestCallsAreSerialised(t *testing.T) {
	lb := transport.NewLoopback("serial", transport.PeerFunc(func(sent []byte) []byte {
		f, _, err := protocol.Decode(sent)
		if err != nil {
			return nil
		}
		// Echo the requested index so replies can be matched to requests
		return reply(protocol.OpGetCustomConfig, []byte{protocol.ConfigBlockTag, f.Payload[0], 0, 0, 0, 0})
	}))
	lb.Delay = 2 * time.Millisecond
	ct := &countingTransport{Transport: lb}
	s := New(ct)
	defer s.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(index int) {
			defer wg.Done()
			resp, err := s.Call("GET_CUSTOM_CONFIG", []string{strconv.Itoa(index)}, time.Second)
			if err != nil {
				t.Errorf("Call %d failed: %v", index, err)
				return
			}
			if int(resp.Payload[1]) != index {
				t.Errorf("Call %d got the reply for request %d", index, resp.Payload[1])
			}
		}(i)
	}
	wg.Wait()

	if ct.max != 1 {
		t.Errorf("Expected one caller inside the transport at a time, saw %d", ct.max)
	}
}

func TestClose(t *testing.T) {
	s, _, lb := newSimSession(t)

	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("Second Close failed: %v", err)
	}
	if !lb.Closed() {
		t.Error("Expected transport to be closed")
	}
	if _, err := s.Call("FW_VERSION", nil, time.Second); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
}

func TestStateString(t *testing.T) {
	if StateChecksumMismatch.String() != "checksum mismatch" {
		t.Errorf("Unexpected name %q", StateChecksumMismatch.String())
	}
	if State(99).String() != "state(99)" {
		t.Errorf("Unexpected name %q", State(99).String())
	}
}
