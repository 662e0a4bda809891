package protocol

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestRegistryLookup(t *testing.T) {
	reg := DefaultRegistry()

	testCases := []struct {
		name   string
		opcode byte
	}{
		{"ALIVE", OpAlive},
		{"alive", OpAlive},
		{"get-custom-config", OpGetCustomConfig},
		{"SET_CONFIG", OpTerminalCmd},
		{"STORE_CONFIG", OpTerminalCmd},
		{"FW_VERSION", OpFWVersion},
	}

	for _, tc := range testCases {
		cmd, err := reg.Lookup(tc.name)
		if err != nil {
			t.Errorf("Lookup(%q) failed: %v", tc.name, err)
			continue
		}
		if cmd.Opcode != tc.opcode {
			t.Errorf("Lookup(%q): expected opcode %d, got %d", tc.name, tc.opcode, cmd.Opcode)
		}
	}

	if _, err := reg.Lookup("SELF_DESTRUCT"); !errors.Is(err, ErrUnknownCommand) {
		t.Errorf("Expected ErrUnknownCommand, got %v", err)
	}
}

func TestBuildPayload(t *testing.T) {
	reg := DefaultRegistry()

	testCases := []struct {
		name     string
		args     []string
		expected []byte
	}{
		{"ALIVE", nil, nil},
		{"GET_CUSTOM_CONFIG", nil, []byte{0x00}},
		{"GET_CUSTOM_CONFIG", []string{"1"}, []byte{0x01}},
		{"GET_CUSTOM_CONFIG", []string{"0x02"}, []byte{0x02}},
		{"TERMINAL_CMD", []string{"help"}, []byte("help")},
		{"TERMINAL_CMD", []string{"(conf-get", "'ble-mode)"}, []byte("(conf-get 'ble-mode)")},
		{"SET_CONFIG", []string{"ble-mode", "1"}, []byte("(conf-set 'ble-mode 1)")},
		{"GET_CONFIG", []string{"ble-mode"}, []byte("(conf-get 'ble-mode)")},
		{"STORE_CONFIG", nil, []byte("(conf-store)")},
		{"GET_CUSTOM_CONFIG_XML", nil, []byte{0, 0, 0, 0, 100, 0, 0, 0, 0}},
		{"GET_CUSTOM_CONFIG_XML", []string{"0", "200", "0x100"}, []byte{0, 0, 0, 0, 200, 0, 0, 1, 0}},
	}

	for _, tc := range testCases {
		_, payload, err := reg.Build(tc.name, tc.args)
		if err != nil {
			t.Errorf("Build(%s, %v) failed: %v", tc.name, tc.args, err)
			continue
		}
		if !bytes.Equal(payload, tc.expected) {
			t.Errorf("Build(%s, %v): expected % X, got % X", tc.name, tc.args, tc.expected, payload)
		}
	}
}

func TestBuildPayloadErrors(t *testing.T) {
	reg := DefaultRegistry()

	testCases := []struct {
		name     string
		args     []string
		expected error
	}{
		{"ALIVE", []string{"extra"}, ErrBadArgument},
		{"GET_CUSTOM_CONFIG", []string{"256"}, ErrBadArgument},
		{"GET_CUSTOM_CONFIG", []string{"a", "b"}, ErrBadArgument},
		{"TERMINAL_CMD", nil, ErrBadArgument},
		{"TERMINAL_CMD", []string{"\xff\xfe"}, ErrBadArgument},
		{"SET_CONFIG", []string{"ble-mode"}, ErrBadArgument},
		{"SET_CONFIG", []string{"ble-mode)", "1"}, ErrBadArgument},
		{"GET_CUSTOM_CONFIG_XML", []string{"0", "x"}, ErrBadArgument},
		{"TERMINAL_CMD", []string{strings.Repeat("x", MaxBody)}, ErrPayloadTooLarge},
		{"NOPE", nil, ErrUnknownCommand},
	}

	for _, tc := range testCases {
		_, _, err := reg.Build(tc.name, tc.args)
		if !errors.Is(err, tc.expected) {
			t.Errorf("Build(%s, %d args): expected %v, got %v", tc.name, len(tc.args), tc.expected, err)
		}
	}
}

func TestCommandReplyRules(t *testing.T) {
	reg := DefaultRegistry()

	alive, _ := reg.Lookup("ALIVE")
	if alive.ExpectsReply() {
		t.Error("ALIVE should not expect a reply")
	}

	term, _ := reg.Lookup("TERMINAL_CMD")
	if !term.Accepts(OpPrint) || term.Accepts(OpGetValues) {
		t.Error("TERMINAL_CMD should only accept PRINT replies")
	}

	conf, _ := reg.Lookup("GET_CUSTOM_CONFIG")
	if !conf.Accepts(0x49) || !conf.Accepts(OpGetCustomConfig) {
		t.Error("GET_CUSTOM_CONFIG should accept any reply")
	}
}

func TestNewRegistryRejectsDuplicates(t *testing.T) {
	_, err := NewRegistry([]Command{
		{Name: "PING", Opcode: 1},
		{Name: "ping", Opcode: 2},
	})
	if err == nil {
		t.Error("Expected duplicate name error")
	}

	_, err = NewRegistry([]Command{
		{Name: "BROKEN", Opcode: 1, Encoding: EncodeDirective, Template: "(x %s)", Args: 2},
	})
	if err == nil {
		t.Error("Expected template argument count error")
	}
}

func TestRegistryCommandsSorted(t *testing.T) {
	cmds := DefaultRegistry().Commands()
	if len(cmds) != len(builtinCommands) {
		t.Fatalf("Expected %d commands, got %d", len(builtinCommands), len(cmds))
	}
	for i := 1; i < len(cmds); i++ {
		if cmds[i-1].Name >= cmds[i].Name {
			t.Errorf("Commands not sorted: %s before %s", cmds[i-1].Name, cmds[i].Name)
		}
	}
}
