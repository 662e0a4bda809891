package protocol

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Opcodes used by the host tools
const (
	OpFWVersion          byte = 0
	OpGetValues          byte = 4
	OpTerminalCmd        byte = 20
	OpPrint              byte = 21
	OpReboot             byte = 29
	OpAlive              byte = 30
	OpGetCustomConfigXML byte = 92
	OpGetCustomConfig    byte = 0x5D
)

// Encoding selects how a command turns its arguments into payload bytes
type Encoding int

const (
	EncodeEmpty     Encoding = iota // no payload, no arguments
	EncodeIndex                     // optional u8 index, default 0
	EncodeText                      // arguments joined with spaces, UTF-8
	EncodeDirective                 // Command.Template filled with the arguments, UTF-8
	EncodeXMLChunk                  // u8 index, u32 length, u32 offset
)

// ReplyRule tells the session what, if anything, answers a command
type ReplyRule int

const (
	ReplyNone   ReplyRule = iota // fire and forget
	ReplyOpcode                  // a frame carrying Command.ReplyOpcode
	ReplyAny                     // the first well-formed frame
)

// DefaultXMLChunkLength is the GET_CUSTOM_CONFIG_XML chunk size used when
// no length argument is given
const DefaultXMLChunkLength = 100

// Command is one entry of the command table
type Command struct {
	Name        string
	Opcode      byte
	Encoding    Encoding
	Template    string // EncodeDirective only
	Args        int    // EncodeDirective only: number of %s verbs in Template
	Reply       ReplyRule
	ReplyOpcode byte
	Help        string
}

// ExpectsReply reports whether the session should wait for a response
func (c Command) ExpectsReply() bool {
	return c.Reply != ReplyNone
}

// Accepts reports whether a frame with the given opcode answers c
func (c Command) Accepts(opcode byte) bool {
	switch c.Reply {
	case ReplyAny:
		return true
	case ReplyOpcode:
		return opcode == c.ReplyOpcode
	default:
		return false
	}
}

// BuildPayload encodes args according to the command's encoding rule.
// The result is checked against the frame size limit so oversized
// requests fail before any I/O.
func (c Command) BuildPayload(args []string) ([]byte, error) {
	payload, err := c.buildPayload(args)
	if err != nil {
		return nil, err
	}
	if len(payload)+1 > MaxBody {
		return nil, &FrameError{Kind: ErrPayloadTooLarge, Need: MaxBody, Have: len(payload) + 1}
	}
	return payload, nil
}

func (c Command) buildPayload(args []string) ([]byte, error) {
	switch c.Encoding {
	case EncodeEmpty:
		if len(args) != 0 {
			return nil, c.argError("takes no arguments, got %d", len(args))
		}
		return nil, nil

	case EncodeIndex:
		if len(args) > 1 {
			return nil, c.argError("takes at most one index, got %d arguments", len(args))
		}
		index := uint64(0)
		if len(args) == 1 {
			v, err := strconv.ParseUint(args[0], 0, 8)
			if err != nil {
				return nil, c.argError("index %q: %v", args[0], err)
			}
			index = v
		}
		return []byte{byte(index)}, nil

	case EncodeText:
		if len(args) == 0 {
			return nil, c.argError("needs command text")
		}
		text := strings.Join(args, " ")
		if !utf8.ValidString(text) {
			return nil, c.argError("text is not valid UTF-8")
		}
		return []byte(text), nil

	case EncodeDirective:
		if len(args) != c.Args {
			return nil, c.argError("takes %d arguments, got %d", c.Args, len(args))
		}
		vals := make([]any, len(args))
		for i, a := range args {
			if a == "" || strings.ContainsAny(a, "() \t\r\n'\"") {
				return nil, c.argError("argument %q is not a plain symbol or value", a)
			}
			vals[i] = a
		}
		return []byte(fmt.Sprintf(c.Template, vals...)), nil

	case EncodeXMLChunk:
		if len(args) > 3 {
			return nil, c.argError("takes at most 3 arguments (index, length, offset), got %d", len(args))
		}
		fields := [3]uint64{0, DefaultXMLChunkLength, 0}
		bits := [3]int{8, 32, 32}
		for i, a := range args {
			v, err := strconv.ParseUint(a, 0, bits[i])
			if err != nil {
				return nil, c.argError("argument %d %q: %v", i+1, a, err)
			}
			fields[i] = v
		}
		payload := []byte{byte(fields[0])}
		payload = EncodeUint32(payload, uint32(fields[1]))
		payload = EncodeUint32(payload, uint32(fields[2]))
		return payload, nil

	default:
		return nil, c.argError("unsupported encoding %d", c.Encoding)
	}
}

func (c Command) argError(format string, a ...any) error {
	return fmt.Errorf("%w: %s %s", ErrBadArgument, c.Name, fmt.Sprintf(format, a...))
}

// builtinCommands is the command table known to the host tools
var builtinCommands = []Command{
	{Name: "FW_VERSION", Opcode: OpFWVersion, Encoding: EncodeEmpty, Reply: ReplyOpcode, ReplyOpcode: OpFWVersion,
		Help: "firmware version and hardware name"},
	{Name: "GET_VALUES", Opcode: OpGetValues, Encoding: EncodeEmpty, Reply: ReplyOpcode, ReplyOpcode: OpGetValues,
		Help: "realtime values block"},
	{Name: "TERMINAL_CMD", Opcode: OpTerminalCmd, Encoding: EncodeText, Reply: ReplyOpcode, ReplyOpcode: OpPrint,
		Help: "run a terminal/LispBM command, reply is printed text"},
	{Name: "SET_CONFIG", Opcode: OpTerminalCmd, Encoding: EncodeDirective, Template: "(conf-set '%s %s)", Args: 2,
		Reply: ReplyOpcode, ReplyOpcode: OpPrint, Help: "set a config symbol: SET_CONFIG <symbol> <value>"},
	{Name: "GET_CONFIG", Opcode: OpTerminalCmd, Encoding: EncodeDirective, Template: "(conf-get '%s)", Args: 1,
		Reply: ReplyOpcode, ReplyOpcode: OpPrint, Help: "read a config symbol: GET_CONFIG <symbol>"},
	{Name: "STORE_CONFIG", Opcode: OpTerminalCmd, Encoding: EncodeDirective, Template: "(conf-store)",
		Reply: ReplyOpcode, ReplyOpcode: OpPrint, Help: "persist the configuration"},
	{Name: "REBOOT", Opcode: OpReboot, Encoding: EncodeEmpty, Reply: ReplyNone,
		Help: "reboot the controller"},
	{Name: "ALIVE", Opcode: OpAlive, Encoding: EncodeEmpty, Reply: ReplyNone,
		Help: "keepalive ping"},
	{Name: "GET_CUSTOM_CONFIG_XML", Opcode: OpGetCustomConfigXML, Encoding: EncodeXMLChunk,
		Reply: ReplyOpcode, ReplyOpcode: OpGetCustomConfigXML, Help: "custom config XML chunk: [index] [length] [offset]"},
	{Name: "GET_CUSTOM_CONFIG", Opcode: OpGetCustomConfig, Encoding: EncodeIndex, Reply: ReplyAny,
		Help: "custom config block, carries the signature: [index]"},
}

// Registry maps command names to commands. It is read-only once built.
type Registry struct {
	byName map[string]Command
	names  []string
}

var defaultRegistry = mustRegistry(builtinCommands)

// DefaultRegistry returns the built-in command table
func DefaultRegistry() *Registry {
	return defaultRegistry
}

// NewRegistry builds a registry from a command table
func NewRegistry(cmds []Command) (*Registry, error) {
	r := &Registry{byName: make(map[string]Command, len(cmds))}
	for _, c := range cmds {
		key := normalizeName(c.Name)
		if key == "" {
			return nil, fmt.Errorf("command with opcode %d has no name", c.Opcode)
		}
		if _, exists := r.byName[key]; exists {
			return nil, fmt.Errorf("duplicate command %s", key)
		}
		if c.Encoding == EncodeDirective && strings.Count(c.Template, "%s") != c.Args {
			return nil, fmt.Errorf("command %s: template %q does not take %d arguments", key, c.Template, c.Args)
		}
		c.Name = key
		r.byName[key] = c
		r.names = append(r.names, key)
	}
	sort.Strings(r.names)
	return r, nil
}

func mustRegistry(cmds []Command) *Registry {
	r, err := NewRegistry(cmds)
	if err != nil {
		panic(err)
	}
	return r
}

// Lookup finds a command by name. Names are case-insensitive and '-' is
// accepted for '_'.
func (r *Registry) Lookup(name string) (Command, error) {
	c, ok := r.byName[normalizeName(name)]
	if !ok {
		return Command{}, fmt.Errorf("%w: %s", ErrUnknownCommand, name)
	}
	return c, nil
}

// Build looks up name and encodes args in one step
func (r *Registry) Build(name string, args []string) (Command, []byte, error) {
	c, err := r.Lookup(name)
	if err != nil {
		return Command{}, nil, err
	}
	payload, err := c.BuildPayload(args)
	if err != nil {
		return Command{}, nil, err
	}
	return c, payload, nil
}

// Commands returns all commands sorted by name
func (r *Registry) Commands() []Command {
	out := make([]Command, 0, len(r.names))
	for _, n := range r.names {
		out = append(out, r.byName[n])
	}
	return out
}

func normalizeName(name string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(name), "-", "_"))
}
