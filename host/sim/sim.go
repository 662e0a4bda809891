// Package sim emulates the controller's packet interface in memory.
//
// A Device plugs into transport.Loopback as its Peer and answers the
// commands the host tools use, so sessions and the CLI can run without
// hardware.
package sim

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"vescprobe/protocol"
)

// Device is an emulated controller
type Device struct {
	Firmware  protocol.FirmwareInfo
	Signature uint32

	// ConfigXML is served by GET_CUSTOM_CONFIG_XML
	ConfigXML []byte

	// Values is the GET_VALUES reply payload
	Values []byte

	mu      sync.Mutex
	rx      *protocol.RxBuffer
	conf    map[string]string
	stored  map[string]string
	log     zerolog.Logger
	stats   Stats
	handled map[byte]func(payload []byte) []byte
}

// Stats counts what the device has seen
type Stats struct {
	Frames   int
	Rejected int
	Alive    int
	Reboots  int
	Stores   int
}

const defaultConfigXML = `<?xml version="1.0" encoding="UTF-8"?>
<ConfigParams>
  <Params>
    <ble_mode><longName>BLE Mode</longName><type>2</type><valInt>2</valInt></ble_mode>
    <can_baud_rate><longName>CAN Baud Rate</longName><type>2</type><valInt>3</valInt></can_baud_rate>
  </Params>
</ConfigParams>
`

// New returns a device reporting the reference signature
func New(logger zerolog.Logger) *Device {
	d := &Device{
		Firmware: protocol.FirmwareInfo{
			Major:        6,
			Minor:        5,
			HardwareName: "Devkit C3",
			UUID:         []byte{0x40, 0x4C, 0xCA, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09},
		},
		Signature: protocol.ExpectedConfigSignature,
		ConfigXML: []byte(defaultConfigXML),
		Values:    []byte{0x01, 0x18, 0x00, 0xFA, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x01, 0xF4},
		rx:        protocol.NewRxBuffer(256),
		conf:      map[string]string{"ble-mode": "2", "can-baud-rate": "3"},
		stored:    map[string]string{},
		log:       logger,
	}
	d.handled = map[byte]func([]byte) []byte{
		protocol.OpFWVersion:          d.fwVersion,
		protocol.OpGetValues:          d.getValues,
		protocol.OpTerminalCmd:        d.terminal,
		protocol.OpAlive:              d.alive,
		protocol.OpReboot:             d.reboot,
		protocol.OpGetCustomConfig:    d.customConfig,
		protocol.OpGetCustomConfigXML: d.customConfigXML,
	}
	return d
}

// Respond implements transport.Peer
func (d *Device) Respond(sent []byte) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.rx.Write(sent)

	var out []byte
	for {
		f, err := d.rx.Next()
		if protocol.IsIncomplete(err) {
			break
		}
		if err != nil {
			// The firmware drops bad input without answering
			d.stats.Rejected++
			d.log.Warn().Err(err).Msg("sim: dropped input")
			continue
		}
		d.stats.Frames++

		handler, ok := d.handled[f.Opcode]
		if !ok {
			d.log.Debug().Uint8("opcode", f.Opcode).Msg("sim: unhandled opcode")
			continue
		}
		reply := handler(f.Payload)
		if reply == nil {
			continue
		}
		frame, err := protocol.EncodeFrame(protocol.Frame{Opcode: reply[0], Payload: reply[1:]})
		if err != nil {
			d.log.Error().Err(err).Msg("sim: reply too large")
			continue
		}
		out = append(out, frame...)
	}
	return out
}

// Stats returns a snapshot of the counters
func (d *Device) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

// Config returns the live value of a config symbol
func (d *Device) Config(symbol string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, ok := d.conf[symbol]
	return v, ok
}

// Stored returns the persisted value of a config symbol
func (d *Device) Stored(symbol string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, ok := d.stored[symbol]
	return v, ok
}

// Handlers return opcode || payload, or nil for no reply

func (d *Device) fwVersion([]byte) []byte {
	out := []byte{protocol.OpFWVersion, d.Firmware.Major, d.Firmware.Minor}
	out = append(out, d.Firmware.HardwareName...)
	out = append(out, 0)
	out = append(out, d.Firmware.UUID...)
	return append(out, 0) // pairing done
}

func (d *Device) getValues([]byte) []byte {
	return append([]byte{protocol.OpGetValues}, d.Values...)
}

func (d *Device) alive([]byte) []byte {
	d.stats.Alive++
	return nil
}

func (d *Device) reboot([]byte) []byte {
	d.stats.Reboots++
	return nil
}

func (d *Device) customConfig(payload []byte) []byte {
	index := byte(0)
	if len(payload) > 0 {
		index = payload[0]
	}
	out := []byte{protocol.OpGetCustomConfig, protocol.ConfigBlockTag, index}
	out = protocol.EncodeUint32(out, d.Signature)
	for _, k := range sortedKeys(d.conf) {
		out = append(out, k...)
		out = append(out, '=')
		out = append(out, d.conf[k]...)
		out = append(out, 0)
	}
	return out
}

func (d *Device) customConfigXML(payload []byte) []byte {
	data := payload
	index, err := protocol.DecodeUint8(&data)
	if err != nil {
		return nil
	}
	length, err := protocol.DecodeUint32(&data)
	if err != nil {
		return nil
	}
	offset, err := protocol.DecodeUint32(&data)
	if err != nil {
		return nil
	}

	total := uint32(len(d.ConfigXML))
	if offset > total {
		offset = total
	}
	end := offset + length
	if end > total || end < offset {
		end = total
	}

	out := []byte{protocol.OpGetCustomConfigXML, index}
	out = protocol.EncodeUint32(out, total)
	out = protocol.EncodeUint32(out, offset)
	return append(out, d.ConfigXML[offset:end]...)
}

func (d *Device) terminal(payload []byte) []byte {
	text := strings.TrimSpace(string(payload))
	return append([]byte{protocol.OpPrint}, d.eval(text)...)
}

// eval understands the handful of LispBM config forms the tools send
func (d *Device) eval(text string) string {
	switch text {
	case "help":
		return "Valid commands: help, uptime, (conf-get 'sym), (conf-set 'sym val), (conf-store)"
	case "uptime":
		return fmt.Sprintf("Uptime: %d frames", d.stats.Frames)
	case "reboot":
		d.stats.Reboots++
		return "t"
	}

	if !strings.HasPrefix(text, "(") || !strings.HasSuffix(text, ")") {
		return "Invalid command: " + text
	}
	fields := strings.Fields(strings.TrimSuffix(strings.TrimPrefix(text, "("), ")"))
	if len(fields) == 0 {
		return "nil"
	}

	switch {
	case fields[0] == "conf-get" && len(fields) == 2:
		if v, ok := d.conf[strings.TrimPrefix(fields[1], "'")]; ok {
			return v
		}
		return "nil"
	case fields[0] == "conf-set" && len(fields) == 3:
		sym := strings.TrimPrefix(fields[1], "'")
		if _, ok := d.conf[sym]; !ok {
			return "nil"
		}
		d.conf[sym] = fields[2]
		return "t"
	case fields[0] == "conf-store" && len(fields) == 1:
		for k, v := range d.conf {
			d.stored[k] = v
		}
		d.stats.Stores++
		return "t"
	default:
		return "Eval error: " + fields[0]
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
