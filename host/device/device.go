// Package device is the high level handle on one controller: it opens the
// configured transport, wraps it in a session and decodes the replies of
// the commands the host tools use.
package device

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"vescprobe/host/config"
	"vescprobe/host/session"
	"vescprobe/host/sim"
	"vescprobe/host/transport"
	"vescprobe/protocol"
)

// ErrRejected is returned when the controller answers a config directive with nil
var ErrRejected = errors.New("device: directive rejected")

// maxXMLChunks bounds GET_CUSTOM_CONFIG_XML retrieval
const maxXMLChunks = 4096

// Device represents a connection to a controller
type Device struct {
	session  *session.Session
	log      zerolog.Logger
	timeout  time.Duration
	expected uint32
	endpoint string

	// sim is set when the transport is the in-memory emulator
	sim *sim.Device
}

// Open connects using the transport selected in cfg
func Open(cfg config.Config, logger zerolog.Logger) (*Device, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var (
		tr  transport.Transport
		emu *sim.Device
		err error
	)
	switch cfg.Transport {
	case config.KindSerial:
		serialCfg := cfg.Serial
		tr, err = transport.OpenSerial(&serialCfg)
	case config.KindTCP:
		tr, err = transport.DialTCP(cfg.TCP)
	case config.KindSim:
		emu = sim.New(logger.With().Str("component", "sim").Logger())
		tr = transport.NewLoopback("sim", emu)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	d := New(tr, cfg, logger)
	d.sim = emu
	logger.Info().Str("transport", cfg.Transport).Str("endpoint", cfg.Endpoint()).Msg("connected")
	return d, nil
}

// New wraps an already open transport
func New(tr transport.Transport, cfg config.Config, logger zerolog.Logger) *Device {
	return &Device{
		session: session.New(tr,
			session.WithLogger(logger),
			session.WithDefaultTimeout(cfg.Timeout)),
		log:      logger,
		timeout:  cfg.Timeout,
		expected: cfg.ExpectedSignature,
		endpoint: tr.Endpoint(),
	}
}

// Session exposes the underlying session for raw calls
func (d *Device) Session() *session.Session {
	return d.session
}

// Sim returns the emulator behind a sim transport, or nil
func (d *Device) Sim() *sim.Device {
	return d.sim
}

// Endpoint names the connected device
func (d *Device) Endpoint() string {
	return d.endpoint
}

// Close closes the connection
func (d *Device) Close() error {
	return d.session.Close()
}

func (d *Device) call(name string, args ...string) (*protocol.Response, error) {
	return d.session.Call(name, args, d.timeout)
}

// Alive sends the keep-alive; the controller does not answer it
func (d *Device) Alive() error {
	return d.session.Send("ALIVE", nil)
}

// Reboot restarts the controller; the connection usually drops afterwards
func (d *Device) Reboot() error {
	_, err := d.call("REBOOT")
	return err
}

// FirmwareVersion queries and decodes FW_VERSION
func (d *Device) FirmwareVersion() (protocol.FirmwareInfo, error) {
	resp, err := d.call("FW_VERSION")
	if err != nil {
		return protocol.FirmwareInfo{}, err
	}
	return resp.FirmwareInfo()
}

// Values returns the raw GET_VALUES payload
func (d *Device) Values() ([]byte, error) {
	resp, err := d.call("GET_VALUES")
	if err != nil {
		return nil, err
	}
	return resp.Payload, nil
}

// CustomConfigSignature reads the signature of custom config block index
func (d *Device) CustomConfigSignature(index uint8) (uint32, error) {
	resp, err := d.call("GET_CUSTOM_CONFIG", fmt.Sprint(index))
	if err != nil {
		return 0, err
	}
	return resp.ConfigSignature()
}

// VerifySignature checks config block 0 against expected; zero means
// the configured value
func (d *Device) VerifySignature(expected uint32) (uint32, error) {
	if expected == 0 {
		expected = d.expected
	}
	sig, err := d.CustomConfigSignature(0)
	if err != nil {
		return 0, err
	}
	if sig != expected {
		d.log.Warn().Uint32("want", expected).Uint32("got", sig).Msg("config signature mismatch")
		return sig, &protocol.SignatureMismatchError{Want: expected, Got: sig}
	}
	d.log.Debug().Uint32("signature", sig).Msg("config signature ok")
	return sig, nil
}

// CustomConfigXML retrieves the whole XML description of config block
// index, chunk by chunk
func (d *Device) CustomConfigXML(index uint8) ([]byte, error) {
	var buf bytes.Buffer
	offset := uint32(0)
	idx := fmt.Sprint(index)
	chunk := fmt.Sprint(protocol.DefaultXMLChunkLength)

	for i := 0; i < maxXMLChunks; i++ {
		resp, err := d.call("GET_CUSTOM_CONFIG_XML", idx, chunk, fmt.Sprint(offset))
		if err != nil {
			return nil, fmt.Errorf("config xml chunk at offset %d: %w", offset, err)
		}

		data := resp.Payload
		if _, err := protocol.DecodeUint8(&data); err != nil {
			return nil, fmt.Errorf("config xml index: %w", err)
		}
		total, err := protocol.DecodeUint32(&data)
		if err != nil {
			return nil, fmt.Errorf("config xml total: %w", err)
		}
		respOffset, err := protocol.DecodeUint32(&data)
		if err != nil {
			return nil, fmt.Errorf("config xml offset: %w", err)
		}
		if respOffset != offset {
			return nil, fmt.Errorf("config xml offset mismatch: expected %d, got %d", offset, respOffset)
		}

		buf.Write(data)
		offset += uint32(len(data))
		if offset >= total {
			d.log.Debug().Int("bytes", buf.Len()).Int("chunks", i+1).Msg("config xml retrieved")
			return buf.Bytes(), nil
		}
		if len(data) == 0 {
			return nil, fmt.Errorf("config xml stalled at offset %d of %d", offset, total)
		}
	}
	return nil, fmt.Errorf("config xml exceeds %d chunks", maxXMLChunks)
}

// Terminal runs a terminal command and returns the printed reply
func (d *Device) Terminal(text string) (string, error) {
	resp, err := d.call("TERMINAL_CMD", text)
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}

// ConfigGet reads a config symbol through the terminal
func (d *Device) ConfigGet(symbol string) (string, error) {
	return d.directive("GET_CONFIG", symbol)
}

// ConfigSet changes a config symbol in RAM
func (d *Device) ConfigSet(symbol, value string) error {
	_, err := d.directive("SET_CONFIG", symbol, value)
	return err
}

// ConfigStore persists the running configuration
func (d *Device) ConfigStore() error {
	_, err := d.directive("STORE_CONFIG")
	return err
}

func (d *Device) directive(name string, args ...string) (string, error) {
	resp, err := d.call(name, args...)
	if err != nil {
		return "", err
	}
	text := resp.Text()
	if text == "nil" {
		return "", fmt.Errorf("%w: %s %v", ErrRejected, name, args)
	}
	return text, nil
}

// Raw sends an arbitrary opcode and returns the first reply
func (d *Device) Raw(opcode byte, payload []byte) (*protocol.Response, error) {
	return d.session.Raw(opcode, payload, d.timeout)
}
