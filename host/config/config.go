// Package config loads the host tool configuration from TOML
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"vescprobe/host/logging"
	"vescprobe/host/serial"
	"vescprobe/host/transport"
	"vescprobe/protocol"
)

// Transport kinds
const (
	KindSerial = "serial"
	KindTCP    = "tcp"
	KindSim    = "sim"
)

// Config is the resolved configuration
type Config struct {
	Transport         string
	Serial            serial.Config
	TCP               transport.TCPConfig
	Timeout           time.Duration
	ExpectedSignature uint32
	Log               logging.Config
}

type fileConfig struct {
	Transport struct {
		Kind string `toml:"kind"`
	} `toml:"transport"`
	Serial struct {
		Device      string `toml:"device"`
		Baud        int    `toml:"baud"`
		ReadTimeout string `toml:"read_timeout"`
		Driver      string `toml:"driver"`
	} `toml:"serial"`
	TCP struct {
		Host           string `toml:"host"`
		Port           int    `toml:"port"`
		ConnectTimeout string `toml:"connect_timeout"`
	} `toml:"tcp"`
	Session struct {
		Timeout string `toml:"timeout"`
	} `toml:"session"`
	Signature struct {
		Expected int64 `toml:"expected"`
	} `toml:"signature"`
	Log struct {
		Level   string `toml:"level"`
		NoColor bool   `toml:"no_color"`
	} `toml:"log"`
}

// Default returns the settings the bring-up bench uses
func Default() Config {
	return Config{
		Transport: KindSerial,
		Serial:    *serial.DefaultConfig("/dev/ttyACM0"),
		TCP: transport.TCPConfig{
			Host:           "192.168.5.107",
			Port:           65102,
			ConnectTimeout: 5 * time.Second,
		},
		Timeout:           2 * time.Second,
		ExpectedSignature: protocol.ExpectedConfigSignature,
		Log:               logging.Config{Level: "info"},
	}
}

// Load reads path over the defaults. Only keys present in the file
// override a default; unknown keys are an error.
func Load(path string) (Config, error) {
	cfg := Default()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load config %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return Config{}, fmt.Errorf("load config %s: unknown keys %s", path, strings.Join(keys, ", "))
	}

	if meta.IsDefined("transport", "kind") {
		cfg.Transport = strings.ToLower(strings.TrimSpace(raw.Transport.Kind))
	}

	if meta.IsDefined("serial", "device") {
		cfg.Serial.Device = strings.TrimSpace(raw.Serial.Device)
	}
	if meta.IsDefined("serial", "baud") {
		cfg.Serial.Baud = raw.Serial.Baud
	}
	if meta.IsDefined("serial", "read_timeout") {
		d, err := parseDuration("serial.read_timeout", raw.Serial.ReadTimeout)
		if err != nil {
			return Config{}, err
		}
		cfg.Serial.ReadTimeout = d
	}
	if meta.IsDefined("serial", "driver") {
		cfg.Serial.Driver = strings.ToLower(strings.TrimSpace(raw.Serial.Driver))
	}

	if meta.IsDefined("tcp", "host") {
		cfg.TCP.Host = strings.TrimSpace(raw.TCP.Host)
	}
	if meta.IsDefined("tcp", "port") {
		cfg.TCP.Port = raw.TCP.Port
	}
	if meta.IsDefined("tcp", "connect_timeout") {
		d, err := parseDuration("tcp.connect_timeout", raw.TCP.ConnectTimeout)
		if err != nil {
			return Config{}, err
		}
		cfg.TCP.ConnectTimeout = d
	}

	if meta.IsDefined("session", "timeout") {
		d, err := parseDuration("session.timeout", raw.Session.Timeout)
		if err != nil {
			return Config{}, err
		}
		cfg.Timeout = d
	}

	if meta.IsDefined("signature", "expected") {
		if raw.Signature.Expected < 0 || raw.Signature.Expected > 0xFFFFFFFF {
			return Config{}, fmt.Errorf("signature.expected %d does not fit in 32 bits", raw.Signature.Expected)
		}
		cfg.ExpectedSignature = uint32(raw.Signature.Expected)
	}

	if meta.IsDefined("log", "level") {
		cfg.Log.Level = raw.Log.Level
	}
	if meta.IsDefined("log", "no_color") {
		cfg.Log.NoColor = raw.Log.NoColor
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func parseDuration(key, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}

// Validate checks the settings the selected transport depends on
func (c Config) Validate() error {
	if c.Timeout <= 0 {
		return fmt.Errorf("session timeout must be positive, got %v", c.Timeout)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return err
	}

	switch c.Transport {
	case KindSerial:
		return c.Serial.Validate()
	case KindTCP:
		if c.TCP.Host == "" {
			return fmt.Errorf("tcp host is empty")
		}
		if c.TCP.Port < 1 || c.TCP.Port > 65535 {
			return fmt.Errorf("tcp port %d out of range", c.TCP.Port)
		}
		if c.TCP.ConnectTimeout <= 0 {
			return fmt.Errorf("tcp connect timeout must be positive, got %v", c.TCP.ConnectTimeout)
		}
		return nil
	case KindSim:
		return nil
	default:
		return fmt.Errorf("unknown transport kind %q (want %s, %s or %s)", c.Transport, KindSerial, KindTCP, KindSim)
	}
}

// Endpoint describes where the configured transport connects
func (c Config) Endpoint() string {
	switch c.Transport {
	case KindSerial:
		return c.Serial.Device
	case KindTCP:
		return c.TCP.Addr()
	default:
		return c.Transport
	}
}
