package serial

import (
	"fmt"
	"io"
	"sort"
	"time"
)

// Port represents a serial port interface
// This abstraction allows for different implementations:
// - tarm/serial, fixed read timeout chosen at open
// - go.bug.st/serial, read timeout adjustable per read
// - fakes for testing
type Port interface {
	io.ReadWriteCloser

	// Flush waits until buffered output has been transmitted
	Flush() error

	// SetReadTimeout bounds how long a single Read may block. A Read that
	// times out returns 0, nil. Drivers that fix the timeout at open time
	// ignore the call and keep Config.ReadTimeout.
	SetReadTimeout(d time.Duration) error
}

// Driver names accepted in Config.Driver
const (
	DriverTarm  = "tarm"
	DriverBugst = "bugst"
)

// MinTarmReadTimeout is the shortest read timeout tarm/serial can honour.
// It programs VTIME in whole deciseconds and raises anything shorter to one.
const MinTarmReadTimeout = 100 * time.Millisecond

// Config holds serial port configuration
type Config struct {
	// Device path (e.g., "/dev/ttyACM0", "COM3")
	Device string

	// Baud rate (115200 for the controller UART, USB CDC ignores it)
	Baud int

	// ReadTimeout bounds a single read; it must be positive so reads never block forever
	ReadTimeout time.Duration

	// Driver selects the serial library, DriverTarm or DriverBugst
	Driver string
}

// DefaultConfig returns the configuration used by the bring-up scripts
func DefaultConfig(device string) *Config {
	return &Config{
		Device:      device,
		Baud:        115200,
		ReadTimeout: 100 * time.Millisecond,
		Driver:      DriverTarm,
	}
}

// Validate checks a configuration before any device is touched
func (c *Config) Validate() error {
	if c.Device == "" {
		return fmt.Errorf("serial: device path is empty")
	}
	if c.Baud <= 0 {
		return fmt.Errorf("serial: baud rate must be positive, got %d", c.Baud)
	}
	if c.ReadTimeout <= 0 {
		return fmt.Errorf("serial: read timeout must be positive, got %v", c.ReadTimeout)
	}
	if _, ok := drivers[c.Driver]; !ok {
		return fmt.Errorf("serial: unknown driver %q (have %v)", c.Driver, Drivers())
	}
	if c.Driver == DriverTarm && c.ReadTimeout < MinTarmReadTimeout {
		return fmt.Errorf("serial: tarm read timeout must be at least %v, got %v", MinTarmReadTimeout, c.ReadTimeout)
	}
	return nil
}

type openFunc func(cfg *Config) (Port, error)

var drivers = map[string]openFunc{
	DriverTarm:  openTarm,
	DriverBugst: openBugst,
}

// Drivers lists the available driver names
func Drivers() []string {
	names := make([]string, 0, len(drivers))
	for name := range drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Open opens a serial port with the configured driver
func Open(cfg *Config) (Port, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return drivers[cfg.Driver](cfg)
}
