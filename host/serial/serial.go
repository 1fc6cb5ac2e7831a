// Package serial opens the link to the flight controller.
package serial

import (
	"io"
)

// Port is a serial link to the flight controller. Tests substitute an
// in-memory implementation.
type Port interface {
	io.ReadWriteCloser

	// Flush discards data not yet read or written
	Flush() error
}

// Config holds serial port configuration
type Config struct {
	// Device path (e.g., "/dev/ttyACM0", "COM3")
	Device string

	// Baud rate. USB CDC links ignore it.
	Baud int

	// Read timeout in milliseconds (0 = blocking)
	ReadTimeout int
}

// DefaultBaud is the rate used by UART-attached controllers
const DefaultBaud = 250000

// DefaultConfig returns the configuration for a USB-attached controller
func DefaultConfig(device string) *Config {
	return &Config{
		Device:      device,
		Baud:        DefaultBaud,
		ReadTimeout: 100,
	}
}
