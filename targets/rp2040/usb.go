//go:build rp2040

package main

import (
	"machine"
)

// InitUSB configures the CDC-ACM serial port TinyGo exposes as machine.Serial
func InitUSB() {
	machine.Serial.Configure(machine.UARTConfig{})
}

// USBAvailable returns the number of bytes waiting to be read
func USBAvailable() int {
	return machine.Serial.Buffered()
}

// USBRead reads a single byte
func USBRead() (byte, error) {
	return machine.Serial.ReadByte()
}

// USBWriteBytes writes data to the host
func USBWriteBytes(data []byte) (int, error) {
	return machine.Serial.Write(data)
}
