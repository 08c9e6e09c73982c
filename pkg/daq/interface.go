// Package daq is the boundary to the data-acquisition hardware: digital
// outputs for valves, heaters and main power, analog inputs for pressure and
// thermocouples.
package daq

import "errors"

var (
	// ErrNotConnected is returned when the device link is not open.
	ErrNotConnected = errors.New("daq: not connected")
	// ErrClosed is returned when a closed channel handle is used.
	ErrClosed = errors.New("daq: channel closed")
)

// DigitalOutput is a handle to a single digital line.
type DigitalOutput interface {
	Name() string
	Start() error
	Write(level bool) error
	Stop() error
	Close() error
}

// AnalogInput is a handle to a single analog input.
type AnalogInput interface {
	Name() string
	Start() error
	Read() (float64, error)
	Stop() error
	Close() error
}

// Device defines the interface for DAQ devices (real or mocked).
type Device interface {
	Connect() error
	Close() error
	IsConnected() bool
	OpenDigitalOutput(spec string) (DigitalOutput, error)
	OpenAnalogInput(spec string) (AnalogInput, error)
}

// Ensure Serial implements Device.
var _ Device = (*Serial)(nil)

// Ensure Mock implements Device.
var _ Device = (*Mock)(nil)
