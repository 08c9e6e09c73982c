//go:build tinygo

package main

import "machine"

const (
	// Sampling configuration
	NUM_SAMPLES = 16 // ADC readings averaged per R request

	// ADC configuration
	ADC_REFERENCE_MV = 3300 // Reference voltage in millivolts (3.3V)
	ADC_RESOLUTION   = 12   // ADC resolution in bits (12-bit = 0-4095)

	// Host silence after which every line is driven low
	HOST_TIMEOUT_MS = 5000

	// Serial configuration, must match the host bridge baud rate
	UART_BAUD_RATE = 115200

	// Longest accepted frame, "W 11 1*ABCD" is 11 bytes
	MAX_FRAME = 32
)

// Digital lines in host numbering: line0..line2 valves, line5..line7 heaters,
// line11 main power. Unused lines are still driven so line numbers stay stable.
var lines = [...]machine.Pin{
	machine.D0, machine.D1, machine.D2, machine.D3,
	machine.D4, machine.D5, machine.D6, machine.D7,
	machine.D8, machine.D9, machine.D10, machine.D11,
}

// analogInput maps one ain number to a pin and the linear conversion from
// millivolts at the pin to the reported value.
type analogInput struct {
	pin    machine.Pin
	gain   float32
	offset float32
}

// ai0..ai6 are AD8495 thermocouple amplifiers (5 mV/degC, 1.25 V at 0 degC)
// reported in degC. ai7 is the pressure gauge output behind a 1:4 divider
// reported in volts.
var inputs = [...]analogInput{
	{pin: machine.A0, gain: 0.2, offset: -250},
	{pin: machine.A1, gain: 0.2, offset: -250},
	{pin: machine.A2, gain: 0.2, offset: -250},
	{pin: machine.A3, gain: 0.2, offset: -250},
	{pin: machine.A4, gain: 0.2, offset: -250},
	{pin: machine.A5, gain: 0.2, offset: -250},
	{pin: machine.A6, gain: 0.2, offset: -250},
	{pin: machine.A7, gain: 0.004, offset: 0},
}
