//go:build tinygo

//go:generate tinygo flash -target=pico

package main

import (
	"machine"
	"strconv"
	"time"

	"github.com/itohio/goald/pkg/bridge"
)

var (
	uart = machine.UART0
	adcs [len(inputs)]machine.ADC

	// Serial buffer for reading frames
	frame    [MAX_FRAME]byte
	framePos int
	overflow bool

	lastHost time.Time
	released bool
)

func main() {
	for _, p := range lines {
		p.Configure(machine.PinConfig{Mode: machine.PinOutput})
		p.Low()
	}

	machine.InitADC()
	adcConfig := machine.ADCConfig{
		Reference:  ADC_REFERENCE_MV,
		Resolution: ADC_RESOLUTION,
	}
	for i, in := range inputs {
		adcs[i] = machine.ADC{Pin: in.pin}
		adcs[i].Configure(adcConfig)
	}

	uart.Configure(machine.UARTConfig{
		BaudRate: UART_BAUD_RATE,
	})

	lastHost = time.Now()

	for {
		processSerial()

		if !released && time.Since(lastHost) > HOST_TIMEOUT_MS*time.Millisecond {
			allLow()
			released = true
		}

		time.Sleep(100 * time.Microsecond)
	}
}

func processSerial() {
	for uart.Buffered() > 0 {
		data, err := uart.ReadByte()
		if err != nil {
			break
		}

		if data == '\r' {
			continue
		}
		if data == bridge.Terminator {
			if !overflow && framePos > 0 {
				handleFrame(frame[:framePos])
			}
			framePos = 0
			overflow = false
			continue
		}

		if framePos >= len(frame) {
			// Drop the rest of an oversized frame
			overflow = true
			continue
		}
		frame[framePos] = data
		framePos++
	}
}

func handleFrame(raw []byte) {
	payload, err := bridge.Decode(raw)
	if err != nil {
		// Corrupted frames are not answered, the host times out and reports the error.
		return
	}
	lastHost = time.Now()
	released = false

	cmd, err := bridge.ParseCommand(payload)
	if err != nil {
		reply("E " + err.Error())
		return
	}

	switch cmd.Op {
	case 'P':
		reply("OK")
	case 'Z':
		allLow()
		reply("OK")
	case 'W':
		if cmd.Index >= len(lines) {
			reply("E no line " + strconv.Itoa(cmd.Index))
			return
		}
		lines[cmd.Index].Set(cmd.Level)
		reply("OK")
	case 'R':
		if cmd.Index >= len(inputs) {
			reply("E no input " + strconv.Itoa(cmd.Index))
			return
		}
		v := readInput(cmd.Index)
		reply("V " + strconv.FormatFloat(float64(v), 'f', 4, 32))
	}
}

// readInput averages NUM_SAMPLES readings and converts them to the
// configured unit.
func readInput(i int) float32 {
	var sum uint32
	for range NUM_SAMPLES {
		// Get returns a 16 bit left aligned value regardless of resolution
		sum += uint32(adcs[i].Get())
	}
	avg := float32(sum) / NUM_SAMPLES
	mv := avg * ADC_REFERENCE_MV / 65535
	return mv*inputs[i].gain + inputs[i].offset
}

func allLow() {
	for _, p := range lines {
		p.Low()
	}
}

func reply(payload string) {
	uart.Write(bridge.Encode(payload))
}
