package daq

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/itohio/goald/pkg/config"
)

// Event is a single digital write seen by the Mock.
type Event struct {
	Time    time.Time
	Channel string
	Level   bool
}

// Mock simulates the reactor behind a DAQ device. It records every digital
// write and models chamber pressure from the open valves and thermocouple
// temperatures from the heater lines.
type Mock struct {
	cfg     config.MockConfig
	valves  map[string]bool
	heaters map[string]int // heater channel -> thermocouple index it warms
	gauge   string
	thermo  map[string]int // thermocouple channel -> index

	mu        sync.RWMutex
	now       func() time.Time
	connected bool
	start     time.Time
	last      time.Time
	levels    map[string]bool
	events    []Event
	failures  map[string]error

	pressure float64   // gauge voltage
	temps    []float64 // degC per thermocouple
}

// NewMock creates a new simulated device wired like cfg. A nil cfg uses the
// default configuration.
func NewMock(cfg *config.Config) *Mock {
	if cfg == nil {
		cfg = config.Default()
	}

	m := &Mock{
		cfg:      cfg.Mock,
		valves:   make(map[string]bool),
		heaters:  make(map[string]int),
		gauge:    cfg.Sensors.Pressure.Channel,
		thermo:   make(map[string]int),
		now:      time.Now,
		levels:   make(map[string]bool),
		failures: make(map[string]error),
	}
	for _, v := range cfg.Valves {
		m.valves[v.Channel] = true
	}
	for i, h := range cfg.Heaters {
		m.heaters[h.Channel] = i
	}
	for i, tc := range cfg.Sensors.Thermocouples {
		m.thermo[tc.Channel] = i
	}
	m.temps = make([]float64, len(cfg.Sensors.Thermocouples))
	return m
}

// Connect simulates connecting to the device.
func (m *Mock) Connect() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.connected {
		return fmt.Errorf("already connected")
	}

	m.connected = true
	m.start = m.now()
	m.last = m.start
	m.pressure = m.cfg.BasePressure
	for i := range m.temps {
		m.temps[i] = m.cfg.AmbientTemp
	}
	return nil
}

// Close stops the simulated device.
func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
	return nil
}

// IsConnected returns whether the device is currently connected.
func (m *Mock) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

// OpenDigitalOutput returns a recording handle for a digital line.
func (m *Mock) OpenDigitalOutput(spec string) (DigitalOutput, error) {
	if _, err := config.ParseLine(spec); err != nil {
		return nil, err
	}
	return &mockOutput{task: task{name: spec}, dev: m}, nil
}

// OpenAnalogInput returns a simulated analog input.
func (m *Mock) OpenAnalogInput(spec string) (AnalogInput, error) {
	if _, err := config.ParseAnalog(spec); err != nil {
		return nil, err
	}
	return &mockInput{task: task{name: spec}, dev: m}, nil
}

// FailWrites makes every following write to spec return err. A nil err
// clears the failure.
func (m *Mock) FailWrites(spec string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, spec)
		return
	}
	m.failures[spec] = err
}

// Level returns the last level written to spec.
func (m *Mock) Level(spec string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.levels[spec]
}

// Events returns a copy of every recorded write in order.
func (m *Mock) Events() []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

// Writes returns the recorded writes to a single channel.
func (m *Mock) Writes(spec string) []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Event
	for _, e := range m.events {
		if e.Channel == spec {
			out = append(out, e)
		}
	}
	return out
}

// Reset forgets recorded events without touching line levels.
func (m *Mock) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = nil
}

func (m *Mock) write(spec string, level bool) error {
	m.latency()

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return ErrNotConnected
	}
	if err := m.failures[spec]; err != nil {
		return err
	}

	// Integrate up to now with the old levels before switching.
	m.step()
	m.levels[spec] = level
	m.events = append(m.events, Event{Time: m.now(), Channel: spec, Level: level})
	return nil
}

func (m *Mock) read(spec string) (float64, error) {
	m.latency()

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return 0, ErrNotConnected
	}
	m.step()

	noise := m.noise()
	if spec == m.gauge {
		return m.pressure + noise*0.1, nil
	}
	if i, ok := m.thermo[spec]; ok {
		return m.temps[i] + noise, nil
	}
	return noise, nil
}

func (m *Mock) latency() {
	if m.cfg.CommandLatency > 0 {
		time.Sleep(m.cfg.CommandLatency)
	}
}

// step advances the plant model to the current time. Caller holds mu.
func (m *Mock) step() {
	now := m.now()
	dt := now.Sub(m.last).Seconds()
	m.last = now
	if dt <= 0 {
		return
	}

	open := 0
	for ch, level := range m.levels {
		if level && m.valves[ch] {
			open++
		}
	}
	target := m.cfg.BasePressure + float64(open)*m.cfg.PulsePressure
	if tau := m.cfg.PumpDown.Seconds(); tau > 0 {
		m.pressure = target + (m.pressure-target)*math.Exp(-dt/tau)
	} else {
		m.pressure = target
	}

	heating := make([]float64, len(m.temps))
	for ch, i := range m.heaters {
		if m.levels[ch] && i < len(heating) {
			heating[i] = m.cfg.HeaterRate
		}
	}
	tau := m.cfg.CoolingTime.Seconds()
	for i := range m.temps {
		cooling := 0.
		if tau > 0 {
			cooling = (m.temps[i] - m.cfg.AmbientTemp) / tau
		}
		m.temps[i] += (heating[i] - cooling) * dt
	}
}

func (m *Mock) noise() float64 {
	t := float64(m.last.Sub(m.start).Nanoseconds())
	return (math.Sin(t*0.001) + math.Cos(t*0.0013)) * m.cfg.NoiseLevel * 0.5
}

type mockOutput struct {
	task
	dev *Mock
}

func (o *mockOutput) Write(level bool) error {
	if err := o.usable(); err != nil {
		return err
	}
	if err := o.dev.write(o.name, level); err != nil {
		return fmt.Errorf("%s: %w", o.name, err)
	}
	return nil
}

type mockInput struct {
	task
	dev *Mock
}

func (i *mockInput) Read() (float64, error) {
	if err := i.usable(); err != nil {
		return 0, err
	}
	v, err := i.dev.read(i.name)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", i.name, err)
	}
	return v, nil
}
