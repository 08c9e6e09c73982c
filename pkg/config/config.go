package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Serial    SerialConfig    `yaml:"serial"`
	Valves    []ChannelConfig `yaml:"valves"`
	Heaters   []ChannelConfig `yaml:"heaters"`
	MainPower ChannelConfig   `yaml:"main_power"`
	DutyCycle DutyCycleConfig `yaml:"duty_cycle"`
	Sequencer SequencerConfig `yaml:"sequencer"`
	Sensors   SensorsConfig   `yaml:"sensors"`
	Plot      PlotConfig      `yaml:"plot"`
	UI        UIConfig        `yaml:"ui"`
	Log       LogConfig       `yaml:"log"`
	Mock      MockConfig      `yaml:"mock"`
}

// SerialConfig contains the DAQ bridge serial link configuration.
type SerialConfig struct {
	Port           string        `yaml:"port"`
	BaudRate       int           `yaml:"baud_rate"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"` // Upper bound for open retries
	CommandRate    float64       `yaml:"command_rate"`    // Max commands per second sent to the bridge
}

// ChannelConfig binds a human readable name to a DAQ channel spec.
type ChannelConfig struct {
	Name    string `yaml:"name"`
	Channel string `yaml:"channel"`
}

// DutyCycleConfig contains software PWM parameters for heaters.
type DutyCycleConfig struct {
	TicksPerCycle int           `yaml:"ticks_per_cycle"` // Duty resolution, duty values are in [0, TicksPerCycle]
	Period        time.Duration `yaml:"period"`          // Length of one full PWM cycle
}

// Tick returns the duration of a single PWM tick.
func (d DutyCycleConfig) Tick() time.Duration {
	if d.TicksPerCycle <= 0 {
		return d.Period
	}
	return d.Period / time.Duration(d.TicksPerCycle)
}

// SequencerConfig contains recipe execution parameters.
type SequencerConfig struct {
	PulseThreshold float64       `yaml:"pulse_threshold"` // Seconds; setpoints at or below are not pulsed after step 0
	SettleDelay    time.Duration `yaml:"settle_delay"`    // Delay after manual open/close
}

// SensorsConfig contains analog input configuration.
type SensorsConfig struct {
	Pressure       PressureConfig  `yaml:"pressure"`
	Thermocouples  []ChannelConfig `yaml:"thermocouples"`
	SampleInterval time.Duration   `yaml:"sample_interval"`
	AverageSamples int             `yaml:"average_samples"` // Moving average window, 0 or 1 disables
}

// PressureConfig describes the pressure gauge input.
type PressureConfig struct {
	Channel string  `yaml:"channel"`
	Gauge   string  `yaml:"gauge"` // "linear" or "pdr2000"
	Scale   float64 `yaml:"scale"` // Volts per unit for the linear gauge
}

// PlotConfig contains live plot parameters.
type PlotConfig struct {
	YMin   float64       `yaml:"y_min"`
	YMax   float64       `yaml:"y_max"`
	Window time.Duration `yaml:"window"`
}

// UIConfig contains GUI appearance settings.
type UIConfig struct {
	OnColor  string `yaml:"on_color"`
	OffColor string `yaml:"off_color"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	File    string `yaml:"file"`    // Empty disables file logging
	Samples bool   `yaml:"samples"` // Log every sensor sample as a CSV line
}

// MockConfig contains simulated device configuration.
type MockConfig struct {
	BasePressure   float64       `yaml:"base_pressure"`   // Gauge voltage with all valves closed (V)
	PulsePressure  float64       `yaml:"pulse_pressure"`  // Voltage rise per open valve (V)
	PumpDown       time.Duration `yaml:"pump_down"`       // Time constant for pressure relaxation
	AmbientTemp    float64       `yaml:"ambient_temp"`    // degC
	HeaterRate     float64       `yaml:"heater_rate"`     // degC per second while a heater line is high
	CoolingTime    time.Duration `yaml:"cooling_time"`    // Thermal time constant
	NoiseLevel     float64       `yaml:"noise_level"`     // Noise amplitude applied to analog reads
	CommandLatency time.Duration `yaml:"command_latency"` // Simulated bus latency per command
}

// Default returns a default configuration with sensible values.
func Default() *Config {
	return &Config{
		Serial: SerialConfig{
			Port:           "COM3", // Default for Windows, should be "/dev/ttyACM0" on Linux/Mac
			BaudRate:       115200,
			ReadTimeout:    time.Second,
			ConnectTimeout: 3 * time.Second,
			CommandRate:    500,
		},
		Valves: []ChannelConfig{
			{Name: "AV01", Channel: "line0"}, // TMA
			{Name: "AV02", Channel: "line1"}, // D2O
			{Name: "AV03", Channel: "line2"}, // H2O
		},
		Heaters: []ChannelConfig{
			{Name: "Heater 1", Channel: "line5"},
			{Name: "Heater 2", Channel: "line6"},
			{Name: "Heater 3", Channel: "line7"},
		},
		MainPower: ChannelConfig{Name: "Main Power", Channel: "line11"},
		DutyCycle: DutyCycleConfig{
			TicksPerCycle: 200,
			Period:        time.Second,
		},
		Sequencer: SequencerConfig{
			PulseThreshold: 0.04,
			SettleDelay:    100 * time.Millisecond,
		},
		Sensors: SensorsConfig{
			Pressure: PressureConfig{
				Channel: "ai7",
				Gauge:   "linear",
				Scale:   10,
			},
			Thermocouples: []ChannelConfig{
				{Name: "main reactor", Channel: "ai0"},
				{Name: "inlet lower", Channel: "ai1"},
				{Name: "inlet upper", Channel: "ai2"},
				{Name: "exhaust", Channel: "ai3"},
				{Name: "TMA", Channel: "ai4"},
				{Name: "Trap", Channel: "ai5"},
				{Name: "Gauges", Channel: "ai6"},
			},
			SampleInterval: 500 * time.Millisecond,
			AverageSamples: 1,
		},
		Plot: PlotConfig{
			YMin:   0.4,
			YMax:   0.8,
			Window: 300 * time.Second,
		},
		UI: UIConfig{
			OnColor:  "#008000",
			OffColor: "#ff0000",
		},
		Log: LogConfig{
			Samples: true,
		},
		Mock: MockConfig{
			BasePressure:   5.5,
			PulsePressure:  1.5,
			PumpDown:       2 * time.Second,
			AmbientTemp:    20,
			HeaterRate:     2,
			CoolingTime:    60 * time.Second,
			NoiseLevel:     0.01,
			CommandLatency: 0,
		},
	}
}

// Load loads configuration from a YAML file. If the file doesn't exist or
// fields are missing, it uses default values.
func Load(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			// File doesn't exist, return defaults
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ensureDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save saves the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks values that cannot be defaulted.
func (c *Config) Validate() error {
	if c.DutyCycle.TicksPerCycle <= 0 {
		return fmt.Errorf("duty_cycle.ticks_per_cycle must be positive, got %d", c.DutyCycle.TicksPerCycle)
	}
	if c.DutyCycle.Period < time.Duration(c.DutyCycle.TicksPerCycle) {
		return fmt.Errorf("duty_cycle.period %v too short for %d ticks", c.DutyCycle.Period, c.DutyCycle.TicksPerCycle)
	}
	if c.Sequencer.PulseThreshold < 0 {
		return fmt.Errorf("sequencer.pulse_threshold must not be negative, got %v", c.Sequencer.PulseThreshold)
	}
	if c.Sensors.AverageSamples < 0 {
		return fmt.Errorf("sensors.average_samples must not be negative, got %d", c.Sensors.AverageSamples)
	}
	switch c.Sensors.Pressure.Gauge {
	case "linear", "pdr2000":
	default:
		return fmt.Errorf("sensors.pressure.gauge: unknown gauge %q", c.Sensors.Pressure.Gauge)
	}
	// Owners are keyed by line number so "line0" and "port0/line0" collide.
	seen := make(map[int]string)
	check := func(kind string, ch ChannelConfig) error {
		if ch.Channel == "" {
			return fmt.Errorf("%s %q has no channel", kind, ch.Name)
		}
		line, err := ParseLine(ch.Channel)
		if err != nil {
			return fmt.Errorf("%s %q: %w", kind, ch.Name, err)
		}
		if other, ok := seen[line]; ok {
			return fmt.Errorf("%s %q reuses line %d of %s", kind, ch.Name, line, other)
		}
		seen[line] = ch.Name
		return nil
	}
	for _, v := range c.Valves {
		if err := check("valve", v); err != nil {
			return err
		}
	}
	for _, h := range c.Heaters {
		if err := check("heater", h); err != nil {
			return err
		}
	}
	return check("main power", c.MainPower)
}

// ensureDefaults ensures that all required fields have default values if missing.
func (c *Config) ensureDefaults() {
	def := Default()

	if c.Serial.Port == "" {
		c.Serial.Port = def.Serial.Port
	}
	if c.Serial.BaudRate == 0 {
		c.Serial.BaudRate = def.Serial.BaudRate
	}
	if c.Serial.ReadTimeout == 0 {
		c.Serial.ReadTimeout = def.Serial.ReadTimeout
	}
	if c.Serial.ConnectTimeout == 0 {
		c.Serial.ConnectTimeout = def.Serial.ConnectTimeout
	}
	if c.Serial.CommandRate == 0 {
		c.Serial.CommandRate = def.Serial.CommandRate
	}

	if len(c.Valves) == 0 {
		c.Valves = def.Valves
	}
	if len(c.Heaters) == 0 {
		c.Heaters = def.Heaters
	}
	if c.MainPower.Channel == "" {
		c.MainPower = def.MainPower
	}

	if c.DutyCycle.TicksPerCycle == 0 {
		c.DutyCycle.TicksPerCycle = def.DutyCycle.TicksPerCycle
	}
	if c.DutyCycle.Period == 0 {
		c.DutyCycle.Period = def.DutyCycle.Period
	}

	// A zero threshold is a valid setting, so only the settle delay is defaulted.
	if c.Sequencer.SettleDelay == 0 {
		c.Sequencer.SettleDelay = def.Sequencer.SettleDelay
	}

	if c.Sensors.Pressure.Channel == "" {
		c.Sensors.Pressure.Channel = def.Sensors.Pressure.Channel
	}
	if c.Sensors.Pressure.Gauge == "" {
		c.Sensors.Pressure.Gauge = def.Sensors.Pressure.Gauge
	}
	if c.Sensors.Pressure.Scale == 0 {
		c.Sensors.Pressure.Scale = def.Sensors.Pressure.Scale
	}
	if len(c.Sensors.Thermocouples) == 0 {
		c.Sensors.Thermocouples = def.Sensors.Thermocouples
	}
	if c.Sensors.SampleInterval == 0 {
		c.Sensors.SampleInterval = def.Sensors.SampleInterval
	}

	if c.Plot.YMin == 0 {
		c.Plot.YMin = def.Plot.YMin
	}
	if c.Plot.YMax == 0 {
		c.Plot.YMax = def.Plot.YMax
	}
	if c.Plot.Window == 0 {
		c.Plot.Window = def.Plot.Window
	}

	if c.UI.OnColor == "" {
		c.UI.OnColor = def.UI.OnColor
	}
	if c.UI.OffColor == "" {
		c.UI.OffColor = def.UI.OffColor
	}

	if c.Mock.PumpDown == 0 {
		c.Mock.PumpDown = def.Mock.PumpDown
	}
	if c.Mock.CoolingTime == 0 {
		c.Mock.CoolingTime = def.Mock.CoolingTime
	}
}
