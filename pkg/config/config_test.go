package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.NotNil(t, cfg)
	assert.Equal(t, "COM3", cfg.Serial.Port)
	assert.Equal(t, 115200, cfg.Serial.BaudRate)
	assert.Len(t, cfg.Valves, 3)
	assert.Equal(t, "AV01", cfg.Valves[0].Name)
	assert.Len(t, cfg.Heaters, 3)
	assert.Equal(t, "line11", cfg.MainPower.Channel)
	assert.Equal(t, 200, cfg.DutyCycle.TicksPerCycle)
	assert.Equal(t, time.Second, cfg.DutyCycle.Period)
	assert.Equal(t, 0.04, cfg.Sequencer.PulseThreshold)
	assert.Equal(t, 100*time.Millisecond, cfg.Sequencer.SettleDelay)
	assert.Len(t, cfg.Sensors.Thermocouples, 7)
	assert.Equal(t, "linear", cfg.Sensors.Pressure.Gauge)
	assert.Equal(t, 500*time.Millisecond, cfg.Sensors.SampleInterval)
	assert.Equal(t, 0.4, cfg.Plot.YMin)
	assert.Equal(t, 0.8, cfg.Plot.YMax)
	assert.NoError(t, cfg.Validate())
}

func TestDutyCycleConfig_Tick(t *testing.T) {
	tests := []struct {
		name string
		cfg  DutyCycleConfig
		want time.Duration
	}{
		{name: "200 ticks per second", cfg: DutyCycleConfig{TicksPerCycle: 200, Period: time.Second}, want: 5 * time.Millisecond},
		{name: "100 ticks over 10s", cfg: DutyCycleConfig{TicksPerCycle: 100, Period: 10 * time.Second}, want: 100 * time.Millisecond},
		{name: "zero ticks", cfg: DutyCycleConfig{TicksPerCycle: 0, Period: time.Second}, want: time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cfg.Tick())
		})
	}
}

func TestLoad_FileNotExists(t *testing.T) {
	cfg, err := Load("nonexistent.yaml")
	require.NoError(t, err)
	assert.NotNil(t, cfg)
	assert.Equal(t, "COM3", cfg.Serial.Port)
}

func TestLoad_ValidYAML(t *testing.T) {
	tmpfile, err := os.CreateTemp("", "test_config_*.yaml")
	require.NoError(t, err)
	defer os.Remove(tmpfile.Name())

	yamlContent := `
serial:
  port: "/dev/ttyACM0"
  command_rate: 100

valves:
  - name: AV01
    channel: line0
  - name: AV02
    channel: line1
  - name: AV03
    channel: line2
  - name: AV04
    channel: line3

duty_cycle:
  ticks_per_cycle: 100
  period: 10s

sequencer:
  pulse_threshold: 0.05

sensors:
  pressure:
    channel: ai2
    gauge: pdr2000
  sample_interval: 250ms

plot:
  y_min: 0.01
  y_max: 10
`

	_, err = tmpfile.WriteString(yamlContent)
	require.NoError(t, err)
	require.NoError(t, tmpfile.Close())

	cfg, err := Load(tmpfile.Name())
	require.NoError(t, err)
	assert.NotNil(t, cfg)

	assert.Equal(t, "/dev/ttyACM0", cfg.Serial.Port)
	assert.Equal(t, float64(100), cfg.Serial.CommandRate)
	assert.Len(t, cfg.Valves, 4)
	assert.Equal(t, "line3", cfg.Valves[3].Channel)
	assert.Equal(t, 100, cfg.DutyCycle.TicksPerCycle)
	assert.Equal(t, 10*time.Second, cfg.DutyCycle.Period)
	assert.Equal(t, 0.05, cfg.Sequencer.PulseThreshold)
	assert.Equal(t, "pdr2000", cfg.Sensors.Pressure.Gauge)
	assert.Equal(t, "ai2", cfg.Sensors.Pressure.Channel)
	assert.Equal(t, 250*time.Millisecond, cfg.Sensors.SampleInterval)
	assert.Equal(t, 0.01, cfg.Plot.YMin)
	assert.Equal(t, float64(10), cfg.Plot.YMax)
}

func TestLoad_InvalidYAML(t *testing.T) {
	tmpfile, err := os.CreateTemp("", "test_config_*.yaml")
	require.NoError(t, err)
	defer os.Remove(tmpfile.Name())

	_, err = tmpfile.WriteString("invalid: yaml: content: [")
	require.NoError(t, err)
	require.NoError(t, tmpfile.Close())

	cfg, err := Load(tmpfile.Name())
	assert.Error(t, err)
	assert.Nil(t, cfg)
}

func TestLoad_PartialYAML(t *testing.T) {
	tmpfile, err := os.CreateTemp("", "test_config_*.yaml")
	require.NoError(t, err)
	defer os.Remove(tmpfile.Name())

	yamlContent := `
serial:
  port: "/dev/ttyACM0"
`

	_, err = tmpfile.WriteString(yamlContent)
	require.NoError(t, err)
	require.NoError(t, tmpfile.Close())

	cfg, err := Load(tmpfile.Name())
	require.NoError(t, err)
	assert.NotNil(t, cfg)

	// Should use defaults for missing fields
	assert.Equal(t, "/dev/ttyACM0", cfg.Serial.Port)
	assert.Equal(t, 200, cfg.DutyCycle.TicksPerCycle)    // default
	assert.Len(t, cfg.Valves, 3)                         // default
	assert.Equal(t, time.Second, cfg.Serial.ReadTimeout) // default
	assert.Equal(t, "#008000", cfg.UI.OnColor)           // default
	assert.Equal(t, 300*time.Second, cfg.Plot.Window)    // default
	assert.Equal(t, 2*time.Second, cfg.Mock.PumpDown)    // default
	assert.Equal(t, "main reactor", cfg.Sensors.Thermocouples[0].Name)
}

func TestLoad_RejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{
			name: "unknown gauge",
			yaml: "sensors:\n  pressure:\n    gauge: magic\n",
		},
		{
			name: "negative threshold",
			yaml: "sequencer:\n  pulse_threshold: -0.5\n",
		},
		{
			name: "shared channel",
			yaml: "valves:\n  - name: AV01\n    channel: line5\n",
		},
		{
			name: "same line under another spec",
			yaml: "valves:\n  - name: AV01\n    channel: port0/line0\nheaters:\n  - name: Heater 1\n    channel: cDAQ1Mod4/port0/line0\n",
		},
		{
			name: "analog input as output",
			yaml: "main_power:\n  name: Main Power\n  channel: ai3\n",
		},
		{
			name: "period shorter than ticks",
			yaml: "duty_cycle:\n  ticks_per_cycle: 200\n  period: 100ns\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpfile, err := os.CreateTemp("", "test_config_*.yaml")
			require.NoError(t, err)
			defer os.Remove(tmpfile.Name())

			_, err = tmpfile.WriteString(tt.yaml)
			require.NoError(t, err)
			require.NoError(t, tmpfile.Close())

			cfg, err := Load(tmpfile.Name())
			assert.Error(t, err)
			assert.Nil(t, cfg)
		})
	}
}

func TestSave(t *testing.T) {
	cfg := Default()
	cfg.Serial.Port = "/dev/ttyUSB0"
	cfg.Sequencer.PulseThreshold = 0.1
	cfg.DutyCycle.TicksPerCycle = 100

	tmpfile, err := os.CreateTemp("", "test_save_*.yaml")
	require.NoError(t, err)
	defer os.Remove(tmpfile.Name())

	err = cfg.Save(tmpfile.Name())
	require.NoError(t, err)

	// Load it back and verify
	loaded, err := Load(tmpfile.Name())
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyUSB0", loaded.Serial.Port)
	assert.Equal(t, 0.1, loaded.Sequencer.PulseThreshold)
	assert.Equal(t, 100, loaded.DutyCycle.TicksPerCycle)
}
