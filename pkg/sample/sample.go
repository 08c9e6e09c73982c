package sample

import (
	"fmt"
	"log"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/itohio/goald/pkg/config"
)

// Gauge types understood by the converter.
const (
	GaugeLinear  = "linear"
	GaugePDR2000 = "pdr2000"
)

// RawSample holds one reading of every analog input.
type RawSample struct {
	Timestamp    time.Time
	Pressure     float64   // Gauge output (V)
	Temperatures []float64 // Thermocouples (degC), in configuration order
}

// Sample represents a processed measurement sample with physical values.
type Sample struct {
	Timestamp    time.Time
	Pressure     float64   // Chamber pressure (Torr)
	Temperatures []float64 // degC
}

// String renders the sample as a CSV line: time, temperatures, pressure.
func (s Sample) String() string {
	var b strings.Builder
	b.WriteString(s.Timestamp.Format("15:04:05.000"))
	for _, t := range s.Temperatures {
		b.WriteByte(',')
		b.WriteString(strconv.FormatFloat(t, 'f', 2, 64))
	}
	b.WriteByte(',')
	b.WriteString(strconv.FormatFloat(s.Pressure, 'g', 5, 64))
	return b.String()
}

// Header returns the CSV header matching Sample.String.
func Header(cfg config.SensorsConfig) string {
	cols := []string{"time"}
	for _, tc := range cfg.Thermocouples {
		cols = append(cols, tc.Name)
	}
	cols = append(cols, "pressure")
	return strings.Join(cols, ",")
}

// Converter is a function type that converts RawSample channel to Sample channel.
type Converter func(in <-chan RawSample) <-chan Sample

// NewConverter creates a converter function that transforms RawSample to Sample.
func NewConverter(cfg config.SensorsConfig, bufSize int) Converter {
	if bufSize <= 0 {
		bufSize = 100
	}

	return func(in <-chan RawSample) <-chan Sample {
		out := make(chan Sample, bufSize)

		go func() {
			defer close(out)

			for raw := range in {
				sample, err := convertSample(raw, cfg)
				if err != nil {
					log.Printf("Failed to convert sample: %v", err)
					continue
				}

				select {
				case out <- sample:
				case <-time.After(time.Second):
					log.Printf("Converter output channel full, dropping sample")
				}
			}
		}()

		return out
	}
}

// convertSample converts a RawSample to Sample using configuration.
func convertSample(raw RawSample, cfg config.SensorsConfig) (Sample, error) {
	p, err := PressureFromVoltage(cfg.Pressure, raw.Pressure)
	if err != nil {
		return Sample{}, err
	}
	temps := make([]float64, len(raw.Temperatures))
	copy(temps, raw.Temperatures)
	return Sample{
		Timestamp:    raw.Timestamp,
		Pressure:     p,
		Temperatures: temps,
	}, nil
}

// PressureFromVoltage converts a gauge output voltage to Torr.
func PressureFromVoltage(cfg config.PressureConfig, v float64) (float64, error) {
	switch cfg.Gauge {
	case GaugeLinear, "":
		scale := cfg.Scale
		if scale == 0 {
			scale = 10
		}
		return v / scale, nil
	case GaugePDR2000:
		// PDR2000 controller log output, mTorr scaled to Torr.
		return 0.01 * math.Pow(10, 2*v) * 0.001, nil
	default:
		return 0, fmt.Errorf("unknown gauge %q", cfg.Gauge)
	}
}
