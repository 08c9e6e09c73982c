package sample

import (
	"log"
	"time"

	"github.com/itohio/goald/pkg/config"
)

// NewAveragingConverter creates a converter that averages the last
// windowSize RawSamples before converting them. One Sample is emitted per
// input sample once the first input arrives.
func NewAveragingConverter(cfg config.SensorsConfig, windowSize int, bufSize int) Converter {
	if windowSize <= 0 {
		windowSize = 1 // No averaging if invalid
	}
	if bufSize <= 0 {
		bufSize = 100
	}

	return func(in <-chan RawSample) <-chan Sample {
		out := make(chan Sample, bufSize)

		go func() {
			defer close(out)

			var buffer []RawSample
			for raw := range in {
				buffer = append(buffer, raw)
				if len(buffer) > windowSize {
					buffer = buffer[1:] // Remove oldest
				}

				sample, err := convertSample(averageRawSamples(buffer), cfg)
				if err != nil {
					log.Printf("Failed to convert sample: %v", err)
					continue
				}

				select {
				case out <- sample:
				case <-time.After(time.Second):
					log.Printf("Averaging converter output channel full")
				}
			}
		}()

		return out
	}
}

// averageRawSamples averages voltages and temperatures, keeping the most
// recent timestamp.
func averageRawSamples(samples []RawSample) RawSample {
	if len(samples) == 0 {
		return RawSample{}
	}

	last := samples[len(samples)-1]
	avg := RawSample{
		Timestamp:    last.Timestamp,
		Temperatures: make([]float64, len(last.Temperatures)),
	}

	n := float64(len(samples))
	for _, s := range samples {
		avg.Pressure += s.Pressure / n
		for i := range avg.Temperatures {
			if i < len(s.Temperatures) {
				avg.Temperatures[i] += s.Temperatures[i] / n
			}
		}
	}
	return avg
}
