package sample

import (
	"testing"
	"time"

	"github.com/itohio/goald/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAveragingConverter(t *testing.T) {
	cfg := config.Default().Sensors
	in := make(chan RawSample, 10)
	out := NewAveragingConverter(cfg, 3, 10)(in)

	now := time.Now()
	for i := 0; i < 5; i++ {
		in <- RawSample{
			Timestamp:    now.Add(time.Duration(i) * time.Second),
			Pressure:     float64(i + 1),
			Temperatures: []float64{float64(10 * i)},
		}
	}
	close(in)

	var samples []Sample
	for s := range out {
		samples = append(samples, s)
	}
	require.Len(t, samples, 5)

	// Pressure is volts / 10 averaged over a window of up to three.
	want := []float64{0.1, 0.15, 0.2, 0.3, 0.4}
	for i, s := range samples {
		assert.InDelta(t, want[i], s.Pressure, 1e-9, "sample %d", i)
		assert.Equal(t, now.Add(time.Duration(i)*time.Second), s.Timestamp)
	}
	assert.InDelta(t, 30.0, samples[4].Temperatures[0], 1e-9)
}

func TestNewAveragingConverter_InvalidWindow(t *testing.T) {
	cfg := config.Default().Sensors
	in := make(chan RawSample, 2)
	out := NewAveragingConverter(cfg, 0, 0)(in)

	in <- RawSample{Pressure: 2}
	in <- RawSample{Pressure: 4}
	close(in)

	var got []float64
	for s := range out {
		got = append(got, s.Pressure)
	}
	assert.InDeltaSlice(t, []float64{0.2, 0.4}, got, 1e-9)
}

func TestAverageRawSamples(t *testing.T) {
	assert.Equal(t, RawSample{}, averageRawSamples(nil))

	avg := averageRawSamples([]RawSample{
		{Pressure: 1, Temperatures: []float64{10, 20}},
		{Pressure: 3, Temperatures: []float64{30, 40}},
	})
	assert.InDelta(t, 2.0, avg.Pressure, 1e-12)
	assert.InDeltaSlice(t, []float64{20, 30}, avg.Temperatures, 1e-12)
}
