package trend

import (
	"sync"
	"testing"
	"time"

	"github.com/itohio/goald/pkg/sample"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func at(base time.Time, sec int, pressure float64) sample.Sample {
	return sample.Sample{Timestamp: base.Add(time.Duration(sec) * time.Second), Pressure: pressure}
}

func TestTrend_Window(t *testing.T) {
	base := time.Now()
	tr := New(10 * time.Second)

	for i := 0; i <= 20; i++ {
		tr.Add(at(base, i, float64(i)))
	}

	samples := tr.Samples()
	require.Len(t, samples, 10)
	assert.Equal(t, 11.0, samples[0].Pressure)
	assert.Equal(t, 20.0, samples[9].Pressure)
	assert.Len(t, tr.Rates(), 9)

	latest, ok := tr.Latest()
	require.True(t, ok)
	assert.Equal(t, 20.0, latest.Pressure)
}

func TestTrend_Rates(t *testing.T) {
	base := time.Now()
	tr := New(time.Minute)

	tr.Add(at(base, 0, 0.5))
	tr.Add(at(base, 2, 0.7))
	tr.Add(at(base, 2, 0.9)) // Same timestamp, no rate
	tr.Add(at(base, 3, 0.6))

	assert.InDeltaSlice(t, []float64{0.1, 0, -0.3}, tr.Rates(), 1e-9)
}

func TestTrend_KeepsNewestWhenGapExceedsWindow(t *testing.T) {
	base := time.Now()
	tr := New(time.Second)

	tr.Add(at(base, 0, 1))
	tr.Add(at(base, 100, 2))

	samples := tr.Samples()
	require.Len(t, samples, 1)
	assert.Equal(t, 2.0, samples[0].Pressure)
	assert.Empty(t, tr.Rates())
}

func TestTrend_Clear(t *testing.T) {
	tr := New(time.Minute)
	tr.Add(at(time.Now(), 0, 1))
	tr.Clear()

	_, ok := tr.Latest()
	assert.False(t, ok)
	assert.Empty(t, tr.Samples())
}

func TestTrend_OnUpdate(t *testing.T) {
	base := time.Now()
	tr := New(time.Minute)

	var mu sync.Mutex
	var sizes []int
	tr.OnUpdate(func(samples []sample.Sample) {
		mu.Lock()
		defer mu.Unlock()
		sizes = append(sizes, len(samples))
	})

	tr.Add(at(base, 0, 1))
	tr.Add(at(base, 1, 1))

	assert.Equal(t, []int{1, 2}, sizes)
}

// TestTrend_GracefulShutdown checks that no callbacks fire after the input
// channel closes.
func TestTrend_GracefulShutdown(t *testing.T) {
	tr := New(time.Minute)
	calls := 0
	tr.OnUpdate(func([]sample.Sample) { calls++ })

	input := make(chan sample.Sample, 3)
	input <- at(time.Now(), 0, 1)
	input <- at(time.Now(), 1, 1)
	close(input)

	done := make(chan struct{})
	go func() {
		tr.ProcessSamples(input)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("ProcessSamples did not return after input closed")
	}
	assert.Equal(t, 2, calls)

	tr.Add(at(time.Now(), 2, 1))
	assert.Equal(t, 2, calls)

	tr.ResetShutdown()
	tr.Add(at(time.Now(), 3, 1))
	assert.Equal(t, 3, calls)
}
