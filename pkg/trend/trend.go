// Package trend keeps a time windowed history of sensor samples for display.
package trend

import (
	"sync"
	"time"

	"github.com/itohio/goald/pkg/sample"
)

// Trend is a FIFO of samples no older than the window, measured from the
// newest sample. Readers always get ordered copies, oldest first.
type Trend struct {
	window time.Duration

	mu       sync.RWMutex
	samples  []sample.Sample
	rates    []float64 // Pressure change between consecutive samples (Torr/s)
	shutdown bool

	cbMu      sync.RWMutex
	callbacks []func(samples []sample.Sample)
}

// New creates a trend buffer holding window worth of samples.
func New(window time.Duration) *Trend {
	return &Trend{window: window}
}

// ProcessSamples consumes input until it is closed. After that no more
// callbacks are invoked.
func (t *Trend) ProcessSamples(input <-chan sample.Sample) {
	for s := range input {
		t.Add(s)
	}
	t.mu.Lock()
	t.shutdown = true
	t.mu.Unlock()
}

// Add appends a sample, drops samples that fell out of the window and
// notifies callbacks.
func (t *Trend) Add(s sample.Sample) {
	t.mu.Lock()

	if n := len(t.samples); n > 0 {
		prev := t.samples[n-1]
		rate := 0.
		if dt := s.Timestamp.Sub(prev.Timestamp).Seconds(); dt > 0 {
			rate = (s.Pressure - prev.Pressure) / dt
		}
		t.rates = append(t.rates, rate)
	}
	t.samples = append(t.samples, s)

	cutoff := s.Timestamp.Add(-t.window)
	drop := 0
	for drop < len(t.samples)-1 && !t.samples[drop].Timestamp.After(cutoff) {
		drop++
	}
	if drop > 0 {
		t.samples = t.samples[drop:]
		t.rates = t.rates[drop:]
	}

	notify := !t.shutdown
	t.mu.Unlock()

	if notify {
		t.notifyCallbacks()
	}
}

// Samples returns a copy of the buffered samples.
func (t *Trend) Samples() []sample.Sample {
	t.mu.RLock()
	defer t.mu.RUnlock()
	result := make([]sample.Sample, len(t.samples))
	copy(result, t.samples)
	return result
}

// Rates returns the pressure change rates. There is one rate less than
// there are samples; rate i is between sample i and i+1.
func (t *Trend) Rates() []float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	result := make([]float64, len(t.rates))
	copy(result, t.rates)
	return result
}

// Latest returns the newest sample.
func (t *Trend) Latest() (sample.Sample, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.samples) == 0 {
		return sample.Sample{}, false
	}
	return t.samples[len(t.samples)-1], true
}

// Clear drops all samples.
func (t *Trend) Clear() {
	t.mu.Lock()
	t.samples = nil
	t.rates = nil
	t.mu.Unlock()
}

// OnUpdate registers a callback invoked after every new sample. The
// callback gets its own copy and should return quickly.
func (t *Trend) OnUpdate(callback func(samples []sample.Sample)) {
	t.cbMu.Lock()
	defer t.cbMu.Unlock()
	t.callbacks = append(t.callbacks, callback)
}

// ResetShutdown allows callbacks again before starting a new sample chain.
func (t *Trend) ResetShutdown() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.shutdown = false
}

func (t *Trend) notifyCallbacks() {
	samples := t.Samples()

	t.cbMu.RLock()
	callbacks := make([]func(samples []sample.Sample), len(t.callbacks))
	copy(callbacks, t.callbacks)
	t.cbMu.RUnlock()

	for _, cb := range callbacks {
		if cb != nil {
			cb(samples)
		}
	}
}
