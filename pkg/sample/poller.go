package sample

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/itohio/goald/pkg/config"
	"github.com/itohio/goald/pkg/daq"
)

// DefaultBufferSize is the default size of sample channels.
const DefaultBufferSize = 100

// Poller reads every analog input at a fixed interval.
type Poller struct {
	interval time.Duration
	pressure daq.AnalogInput
	thermo   []daq.AnalogInput
}

// NewPoller opens the pressure and thermocouple inputs on dev.
func NewPoller(dev daq.Device, cfg config.SensorsConfig) (*Poller, error) {
	p := &Poller{interval: cfg.SampleInterval}
	if p.interval <= 0 {
		p.interval = 500 * time.Millisecond
	}

	in, err := dev.OpenAnalogInput(cfg.Pressure.Channel)
	if err != nil {
		return nil, fmt.Errorf("failed to open pressure gauge: %w", err)
	}
	p.pressure = in

	for _, tc := range cfg.Thermocouples {
		in, err := dev.OpenAnalogInput(tc.Channel)
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("failed to open thermocouple %s: %w", tc.Name, err)
		}
		p.thermo = append(p.thermo, in)
	}
	return p, nil
}

// Samples starts polling and returns the sample stream. The channel is
// closed when ctx is cancelled. Failed reads are logged and skipped.
func (p *Poller) Samples(ctx context.Context) <-chan RawSample {
	out := make(chan RawSample, DefaultBufferSize)

	go func() {
		defer close(out)

		for _, in := range p.inputs() {
			if err := in.Start(); err != nil {
				log.Printf("Failed to start %s: %v", in.Name(), err)
				return
			}
		}

		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				raw, err := p.Read()
				if err != nil {
					log.Printf("Failed to read sensors: %v", err)
					continue
				}
				select {
				case out <- raw:
				case <-ctx.Done():
					return
				default:
					// Channel full, skip
				}
			}
		}
	}()

	return out
}

// Read takes one sample of every input.
func (p *Poller) Read() (RawSample, error) {
	raw := RawSample{
		Timestamp:    time.Now(),
		Temperatures: make([]float64, len(p.thermo)),
	}
	v, err := p.pressure.Read()
	if err != nil {
		return RawSample{}, err
	}
	raw.Pressure = v
	for i, in := range p.thermo {
		v, err := in.Read()
		if err != nil {
			return RawSample{}, err
		}
		raw.Temperatures[i] = v
	}
	return raw, nil
}

// Close releases every input.
func (p *Poller) Close() error {
	var errs []error
	for _, in := range p.inputs() {
		errs = append(errs, in.Stop(), in.Close())
	}
	return errors.Join(errs...)
}

func (p *Poller) inputs() []daq.AnalogInput {
	out := make([]daq.AnalogInput, 0, len(p.thermo)+1)
	if p.pressure != nil {
		out = append(out, p.pressure)
	}
	return append(out, p.thermo...)
}
