// Package heater runs one duty-cycle driver per heater line.
package heater

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/itohio/goald/pkg/config"
	"github.com/itohio/goald/pkg/daq"
	"github.com/itohio/goald/pkg/pwm"
	"golang.org/x/sync/errgroup"
)

// ErrInvalidDuty is returned for duty values outside [0, ticks per cycle].
var ErrInvalidDuty = errors.New("invalid duty")

// Bank owns the heater drivers.
type Bank struct {
	names   []string
	drivers []*pwm.Driver
	ticks   int
}

// NewBank opens a digital output per heater and wraps it in a driver.
func NewBank(dev daq.Device, heaters []config.ChannelConfig, cfg config.DutyCycleConfig) (*Bank, error) {
	b := &Bank{ticks: cfg.TicksPerCycle}
	for _, h := range heaters {
		out, err := dev.OpenDigitalOutput(h.Channel)
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("failed to open heater %s: %w", h.Name, err)
		}
		b.names = append(b.names, h.Name)
		b.drivers = append(b.drivers, pwm.New(out, cfg))
	}
	return b, nil
}

// Len returns the number of heaters.
func (b *Bank) Len() int {
	return len(b.drivers)
}

// Names returns the heater names in configuration order.
func (b *Bank) Names() []string {
	return append([]string(nil), b.names...)
}

// Ticks returns the maximum duty value.
func (b *Bank) Ticks() int {
	return b.ticks
}

// ParseDuty parses operator input into a duty value.
func (b *Bank) ParseDuty(s string) (int, error) {
	s = strings.TrimSpace(s)
	duty, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a whole number", ErrInvalidDuty, s)
	}
	if err := b.check(duty); err != nil {
		return 0, err
	}
	return duty, nil
}

// SetDuty hands a new duty value to heater i. It takes effect at the start
// of the heater's next period.
func (b *Bank) SetDuty(i, duty int) error {
	if i < 0 || i >= len(b.drivers) {
		return fmt.Errorf("heater %d out of range", i)
	}
	if err := b.check(duty); err != nil {
		return err
	}
	log.Printf("%s duty set to %d/%d", b.names[i], duty, b.ticks)
	b.drivers[i].Set(duty)
	return nil
}

// SetDuties applies a comma separated list of duty values to the first
// heaters in order. Nothing is applied unless every value is valid.
func (b *Bank) SetDuties(list string) error {
	fields := strings.Split(list, ",")
	if len(fields) > len(b.drivers) {
		return fmt.Errorf("%w: %d values for %d heaters", ErrInvalidDuty, len(fields), len(b.drivers))
	}
	duties := make([]int, len(fields))
	for i, f := range fields {
		duty, err := b.ParseDuty(f)
		if err != nil {
			return fmt.Errorf("%s: %w", b.names[i], err)
		}
		duties[i] = duty
	}
	for i, duty := range duties {
		if err := b.SetDuty(i, duty); err != nil {
			return err
		}
	}
	return nil
}

// Duty returns the duty value heater i is currently running at.
func (b *Bank) Duty(i int) int {
	if i < 0 || i >= len(b.drivers) {
		return 0
	}
	return b.drivers[i].Duty()
}

func (b *Bank) check(duty int) error {
	if duty < 0 || duty > b.ticks {
		return fmt.Errorf("%w: %d not in [0, %d]", ErrInvalidDuty, duty, b.ticks)
	}
	return nil
}

// Run drives all heaters until ctx is cancelled. The first driver failure
// stops the others. Every heater output is low when Run returns.
func (b *Bank) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for i, d := range b.drivers {
		i, d := i, d
		g.Go(func() error {
			if err := d.Run(gctx); err != nil {
				log.Printf("%s stopped: %v", b.names[i], err)
				return err
			}
			return nil
		})
	}
	return g.Wait()
}

// Close stops every heater and releases its output.
func (b *Bank) Close() error {
	var errs []error
	for _, d := range b.drivers {
		if err := d.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
