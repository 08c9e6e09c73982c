// Package valve controls the pneumatic precursor valves.
package valve

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/itohio/goald/pkg/config"
	"github.com/itohio/goald/pkg/daq"
)

// ErrClosed is returned when a released valve set is used.
var ErrClosed = errors.New("valve: controller closed")

// Controller owns one digital output per valve.
type Controller struct {
	names  []string
	outs   []daq.DigitalOutput
	settle time.Duration
	sleep  func(time.Duration)

	mu     sync.Mutex
	open   []bool
	closed bool
}

// New opens a digital output for every configured valve. settle is the wait
// after a manual open or shut.
func New(dev daq.Device, valves []config.ChannelConfig, settle time.Duration) (*Controller, error) {
	c := &Controller{settle: settle, sleep: time.Sleep}
	for _, v := range valves {
		out, err := dev.OpenDigitalOutput(v.Channel)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("failed to open valve %s: %w", v.Name, err)
		}
		c.names = append(c.names, v.Name)
		c.outs = append(c.outs, out)
		c.open = append(c.open, false)
	}
	return c, nil
}

// Count returns the number of valves.
func (c *Controller) Count() int {
	return len(c.outs)
}

// Name returns the name of valve i.
func (c *Controller) Name(i int) string {
	if i < 0 || i >= len(c.names) {
		return fmt.Sprintf("valve %d", i)
	}
	return c.names[i]
}

// Names returns valve names in configuration order.
func (c *Controller) Names() []string {
	return append([]string(nil), c.names...)
}

// IsOpen reports the last level written to valve i.
func (c *Controller) IsOpen(i int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i < 0 || i >= len(c.open) {
		return false
	}
	return c.open[i]
}

// Open opens valve i and waits for it to settle.
func (c *Controller) Open(i int) error {
	if err := c.set(i, true); err != nil {
		return err
	}
	log.Printf("%s opened", c.Name(i))
	c.sleep(c.settle)
	return nil
}

// Shut closes valve i and waits for it to settle.
func (c *Controller) Shut(i int) error {
	if err := c.set(i, false); err != nil {
		return err
	}
	log.Printf("%s closed", c.Name(i))
	c.sleep(c.settle)
	return nil
}

// Pulse opens valve i for d. It blocks for the whole pulse.
func (c *Controller) Pulse(i int, d time.Duration) error {
	if err := c.set(i, true); err != nil {
		return err
	}
	c.sleep(d)
	if err := c.set(i, false); err != nil {
		return err
	}
	log.Printf("%s pulsed for %v", c.Name(i), d)
	return nil
}

func (c *Controller) set(i int, level bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if i < 0 || i >= len(c.outs) {
		return fmt.Errorf("valve %d out of range", i)
	}
	if err := write(c.outs[i], level); err != nil {
		return fmt.Errorf("%s: %w", c.names[i], err)
	}
	c.open[i] = level
	return nil
}

// CloseAll drives every valve low. Every valve is attempted even if some
// fail. On a released controller it does nothing.
func (c *Controller) CloseAll() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	return c.closeAll()
}

func (c *Controller) closeAll() error {
	var errs []error
	for i, out := range c.outs {
		if err := write(out, false); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", c.names[i], err))
			continue
		}
		c.open[i] = false
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	log.Printf("All valves closed")
	return nil
}

// Close closes every valve and releases the outputs. Closing twice is a no-op.
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	errs := []error{c.closeAll()}
	for _, out := range c.outs {
		errs = append(errs, out.Close())
	}
	return errors.Join(errs...)
}

func write(out daq.DigitalOutput, level bool) error {
	if err := out.Start(); err != nil {
		return err
	}
	return errors.Join(out.Write(level), out.Stop())
}
