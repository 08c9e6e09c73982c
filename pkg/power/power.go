// Package power controls the main power relay of the reactor.
package power

import (
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/itohio/goald/pkg/daq"
)

// ErrClosed is returned when a released switch is used.
var ErrClosed = errors.New("power: switch closed")

// Switch is a single digital output gating the reactor supply.
type Switch struct {
	name string
	out  daq.DigitalOutput

	mu     sync.Mutex
	on     bool
	closed bool
}

// New opens the main power line and forces it off.
func New(dev daq.Device, name, channel string) (*Switch, error) {
	out, err := dev.OpenDigitalOutput(channel)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", name, err)
	}
	s := &Switch{name: name, out: out}
	if err := s.write(false); err != nil {
		out.Close()
		return nil, fmt.Errorf("failed to switch off %s: %w", name, err)
	}
	return s, nil
}

// State returns the level last written to the line. A write that reached
// the line counts even if stopping the output afterwards failed.
func (s *Switch) State() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.on
}

// Set switches the power on or off.
func (s *Switch) Set(on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if err := s.write(on); err != nil {
		return fmt.Errorf("%s: %w", s.name, err)
	}
	log.Printf("%s %s", s.name, onOff(on))
	return nil
}

// Toggle inverts the power state. The returned state is always the level
// of the line, so on error it tells whether the line flipped.
func (s *Switch) Toggle() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return s.on, ErrClosed
	}
	on := !s.on
	if err := s.write(on); err != nil {
		return s.on, fmt.Errorf("%s: %w", s.name, err)
	}
	log.Printf("%s %s", s.name, onOff(on))
	return on, nil
}

// Close switches the power off and releases the line. Closing twice is a no-op.
func (s *Switch) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return errors.Join(s.write(false), s.out.Close())
}

// write sets the line. s.on follows every successful Write, including one
// whose Stop fails. Caller holds mu, or owns s exclusively.
func (s *Switch) write(on bool) error {
	if err := s.out.Start(); err != nil {
		return err
	}
	if err := s.out.Write(on); err != nil {
		return errors.Join(err, s.out.Stop())
	}
	s.on = on
	return s.out.Stop()
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}
