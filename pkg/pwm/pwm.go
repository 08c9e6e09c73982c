// Package pwm drives a digital output as a slow software square wave.
//
// A Driver divides each period into a fixed number of ticks and holds the
// output high for the first duty ticks. New duty values are handed over
// through a single slot queue and picked up at the start of the next period.
package pwm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/itohio/goald/pkg/config"
	"github.com/itohio/goald/pkg/daq"
)

// ErrClosed is returned when a closed driver is run again.
var ErrClosed = errors.New("pwm: driver closed")

// State is the life cycle stage of a Driver.
type State int32

const (
	Idle State = iota
	Running
	Draining
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Draining:
		return "draining"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Driver is a software PWM on a single digital output.
type Driver struct {
	out   daq.DigitalOutput
	ticks int
	tick  time.Duration
	sleep func(time.Duration)

	queue chan int
	qmu   sync.Mutex
	duty  atomic.Int64

	mu       sync.Mutex
	state    State
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	releaseOnce sync.Once
	releaseErr  error
}

// New creates a driver for out. The output is owned by the driver from now
// on and released when the driver closes.
func New(out daq.DigitalOutput, cfg config.DutyCycleConfig) *Driver {
	return &Driver{
		out:   out,
		ticks: cfg.TicksPerCycle,
		tick:  cfg.Tick(),
		sleep: time.Sleep,
		queue: make(chan int, 1),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
}

// Name returns the name of the driven output.
func (d *Driver) Name() string {
	return d.out.Name()
}

// Ticks returns the number of ticks per period.
func (d *Driver) Ticks() int {
	return d.ticks
}

// Set queues a new duty value. A value that was not yet picked up is
// replaced. Set never blocks.
func (d *Driver) Set(duty int) {
	d.qmu.Lock()
	defer d.qmu.Unlock()
	select {
	case <-d.queue:
	default:
	}
	d.queue <- duty
}

// Duty returns the duty value of the current period.
func (d *Driver) Duty() int {
	return int(d.duty.Load())
}

// State returns the current life cycle state.
func (d *Driver) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Run drives the output until ctx is cancelled or Close is called. The
// running period is always completed; the output is then forced low and
// released.
func (d *Driver) Run(ctx context.Context) (err error) {
	d.mu.Lock()
	switch d.state {
	case Idle:
		d.state = Running
	case Closed:
		d.mu.Unlock()
		return fmt.Errorf("%s: %w", d.out.Name(), ErrClosed)
	default:
		d.mu.Unlock()
		return fmt.Errorf("%s: already running", d.out.Name())
	}
	d.mu.Unlock()

	defer close(d.done)
	defer func() {
		d.setState(Draining)
		err = errors.Join(err, d.release())
		d.setState(Closed)
	}()

	if err := d.out.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", d.out.Name(), err)
	}

	duty := 0
	high := false
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-d.stop:
			return nil
		default:
		}

		select {
		case duty = <-d.queue:
			d.duty.Store(int64(duty))
		default:
		}

		for i := 0; i < d.ticks; i++ {
			level := i < duty
			if level != high {
				if err := d.out.Write(level); err != nil {
					return fmt.Errorf("failed to write %s: %w", d.out.Name(), err)
				}
				high = level
			}
			d.sleep(d.tick)
		}
	}
}

// Close stops a running driver and waits for it to release the output, or
// releases the output directly if Run was never called. Closing twice is a
// no-op.
func (d *Driver) Close() error {
	d.mu.Lock()
	state := d.state
	if state == Idle {
		d.state = Closed
	}
	d.mu.Unlock()

	switch state {
	case Idle:
		err := d.release()
		close(d.done)
		return err
	case Running, Draining:
		d.stopOnce.Do(func() { close(d.stop) })
		<-d.done
	}
	return d.releaseErr
}

// Done is closed once the output has been released.
func (d *Driver) Done() <-chan struct{} {
	return d.done
}

// release forces the output low and closes it, exactly once.
func (d *Driver) release() error {
	d.releaseOnce.Do(func() {
		d.duty.Store(0)
		d.releaseErr = errors.Join(
			d.out.Write(false),
			d.out.Stop(),
			d.out.Close(),
		)
	})
	return d.releaseErr
}

func (d *Driver) setState(s State) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state = s
}
