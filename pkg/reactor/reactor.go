// Package reactor wires the DAQ device, valves, heaters, main power switch,
// recipe sequencer and sensor sampling into one unit with an orderly
// shutdown.
package reactor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/itohio/goald/pkg/config"
	"github.com/itohio/goald/pkg/daq"
	"github.com/itohio/goald/pkg/heater"
	"github.com/itohio/goald/pkg/power"
	"github.com/itohio/goald/pkg/recipe"
	"github.com/itohio/goald/pkg/sample"
	"github.com/itohio/goald/pkg/sequencer"
	"github.com/itohio/goald/pkg/trend"
	"github.com/itohio/goald/pkg/valve"
)

// allLow is implemented by devices that can drop every line at once.
type allLow interface {
	AllLow() error
}

// NewDevice returns the simulated device when mock is set, the serial
// bridge otherwise.
func NewDevice(cfg *config.Config, mock bool) daq.Device {
	if mock {
		return daq.NewMock(cfg)
	}
	return daq.New(cfg.Serial)
}

// Reactor owns every hardware channel of the system.
type Reactor struct {
	cfg *config.Config
	dev daq.Device

	Power     *power.Switch
	Valves    *valve.Controller
	Heaters   *heater.Bank
	Sequencer *sequencer.Sequencer
	Trend     *trend.Trend

	poller *sample.Poller

	cancel       context.CancelFunc
	heatersDone  chan error
	samplingDone chan struct{}

	runMu     sync.Mutex
	runCancel context.CancelFunc
	runDone   chan struct{}

	closeOnce sync.Once
	closeErr  error
}

// Open connects dev if needed and opens every configured channel. Main
// power is forced off.
func Open(dev daq.Device, cfg *config.Config) (*Reactor, error) {
	if !dev.IsConnected() {
		if err := dev.Connect(); err != nil {
			return nil, err
		}
	}
	if d, ok := dev.(allLow); ok {
		if err := d.AllLow(); err != nil {
			dev.Close()
			return nil, fmt.Errorf("failed to reset outputs: %w", err)
		}
	}

	r := &Reactor{cfg: cfg, dev: dev, Trend: trend.New(cfg.Plot.Window)}
	fail := func(err error) (*Reactor, error) {
		r.release()
		return nil, err
	}

	var err error
	if r.Power, err = power.New(dev, cfg.MainPower.Name, cfg.MainPower.Channel); err != nil {
		return fail(err)
	}
	if r.Valves, err = valve.New(dev, cfg.Valves, cfg.Sequencer.SettleDelay); err != nil {
		return fail(err)
	}
	if err := r.Valves.CloseAll(); err != nil {
		return fail(err)
	}
	if r.Heaters, err = heater.NewBank(dev, cfg.Heaters, cfg.DutyCycle); err != nil {
		return fail(err)
	}
	if r.poller, err = sample.NewPoller(dev, cfg.Sensors); err != nil {
		return fail(err)
	}
	r.Sequencer = sequencer.New(r.Valves, cfg.Sequencer)

	log.Printf("Reactor ready: %d valves, %d heaters, %d thermocouples",
		r.Valves.Count(), r.Heaters.Len(), len(cfg.Sensors.Thermocouples))
	return r, nil
}

// Start runs the heater drivers and the sampling chain until Close.
func (r *Reactor) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)

	r.heatersDone = make(chan error, 1)
	go func() {
		err := r.Heaters.Run(ctx)
		if err != nil {
			log.Printf("Heaters stopped: %v", err)
		}
		r.heatersDone <- err
	}()

	raw := r.poller.Samples(ctx)
	var samples <-chan sample.Sample
	if n := r.cfg.Sensors.AverageSamples; n > 1 {
		samples = sample.NewAveragingConverter(r.cfg.Sensors, n, sample.DefaultBufferSize)(raw)
	} else {
		samples = sample.NewConverter(r.cfg.Sensors, sample.DefaultBufferSize)(raw)
	}
	if r.cfg.Log.Samples {
		samples = sample.NewLogStage(r.cfg.Sensors, sample.DefaultBufferSize)(samples)
	}

	r.samplingDone = make(chan struct{})
	r.Trend.ResetShutdown()
	go func() {
		defer close(r.samplingDone)
		r.Trend.ProcessSamples(samples)
	}()
}

// Channels returns the number of recipe channel columns.
func (r *Reactor) Channels() int {
	return r.Valves.Count()
}

// LoadRecipe loads a recipe matching the configured valves.
func (r *Reactor) LoadRecipe(path string) (*recipe.Recipe, error) {
	return recipe.Load(path, r.Channels())
}

// Run executes a recipe and blocks until it finishes.
func (r *Reactor) Run(ctx context.Context, rec *recipe.Recipe, loops int) error {
	return r.Sequencer.Run(ctx, rec, loops)
}

// StartRun executes a recipe in the background. done is called with the
// outcome once all valves are closed.
func (r *Reactor) StartRun(rec *recipe.Recipe, loops int, done func(error)) error {
	r.runMu.Lock()
	defer r.runMu.Unlock()

	if r.runDone != nil {
		select {
		case <-r.runDone:
		default:
			return sequencer.ErrBusy
		}
	}
	if loops < 1 {
		return fmt.Errorf("%w: %d, need at least 1", sequencer.ErrInvalidLoops, loops)
	}
	if rec == nil {
		return fmt.Errorf("%w: no recipe loaded", recipe.ErrInvalid)
	}
	if err := rec.Validate(r.Channels()); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	finished := make(chan struct{})
	r.runCancel = cancel
	r.runDone = finished

	go func() {
		defer close(finished)
		defer cancel()
		err := r.Sequencer.Run(ctx, rec, loops)
		if done != nil {
			done(err)
		}
	}()
	return nil
}

// AbortRun cancels a background run and waits for it to close the valves.
func (r *Reactor) AbortRun() {
	r.runMu.Lock()
	cancel, finished := r.runCancel, r.runDone
	r.runMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-finished
}

// Close shuts everything down in order: recipe run, heaters, valves, main
// power, sensors, device. Closing twice is a no-op.
func (r *Reactor) Close() error {
	r.closeOnce.Do(func() {
		log.Printf("Shutting down reactor")
		r.AbortRun()

		var errs []error
		if r.cancel != nil {
			r.cancel()
			if err := <-r.heatersDone; err != nil && !errors.Is(err, context.Canceled) {
				errs = append(errs, err)
			}
			<-r.samplingDone
		}
		errs = append(errs, r.release())
		r.closeErr = errors.Join(errs...)
	})
	return r.closeErr
}

// release closes whatever was opened, heaters first and device last.
func (r *Reactor) release() error {
	var errs []error
	if r.Heaters != nil {
		errs = append(errs, r.Heaters.Close())
	}
	if r.Valves != nil {
		errs = append(errs, r.Valves.Close())
	}
	if r.Power != nil {
		errs = append(errs, r.Power.Close())
	}
	if r.poller != nil {
		errs = append(errs, r.poller.Close())
	}
	errs = append(errs, r.dev.Close())
	return errors.Join(errs...)
}
