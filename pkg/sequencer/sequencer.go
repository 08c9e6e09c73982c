// Package sequencer replays recipes on the valve set.
package sequencer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/itohio/goald/pkg/config"
	"github.com/itohio/goald/pkg/recipe"
)

var (
	// ErrBusy is returned when a run is requested while another is active.
	ErrBusy = errors.New("sequencer: run already in progress")
	// ErrInvalidLoops is returned for loop counts below one.
	ErrInvalidLoops = errors.New("invalid loop count")
)

// Valves is the valve set a recipe is executed on.
type Valves interface {
	Count() int
	Name(i int) string
	Pulse(i int, d time.Duration) error
	CloseAll() error
}

// Progress describes the state of a run.
type Progress struct {
	Recipe  string
	Loops   int // Requested loops
	Loop    int // Current loop, 1 based
	Steps   int
	Step    int // Current step, 1 based
	Running bool
	Err     error // Set when a run ends with an error
}

func (p Progress) String() string {
	if !p.Running {
		return "idle"
	}
	return fmt.Sprintf("loop %d/%d step %d/%d", p.Loop, p.Loops, p.Step, p.Steps)
}

// Sequencer executes one recipe at a time.
type Sequencer struct {
	valves    Valves
	threshold float64
	sleep     func(ctx context.Context, d time.Duration) error

	mu        sync.Mutex
	progress  Progress
	callbacks []func(Progress)
}

// New creates a sequencer bound to valves.
func New(valves Valves, cfg config.SequencerConfig) *Sequencer {
	return &Sequencer{
		valves:    valves,
		threshold: cfg.PulseThreshold,
		sleep:     sleepContext,
	}
}

// ParseLoops parses an operator supplied loop count.
func ParseLoops(s string) (int, error) {
	s = strings.TrimSpace(s)
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a whole number", ErrInvalidLoops, s)
	}
	if n < 1 {
		return 0, fmt.Errorf("%w: %d, need at least 1", ErrInvalidLoops, n)
	}
	return n, nil
}

// OnProgress registers a callback invoked from the run goroutine whenever
// the run advances.
func (s *Sequencer) OnProgress(cb func(Progress)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callbacks = append(s.callbacks, cb)
}

// Progress returns a copy of the current run state.
func (s *Sequencer) Progress() Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progress
}

// Running reports whether a run is active.
func (s *Sequencer) Running() bool {
	return s.Progress().Running
}

// Run executes loops repetitions of r. All valves are closed when Run
// returns, whatever the outcome. Cancelling ctx stops the run at the next
// step boundary or before the next pulse; a pulse in flight is completed.
func (s *Sequencer) Run(ctx context.Context, r *recipe.Recipe, loops int) (err error) {
	if loops < 1 {
		return fmt.Errorf("%w: %d, need at least 1", ErrInvalidLoops, loops)
	}
	if r == nil {
		return fmt.Errorf("%w: no recipe loaded", recipe.ErrInvalid)
	}
	if err := r.Validate(s.valves.Count()); err != nil {
		return err
	}

	s.mu.Lock()
	if s.progress.Running {
		s.mu.Unlock()
		return ErrBusy
	}
	s.progress = Progress{Recipe: r.Name, Loops: loops, Steps: len(r.Steps), Running: true}
	s.mu.Unlock()

	log.Printf("Starting run of %q: %d steps, %d loops", r.Name, len(r.Steps), loops)
	start := time.Now()

	defer func() {
		if cerr := s.valves.CloseAll(); cerr != nil {
			err = errors.Join(err, fmt.Errorf("failed to close valves: %w", cerr))
		}
		switch {
		case err == nil:
			log.Printf("Run of %q finished in %v", r.Name, time.Since(start).Round(time.Millisecond))
		case errors.Is(err, context.Canceled):
			log.Printf("Run of %q aborted", r.Name)
		default:
			log.Printf("Run of %q failed: %v", r.Name, err)
		}
		s.update(func(p *Progress) {
			p.Running = false
			p.Err = err
		})
	}()

	for loop := 1; loop <= loops; loop++ {
		for j, step := range r.Steps {
			if err := ctx.Err(); err != nil {
				return err
			}
			s.update(func(p *Progress) {
				p.Loop = loop
				p.Step = j + 1
			})
			log.Printf("Loop %d/%d step %d/%d", loop, loops, j+1, len(r.Steps))

			if err := s.runStep(ctx, j, step); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Sequencer) runStep(ctx context.Context, j int, step recipe.Step) error {
	for ch, v := range step.Setpoints {
		if step.Ignored(ch) {
			continue
		}
		// The first step pulses every listed valve so each loop starts
		// from a known state.
		if j > 0 && v <= s.threshold {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		log.Printf("Pulsing %s for %vs", s.valves.Name(ch), v)
		if err := s.valves.Pulse(ch, step.Pulse(ch)); err != nil {
			return fmt.Errorf("step %d: %w", j+1, err)
		}
	}

	log.Printf("Holding for %vs", step.Hold)
	return s.sleep(ctx, step.HoldDuration())
}

func (s *Sequencer) update(fn func(p *Progress)) {
	s.mu.Lock()
	fn(&s.progress)
	p := s.progress
	callbacks := make([]func(Progress), len(s.callbacks))
	copy(callbacks, s.callbacks)
	s.mu.Unlock()

	for _, cb := range callbacks {
		cb(p)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
