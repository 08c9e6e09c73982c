// Command aldrun executes an ALD recipe without the GUI.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/itohio/goald/pkg/config"
	"github.com/itohio/goald/pkg/reactor"
	"github.com/itohio/goald/pkg/sequencer"
	"github.com/theckman/yacspin"
)

func main() {
	var (
		configFlag = flag.String("config", "config.yaml", "Configuration file path")
		recipeFlag = flag.String("recipe", "", "Recipe CSV file")
		loopsFlag  = flag.Int("loops", 1, "Number of times the recipe is repeated")
		portFlag   = flag.String("p", "", "Serial port override (e.g., COM3 or /dev/ttyACM0)")
		mockFlag   = flag.Bool("mock", false, "Use simulated reactor instead of serial port")
		dutyFlag   = flag.String("duty", "", "Comma separated heater duty values, e.g. 0,50,100")
		powerFlag  = flag.Bool("power", false, "Switch main power on for the run")
		warmFlag   = flag.Duration("warmup", 0, "Time to let heaters settle before the first step")
	)
	flag.Parse()

	if err := run(*configFlag, *recipeFlag, *loopsFlag, *portFlag, *mockFlag, *dutyFlag, *powerFlag, *warmFlag); err != nil {
		if errors.Is(err, context.Canceled) {
			log.Printf("Aborted")
			os.Exit(130)
		}
		log.Fatalf("%v", err)
	}
}

func run(configPath, recipePath string, loops int, port string, mock bool, duties string, power bool, warmup time.Duration) error {
	if recipePath == "" {
		return errors.New("no recipe given, use -recipe")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if port != "" {
		cfg.Serial.Port = port
	}
	// The spinner owns the terminal, samples go to the log file only.
	if cfg.Log.File == "" {
		cfg.Log.Samples = false
	}

	logFile, err := reactor.SetupLogging(cfg.Log)
	if err != nil {
		return err
	}
	defer logFile.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	r, err := reactor.Open(reactor.NewDevice(cfg, mock), cfg)
	if err != nil {
		return fmt.Errorf("failed to open reactor: %w", err)
	}
	defer func() {
		if err := r.Close(); err != nil {
			log.Printf("Shutdown: %v", err)
		}
	}()

	rec, err := r.LoadRecipe(recipePath)
	if err != nil {
		return err
	}
	if loops < 1 {
		return fmt.Errorf("%w: %d", sequencer.ErrInvalidLoops, loops)
	}

	if duties != "" {
		if err := r.Heaters.SetDuties(duties); err != nil {
			return err
		}
	}
	r.Start(ctx)

	if power {
		if err := r.Power.Set(true); err != nil {
			return err
		}
	}

	spinner, err := yacspin.New(yacspin.Config{
		Frequency:         100 * time.Millisecond,
		CharSet:           yacspin.CharSets[14],
		Suffix:            " ",
		SuffixAutoColon:   true,
		Message:           "connecting",
		StopCharacter:     "✓",
		StopColors:        []string{"fgGreen"},
		StopFailCharacter: "✗",
		StopFailColors:    []string{"fgRed"},
	})
	if err != nil {
		return fmt.Errorf("failed to create spinner: %w", err)
	}
	if err := spinner.Start(); err != nil {
		return fmt.Errorf("failed to start spinner: %w", err)
	}

	if warmup > 0 {
		spinner.Suffix(" warming up")
		spinner.Message(warmup.String())
		select {
		case <-ctx.Done():
			spinner.StopFailMessage("aborted during warm-up")
			spinner.StopFail()
			return ctx.Err()
		case <-time.After(warmup):
		}
	}

	spinner.Suffix(" " + rec.Name)
	r.Sequencer.OnProgress(func(p sequencer.Progress) {
		spinner.Message(p.String())
	})
	estimate := time.Duration(loops) * rec.Duration(cfg.Sequencer.PulseThreshold)
	log.Printf("Running %q for %d loops, about %v", rec.Name, loops, estimate.Round(time.Second))

	start := time.Now()
	if err := r.Run(ctx, rec, loops); err != nil {
		spinner.StopFailMessage(err.Error())
		spinner.StopFail()
		return err
	}
	spinner.StopMessage(fmt.Sprintf("%d loops in %v", loops, time.Since(start).Round(time.Millisecond)))
	return spinner.Stop()
}
