// Package recipe loads ALD step tables.
//
// A recipe is a CSV file with one row per step. Each row holds one setpoint
// per valve channel, in configuration order, followed by the hold duration.
// All values are seconds. A setpoint of -1 leaves the channel untouched for
// that step. An optional first row of column names is accepted.
package recipe

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Ignore marks a channel that is skipped for a step.
const Ignore = -1.0

// maxSeconds is the longest value that still fits a time.Duration.
const maxSeconds = float64(math.MaxInt64 / int64(time.Second))

// ErrInvalid is returned for recipes that cannot be executed.
var ErrInvalid = errors.New("invalid recipe")

// Step is one row of a recipe.
type Step struct {
	Setpoints []float64 // Pulse width per channel in seconds, or Ignore
	Hold      float64   // Seconds to wait after the pulses
}

// Ignored reports whether channel ch is skipped in this step.
func (s Step) Ignored(ch int) bool {
	return s.Setpoints[ch] == Ignore
}

// Pulse returns the setpoint of channel ch as a duration.
func (s Step) Pulse(ch int) time.Duration {
	return seconds(s.Setpoints[ch])
}

// HoldDuration returns the hold as a duration.
func (s Step) HoldDuration() time.Duration {
	return seconds(s.Hold)
}

// Recipe is an ordered, immutable list of steps.
type Recipe struct {
	Name    string
	Columns []string // Column names from the header row, if any
	Steps   []Step
}

// Channels returns the number of channel columns.
func (r *Recipe) Channels() int {
	if len(r.Steps) == 0 {
		return 0
	}
	return len(r.Steps[0].Setpoints)
}

// Duration estimates one loop of the recipe, assuming every pulse above
// threshold (and every non-ignored pulse of the first step) is issued.
func (r *Recipe) Duration(threshold float64) time.Duration {
	var total time.Duration
	for j, s := range r.Steps {
		for ch, v := range s.Setpoints {
			if s.Ignored(ch) {
				continue
			}
			if j == 0 || v > threshold {
				total += seconds(v)
			}
		}
		total += s.HoldDuration()
	}
	return total
}

// Validate checks that every step addresses exactly channels channels and
// holds only non-negative values or the ignore sentinel.
func (r *Recipe) Validate(channels int) error {
	if len(r.Steps) == 0 {
		return fmt.Errorf("%w: no steps", ErrInvalid)
	}
	for j, s := range r.Steps {
		if len(s.Setpoints) != channels {
			return fmt.Errorf("%w: step %d has %d channel columns, want %d", ErrInvalid, j+1, len(s.Setpoints), channels)
		}
		for ch, v := range s.Setpoints {
			if v < 0 && v != Ignore {
				return fmt.Errorf("%w: step %d column %d: negative setpoint %v", ErrInvalid, j+1, ch+1, v)
			}
			if v > maxSeconds {
				return fmt.Errorf("%w: step %d column %d: setpoint %v too long", ErrInvalid, j+1, ch+1, v)
			}
		}
		if s.Hold < 0 {
			return fmt.Errorf("%w: step %d: negative hold %v", ErrInvalid, j+1, s.Hold)
		}
		if s.Hold > maxSeconds {
			return fmt.Errorf("%w: step %d: hold %v too long", ErrInvalid, j+1, s.Hold)
		}
	}
	return nil
}

// Load reads and validates a recipe file for the given number of channels.
func Load(path string, channels int) (*Recipe, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open recipe: %w", err)
	}
	defer f.Close()

	r, err := Parse(f, channels)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	r.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return r, nil
}

// Parse reads and validates a recipe from CSV.
func Parse(in io.Reader, channels int) (*Recipe, error) {
	cr := csv.NewReader(in)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.Comment = '#'

	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	r := &Recipe{}
	for i, row := range rows {
		if isBlank(row) {
			continue
		}
		if i == 0 && isHeader(row) {
			r.Columns = trimAll(row)
			continue
		}
		step, err := parseRow(row)
		if err != nil {
			return nil, fmt.Errorf("%w: row %d: %v", ErrInvalid, i+1, err)
		}
		r.Steps = append(r.Steps, step)
	}

	if err := r.Validate(channels); err != nil {
		return nil, err
	}
	if r.Columns != nil && len(r.Columns) != channels+1 {
		return nil, fmt.Errorf("%w: header has %d columns, want %d", ErrInvalid, len(r.Columns), channels+1)
	}
	return r, nil
}

func parseRow(row []string) (Step, error) {
	if len(row) < 2 {
		return Step{}, fmt.Errorf("need at least one channel and a hold column, got %d columns", len(row))
	}
	values := make([]float64, len(row))
	for k, cell := range row {
		v, err := strconv.ParseFloat(strings.TrimSpace(cell), 64)
		if err != nil {
			return Step{}, fmt.Errorf("column %d: %q is not a number", k+1, cell)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Step{}, fmt.Errorf("column %d: %q is not a finite number", k+1, cell)
		}
		values[k] = v
	}
	return Step{
		Setpoints: values[:len(values)-1],
		Hold:      values[len(values)-1],
	}, nil
}

func isHeader(row []string) bool {
	for _, cell := range row {
		if _, err := strconv.ParseFloat(strings.TrimSpace(cell), 64); err == nil {
			return false
		}
	}
	return true
}

func isBlank(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

func trimAll(row []string) []string {
	out := make([]string, len(row))
	for i, cell := range row {
		out[i] = strings.TrimSpace(cell)
	}
	return out
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}
