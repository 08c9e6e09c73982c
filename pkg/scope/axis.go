package scope

import (
	"strconv"
	"time"

	"github.com/chewxy/math32"
)

// logAxis maps positive values onto a base 10 logarithmic axis.
type logAxis struct {
	lo, hi float32 // log10 of the axis limits
}

func newLogAxis(min, max float64) logAxis {
	if min <= 0 {
		min = 1e-6
	}
	if max <= min {
		max = min * 10
	}
	return logAxis{lo: math32.Log10(float32(min)), hi: math32.Log10(float32(max))}
}

// extend widens the axis so every value in [min, max] is visible.
func (a logAxis) extend(min, max float64) logAxis {
	if min > 0 {
		a.lo = math32.Min(a.lo, math32.Log10(float32(min)))
	}
	if max > 0 {
		a.hi = math32.Max(a.hi, math32.Log10(float32(max)))
	}
	return a
}

// fraction returns the position of v on the axis, 0 at the bottom and 1 at
// the top. Non-positive values map to the bottom.
func (a logAxis) fraction(v float64) float32 {
	if v <= 0 {
		return 0
	}
	f := (math32.Log10(float32(v)) - a.lo) / (a.hi - a.lo)
	return clamp01(f)
}

// ticks returns the 1..9 multiples of every decade inside the axis.
func (a logAxis) ticks() []float64 {
	var out []float64
	const eps = 1e-4
	for d := math32.Floor(a.lo); d <= math32.Ceil(a.hi); d++ {
		base := math32.Pow(10, d)
		for m := float32(1); m < 10; m++ {
			v := m * base
			l := math32.Log10(v)
			if l >= a.lo-eps && l <= a.hi+eps {
				out = append(out, float64(v))
			}
		}
	}
	return out
}

// linearAxis maps values linearly between min and max.
type linearAxis struct {
	min, max float64
}

// autoLinear fits an axis with a 10% margin around the values.
func autoLinear(values []float64) linearAxis {
	if len(values) == 0 {
		return linearAxis{min: 0, max: 100}
	}
	min, max := values[0], values[0]
	for _, v := range values {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	span := max - min
	if span == 0 {
		span = 1
	}
	margin := span * 0.1
	return linearAxis{min: min - margin, max: max + margin}
}

func (a linearAxis) fraction(v float64) float32 {
	if a.max == a.min {
		return 0
	}
	return clamp01(float32((v - a.min) / (a.max - a.min)))
}

func clamp01(f float32) float32 {
	if math32.IsNaN(f) {
		return 0
	}
	return math32.Max(0, math32.Min(1, f))
}

func formatPressure(v float64) string {
	return strconv.FormatFloat(v, 'g', 3, 64)
}

func formatTemperature(v float64) string {
	return strconv.FormatFloat(v, 'f', 0, 64) + "°C"
}

func formatTime(d time.Duration) string {
	if d < time.Second {
		return strconv.FormatFloat(d.Seconds(), 'f', 2, 64) + "s"
	}
	return strconv.FormatFloat(d.Seconds(), 'f', 0, 64) + "s"
}
