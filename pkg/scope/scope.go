// Package scope provides a fyne widget plotting chamber pressure on a log
// axis together with the thermocouple temperatures.
package scope

import (
	"image/color"
	"sync"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/widget"
	"github.com/itohio/goald/pkg/config"
	"github.com/itohio/goald/pkg/sample"
)

// ScopeWidget is a custom Fyne widget that displays reactor trends.
type ScopeWidget struct {
	widget.BaseWidget

	cfg   config.PlotConfig
	names []string // Thermocouple names

	// Data (protected by mu)
	mu             sync.RWMutex
	displaySamples []sample.Sample
	pressure       logAxis
	temperature    linearAxis
	xMin, xMax     time.Time
	hidden         map[int]bool // Thermocouples not drawn

	maxDisplayPoints int
}

// New creates a new ScopeWidget instance.
func New(cfg config.PlotConfig, thermocouples []string) *ScopeWidget {
	s := &ScopeWidget{
		cfg:              cfg,
		names:            append([]string(nil), thermocouples...),
		displaySamples:   make([]sample.Sample, 0, 1000),
		pressure:         newLogAxis(cfg.YMin, cfg.YMax),
		temperature:      autoLinear(nil),
		hidden:           make(map[int]bool),
		maxDisplayPoints: 1000,
	}
	s.updateScale()
	s.ExtendBaseWidget(s)
	s.Refresh()
	return s
}

// SetVisible shows or hides thermocouple i.
func (s *ScopeWidget) SetVisible(i int, visible bool) {
	s.mu.Lock()
	if visible {
		delete(s.hidden, i)
	} else {
		s.hidden[i] = true
	}
	s.mu.Unlock()
	s.Refresh()
}

// UpdateData updates the widget with new samples.
// This should be called from the trend callback using fyne.Do().
func (s *ScopeWidget) UpdateData(samples []sample.Sample) {
	s.mu.Lock()
	s.displaySamples = sample.DownsampleSamples(s.displaySamples, samples, s.maxDisplayPoints)
	s.updateScale()
	s.mu.Unlock()

	s.Refresh()
}

// updateScale recalculates axes from the display samples. Caller holds mu.
func (s *ScopeWidget) updateScale() {
	s.pressure = newLogAxis(s.cfg.YMin, s.cfg.YMax)
	if len(s.displaySamples) == 0 {
		s.temperature = autoLinear(nil)
		s.xMin = time.Now()
		s.xMax = s.xMin.Add(s.cfg.Window)
		return
	}

	var temps []float64
	pMin, pMax := s.displaySamples[0].Pressure, s.displaySamples[0].Pressure
	for _, smp := range s.displaySamples {
		if smp.Pressure < pMin {
			pMin = smp.Pressure
		}
		if smp.Pressure > pMax {
			pMax = smp.Pressure
		}
		for i, t := range smp.Temperatures {
			if !s.hidden[i] {
				temps = append(temps, t)
			}
		}
	}
	s.pressure = s.pressure.extend(pMin, pMax)
	s.temperature = autoLinear(temps)

	s.xMin = s.displaySamples[0].Timestamp
	s.xMax = s.displaySamples[len(s.displaySamples)-1].Timestamp
	if s.xMax.Sub(s.xMin) < s.cfg.Window {
		s.xMax = s.xMin.Add(s.cfg.Window)
	}
}

// CreateRenderer creates the widget renderer.
func (s *ScopeWidget) CreateRenderer() fyne.WidgetRenderer {
	grid := canvas.NewRectangle(color.RGBA{R: 20, G: 20, B: 20, A: 255}) // Dark background
	return &scopeRenderer{
		scope:   s,
		grid:    grid,
		objects: []fyne.CanvasObject{grid},
	}
}
