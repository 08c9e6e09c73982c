package scope

import (
	"image/color"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"
	"github.com/itohio/goald/pkg/sample"
)

var (
	gridColor     = color.RGBA{R: 40, G: 40, B: 40, A: 255}
	labelColor    = color.RGBA{R: 150, G: 150, B: 150, A: 255}
	pressureColor = color.RGBA{R: 255, G: 165, B: 0, A: 255} // Orange

	temperatureColors = []color.RGBA{
		{R: 100, G: 200, B: 255, A: 255},
		{R: 120, G: 220, B: 120, A: 255},
		{R: 230, G: 90, B: 90, A: 255},
		{R: 200, G: 120, B: 230, A: 255},
		{R: 240, G: 230, B: 110, A: 255},
		{R: 90, G: 220, B: 200, A: 255},
		{R: 200, G: 200, B: 200, A: 255},
	}
)

// scopeRenderer renders the scope widget.
type scopeRenderer struct {
	scope *ScopeWidget

	grid    *canvas.Rectangle
	objects []fyne.CanvasObject

	lastSize fyne.Size
}

// plotArea is the rectangle inside the axis labels.
type plotArea struct {
	x, y, w, h float32
}

func (p plotArea) xAt(t, xMin, xMax time.Time) float32 {
	span := xMax.Sub(xMin).Seconds()
	if span <= 0 {
		return p.x
	}
	return p.x + clamp01(float32(t.Sub(xMin).Seconds()/span))*p.w
}

func (p plotArea) yAt(fraction float32) float32 {
	return p.y + p.h - fraction*p.h
}

// MinSize returns the minimum size of the widget.
func (r *scopeRenderer) MinSize() fyne.Size {
	return fyne.NewSize(400, 300)
}

// Layout arranges the widget components.
func (r *scopeRenderer) Layout(size fyne.Size) {
	r.grid.Resize(size)

	if r.lastSize != size {
		r.lastSize = size
		r.scope.BaseWidget.Refresh()
	}
}

// Refresh updates the widget display.
func (r *scopeRenderer) Refresh() {
	s := r.scope
	s.mu.RLock()
	samples := s.displaySamples
	pressure := s.pressure
	temperature := s.temperature
	xMin, xMax := s.xMin, s.xMax
	hidden := make(map[int]bool, len(s.hidden))
	for k, v := range s.hidden {
		hidden[k] = v
	}
	s.mu.RUnlock()

	size := s.Size()
	if size.Width == 0 || size.Height == 0 {
		return
	}

	r.objects = []fyne.CanvasObject{r.grid}

	area := plotArea{x: 60, y: 20, w: size.Width - 60 - 60, h: size.Height - 20 - 40}

	r.drawPressureGrid(area, pressure)
	r.drawTemperatureLabels(area, temperature)
	r.drawTimeGrid(area, xMin, xMax)

	if len(samples) > 1 {
		for i := range s.names {
			if hidden[i] {
				continue
			}
			r.drawTemperatureLine(area, samples, i, temperature, xMin, xMax)
		}
		r.drawPressureLine(area, samples, pressure, xMin, xMax)
	}

	r.drawLegend(area, samples, hidden)
}

// drawPressureGrid draws horizontal lines at log ticks with labels on the left.
func (r *scopeRenderer) drawPressureGrid(area plotArea, axis logAxis) {
	for _, v := range axis.ticks() {
		y := area.yAt(axis.fraction(v))
		r.hline(area, y)

		text := canvas.NewText(formatPressure(v), pressureColor)
		text.TextSize = 10
		text.Alignment = fyne.TextAlignTrailing
		text.Move(fyne.NewPos(area.x-5, y-6))
		r.objects = append(r.objects, text)
	}
}

// drawTemperatureLabels labels the right axis.
func (r *scopeRenderer) drawTemperatureLabels(area plotArea, axis linearAxis) {
	const n = 5
	for i := 0; i < n+1; i++ {
		v := axis.min + float64(i)*(axis.max-axis.min)/n
		y := area.yAt(axis.fraction(v))
		text := canvas.NewText(formatTemperature(v), labelColor)
		text.TextSize = 10
		text.Alignment = fyne.TextAlignLeading
		text.Move(fyne.NewPos(area.x+area.w+5, y-6))
		r.objects = append(r.objects, text)
	}
}

// drawTimeGrid draws vertical lines with elapsed time labels.
func (r *scopeRenderer) drawTimeGrid(area plotArea, xMin, xMax time.Time) {
	const n = 10
	for i := 0; i < n+1; i++ {
		x := area.x + float32(i)*area.w/n
		line := canvas.NewLine(gridColor)
		line.Position1 = fyne.NewPos(x, area.y)
		line.Position2 = fyne.NewPos(x, area.y+area.h)
		line.StrokeWidth = 1
		r.objects = append(r.objects, line)

		offset := time.Duration(float64(i) * float64(xMax.Sub(xMin)) / n)
		text := canvas.NewText(formatTime(offset), labelColor)
		text.TextSize = 10
		text.Alignment = fyne.TextAlignCenter
		text.Move(fyne.NewPos(x-20, area.y+area.h+5))
		r.objects = append(r.objects, text)
	}
}

func (r *scopeRenderer) hline(area plotArea, y float32) {
	line := canvas.NewLine(gridColor)
	line.Position1 = fyne.NewPos(area.x, y)
	line.Position2 = fyne.NewPos(area.x+area.w, y)
	line.StrokeWidth = 1
	r.objects = append(r.objects, line)
}

// drawPressureLine draws the pressure trace.
func (r *scopeRenderer) drawPressureLine(area plotArea, samples []sample.Sample, axis logAxis, xMin, xMax time.Time) {
	points := make([]fyne.Position, 0, len(samples))
	for _, smp := range samples {
		points = append(points, fyne.NewPos(area.xAt(smp.Timestamp, xMin, xMax), area.yAt(axis.fraction(smp.Pressure))))
	}
	r.polyline(points, pressureColor, 2)
}

// drawTemperatureLine draws thermocouple ch.
func (r *scopeRenderer) drawTemperatureLine(area plotArea, samples []sample.Sample, ch int, axis linearAxis, xMin, xMax time.Time) {
	points := make([]fyne.Position, 0, len(samples))
	for _, smp := range samples {
		if ch >= len(smp.Temperatures) {
			continue
		}
		points = append(points, fyne.NewPos(area.xAt(smp.Timestamp, xMin, xMax), area.yAt(axis.fraction(smp.Temperatures[ch]))))
	}
	r.polyline(points, temperatureColors[ch%len(temperatureColors)], 1.5)
}

func (r *scopeRenderer) polyline(points []fyne.Position, c color.Color, width float32) {
	for i := 0; i < len(points)-1; i++ {
		line := canvas.NewLine(c)
		line.Position1 = points[i]
		line.Position2 = points[i+1]
		line.StrokeWidth = width
		r.objects = append(r.objects, line)
	}
}

// drawLegend lists the latest readings in the top left corner.
func (r *scopeRenderer) drawLegend(area plotArea, samples []sample.Sample, hidden map[int]bool) {
	var latest sample.Sample
	if len(samples) > 0 {
		latest = samples[len(samples)-1]
	}

	y := area.y + 5
	add := func(label string, c color.Color) {
		text := canvas.NewText(label, c)
		text.TextSize = 11
		text.Move(fyne.NewPos(area.x+10, y))
		r.objects = append(r.objects, text)
		y += 14
	}

	add("Pressure "+formatPressure(latest.Pressure)+" Torr", pressureColor)
	for i, name := range r.scope.names {
		if hidden[i] {
			continue
		}
		value := "-"
		if i < len(latest.Temperatures) {
			value = formatTemperature(latest.Temperatures[i])
		}
		add(name+" "+value, temperatureColors[i%len(temperatureColors)])
	}
}

// Objects returns all canvas objects for rendering.
func (r *scopeRenderer) Objects() []fyne.CanvasObject {
	return r.objects
}

// Destroy cleans up resources.
func (r *scopeRenderer) Destroy() {}
