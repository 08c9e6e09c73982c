package main

import (
	"fmt"
	"image/color"
	"log"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/widget"
	"gopkg.in/go-playground/colors.v1"
)

// createHeaterPanel creates one duty entry per heater.
func createHeaterPanel(state *appState) fyne.CanvasObject {
	form := widget.NewForm()
	ticks := state.cfg.DutyCycle.TicksPerCycle

	for i, h := range state.cfg.Heaters {
		i := i
		entry := widget.NewEntry()
		entry.SetPlaceHolder(fmt.Sprintf("0..%d", ticks))
		entry.SetText("0")
		apply := widget.NewButton("Set", func() {
			handleHeaterDuty(state, i)
		})
		entry.OnSubmitted = func(string) {
			if !apply.Disabled() {
				handleHeaterDuty(state, i)
			}
		}
		state.heaterEntries = append(state.heaterEntries, entry)
		state.heaterApply = append(state.heaterApply, apply)
		form.Append(h.Name, container.NewBorder(nil, nil, nil, apply, entry))
	}

	title := widget.NewLabelWithStyle(fmt.Sprintf("Heater duty (of %d)", ticks), fyne.TextAlignLeading, fyne.TextStyle{Bold: true})
	return container.NewVBox(title, form)
}

// handleHeaterDuty sends the entered duty value to heater i.
func handleHeaterDuty(state *appState, i int) {
	if state.reactor == nil {
		return
	}
	bank := state.reactor.Heaters
	duty, err := bank.ParseDuty(state.heaterEntries[i].Text)
	if err == nil {
		err = bank.SetDuty(i, duty)
	}
	if err != nil {
		dialog.ShowError(fmt.Errorf("%s: %w", bank.Names()[i], err), state.window)
		return
	}
	state.heaterEntries[i].SetText(fmt.Sprint(duty))
}

// handlePowerToggle flips the main power switch.
func handlePowerToggle(state *appState) {
	if state.reactor == nil {
		return
	}
	if _, err := state.reactor.Power.Toggle(); err != nil {
		dialog.ShowError(fmt.Errorf("failed to switch %s: %w", state.cfg.MainPower.Name, err), state.window)
	}
	updatePowerButton(state)
}

// updatePowerButton shows the main power state using the configured colors.
func updatePowerButton(state *appState) {
	on := state.reactor != nil && state.reactor.Power.State()
	label := state.cfg.MainPower.Name + ": off"
	hex := state.cfg.UI.OffColor
	if on {
		label = state.cfg.MainPower.Name + ": on"
		hex = state.cfg.UI.OnColor
	}
	state.powerBtn.SetText(label)
	state.powerBtn.SetIcon(swatch(hex))
}

// swatch renders a small square of the given color as a button icon.
func swatch(hex string) fyne.Resource {
	c := parseColor(hex)
	svg := fmt.Sprintf(`<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 16 16"><rect width="16" height="16" rx="3" fill="#%02x%02x%02x"/></svg>`, c.R, c.G, c.B)
	return fyne.NewStaticResource("swatch-"+hex+".svg", []byte(svg))
}

// parseColor accepts any CSS style color. Unparseable values fall back to grey.
func parseColor(s string) color.NRGBA {
	c, err := colors.Parse(s)
	if err != nil {
		log.Printf("Invalid color %q: %v", s, err)
		return color.NRGBA{R: 0x80, G: 0x80, B: 0x80, A: 0xff}
	}
	rgba := c.ToRGBA()
	return color.NRGBA{R: rgba.R, G: rgba.G, B: rgba.B, A: uint8(rgba.A * 255)}
}

// valveIndicator is a colored dot that follows a valve state.
func valveIndicator(state *appState, open bool) *canvas.Circle {
	hex := state.cfg.UI.OffColor
	if open {
		hex = state.cfg.UI.OnColor
	}
	dot := canvas.NewCircle(parseColor(hex))
	dot.Resize(fyne.NewSize(14, 14))
	return dot
}
