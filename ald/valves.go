package main

import (
	"fmt"
	"strconv"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/layout"
	"fyne.io/fyne/v2/widget"
)

// showValveWindow opens the manual valve control window.
func showValveWindow(state *appState) {
	if state.reactor == nil {
		return
	}
	if state.valveWindow != nil {
		state.valveWindow.RequestFocus()
		return
	}

	valves := state.reactor.Valves
	w := fyne.CurrentApp().NewWindow("Manual Valve Control")
	state.valveWindow = w
	state.valveBtns = nil

	dots := make([]*canvas.Circle, valves.Count())
	refresh := func() {
		for i, dot := range dots {
			hex := state.cfg.UI.OffColor
			if state.reactor != nil && state.reactor.Valves.IsOpen(i) {
				hex = state.cfg.UI.OnColor
			}
			dot.FillColor = parseColor(hex)
			dot.Refresh()
		}
	}

	rows := container.NewVBox()
	for i, name := range valves.Names() {
		i := i
		dots[i] = valveIndicator(state, valves.IsOpen(i))

		pulseEntry := widget.NewEntry()
		pulseEntry.SetText("0.1")

		openBtn := widget.NewButton("Open", func() {
			manualValve(state, refresh, func() error { return valves.Open(i) })
		})
		shutBtn := widget.NewButton("Close", func() {
			manualValve(state, refresh, func() error { return valves.Shut(i) })
		})
		pulseBtn := widget.NewButton("Pulse", func() {
			seconds, err := strconv.ParseFloat(pulseEntry.Text, 64)
			if err != nil || seconds <= 0 {
				dialog.ShowError(fmt.Errorf("invalid pulse length %q", pulseEntry.Text), w)
				return
			}
			d := time.Duration(seconds * float64(time.Second))
			manualValve(state, refresh, func() error { return valves.Pulse(i, d) })
		})
		state.valveBtns = append(state.valveBtns, openBtn, shutBtn, pulseBtn)

		rows.Add(container.NewHBox(
			container.New(layout.NewGridWrapLayout(fyne.NewSize(14, 14)), dots[i]),
			widget.NewLabel(name),
			layout.NewSpacer(),
			openBtn,
			shutBtn,
			container.New(layout.NewGridWrapLayout(fyne.NewSize(70, pulseEntry.MinSize().Height)), pulseEntry),
			widget.NewLabel("s"),
			pulseBtn,
		))
	}

	closeAll := widget.NewButton("Close all", func() {
		manualValve(state, refresh, valves.CloseAll)
	})
	state.valveBtns = append(state.valveBtns, closeAll)

	w.SetContent(container.NewBorder(nil, closeAll, nil, nil, rows))
	w.SetOnClosed(func() {
		state.valveWindow = nil
		state.valveBtns = nil
	})
	updateValveButtons(state)
	w.Show()
}

// manualValve runs a valve operation off the UI thread. Manual control is
// refused while a recipe is running.
func manualValve(state *appState, refresh func(), op func() error) {
	if state.reactor == nil {
		return
	}
	if state.reactor.Sequencer.Running() {
		dialog.ShowInformation("Busy", "A recipe is running.", state.valveWindow)
		return
	}
	setValveButtons(state, false)
	go func() {
		err := op()
		fyne.Do(func() {
			refresh()
			updateValveButtons(state)
			if err != nil && state.valveWindow != nil {
				dialog.ShowError(err, state.valveWindow)
			}
		})
	}()
}

// updateValveButtons enables manual control only while connected and idle.
func updateValveButtons(state *appState) {
	enabled := state.reactor != nil && !state.reactor.Sequencer.Running()
	setValveButtons(state, enabled)
}

func setValveButtons(state *appState, enabled bool) {
	for _, b := range state.valveBtns {
		if enabled {
			b.Enable()
		} else {
			b.Disable()
		}
	}
}
