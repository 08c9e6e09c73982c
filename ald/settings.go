package main

import (
	"fmt"
	"strconv"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/widget"
	"github.com/itohio/goald/pkg/config"
	"github.com/itohio/goald/pkg/daq"
)

// showSettingsDialog displays a settings dialog with tabs for all configuration options.
func showSettingsDialog(state *appState) {
	tabs := container.NewAppTabs(
		createSerialTab(state),
		createDutyCycleTab(state),
		createSequencerTab(state),
		createSensorsTab(state),
		createPlotTab(state),
		createUITab(state),
	)

	content := container.NewBorder(
		nil,
		widget.NewLabel("Hardware settings apply on the next connect."),
		nil, nil,
		tabs,
	)

	d := dialog.NewCustom("Settings", "Close", content, state.window)
	d.Resize(fyne.NewSize(600, 500))
	d.Show()
}

// saveConfig validates the edited copy, adopts it and writes it to disk.
func saveConfig(state *appState, edit func(cfg *config.Config)) {
	next := *state.cfg
	edit(&next)
	if err := next.Validate(); err != nil {
		dialog.ShowError(err, state.window)
		return
	}
	*state.cfg = next
	if err := state.cfg.Save(state.configPath); err != nil {
		dialog.ShowError(fmt.Errorf("failed to save config: %w", err), state.window)
	}
}

// createSerialTab creates the Serial configuration tab.
func createSerialTab(state *appState) *container.TabItem {
	ports, err := daq.Ports()
	portOptions := []string{}
	portMap := make(map[string]string) // Map display name to actual port name

	if err == nil {
		for _, port := range ports {
			displayName := port.Name
			if port.Description != "" && port.Description != port.Name {
				displayName = fmt.Sprintf("%s (%s)", port.Name, port.Description)
			}
			portOptions = append(portOptions, displayName)
			portMap[displayName] = port.Name
		}
	}

	currentPort := state.cfg.Serial.Port
	currentDisplay := ""
	for _, opt := range portOptions {
		if portMap[opt] == currentPort {
			currentDisplay = opt
			break
		}
	}
	if currentDisplay == "" && currentPort != "" {
		portOptions = append(portOptions, currentPort)
		portMap[currentPort] = currentPort
		currentDisplay = currentPort
	}

	portSelect := widget.NewSelect(portOptions, nil)
	if currentDisplay != "" {
		portSelect.SetSelected(currentDisplay)
	}

	rateEntry := widget.NewEntry()
	rateEntry.SetText(fmt.Sprintf("%g", state.cfg.Serial.CommandRate))

	form := &widget.Form{
		Items: []*widget.FormItem{
			{Text: "Serial Port", Widget: portSelect},
			{Text: "Command rate (1/s)", Widget: rateEntry},
		},
		OnSubmit: func() {
			saveConfig(state, func(cfg *config.Config) {
				if portSelect.Selected != "" {
					selected := portMap[portSelect.Selected]
					if selected == "" {
						selected = portSelect.Selected
					}
					cfg.Serial.Port = selected
				}
				if r, err := strconv.ParseFloat(rateEntry.Text, 64); err == nil && r >= 0 {
					cfg.Serial.CommandRate = r
				}
			})
		},
	}

	return container.NewTabItem("Serial", form)
}

// createDutyCycleTab creates the heater duty cycle tab.
func createDutyCycleTab(state *appState) *container.TabItem {
	ticksEntry := widget.NewEntry()
	ticksEntry.SetText(strconv.Itoa(state.cfg.DutyCycle.TicksPerCycle))

	periodEntry := widget.NewEntry()
	periodEntry.SetText(state.cfg.DutyCycle.Period.String())

	form := &widget.Form{
		Items: []*widget.FormItem{
			{Text: "Ticks per cycle", Widget: ticksEntry},
			{Text: "Period", Widget: periodEntry},
		},
		OnSubmit: func() {
			saveConfig(state, func(cfg *config.Config) {
				if n, err := strconv.Atoi(ticksEntry.Text); err == nil {
					cfg.DutyCycle.TicksPerCycle = n
				}
				if d, err := time.ParseDuration(periodEntry.Text); err == nil {
					cfg.DutyCycle.Period = d
				}
			})
		},
	}

	return container.NewTabItem("Heaters", form)
}

// createSequencerTab creates the recipe execution tab.
func createSequencerTab(state *appState) *container.TabItem {
	thresholdEntry := widget.NewEntry()
	thresholdEntry.SetText(fmt.Sprintf("%g", state.cfg.Sequencer.PulseThreshold))

	settleEntry := widget.NewEntry()
	settleEntry.SetText(state.cfg.Sequencer.SettleDelay.String())

	form := &widget.Form{
		Items: []*widget.FormItem{
			{Text: "Pulse threshold (s)", Widget: thresholdEntry},
			{Text: "Valve settle delay", Widget: settleEntry},
		},
		OnSubmit: func() {
			saveConfig(state, func(cfg *config.Config) {
				if v, err := strconv.ParseFloat(thresholdEntry.Text, 64); err == nil {
					cfg.Sequencer.PulseThreshold = v
				}
				if d, err := time.ParseDuration(settleEntry.Text); err == nil {
					cfg.Sequencer.SettleDelay = d
				}
			})
			if state.recipe != nil {
				setRecipe(state, state.recipe)
			}
		},
	}

	return container.NewTabItem("Sequencer", form)
}

// createSensorsTab creates the analog input tab.
func createSensorsTab(state *appState) *container.TabItem {
	gaugeSelect := widget.NewSelect([]string{"linear", "pdr2000"}, nil)
	gaugeSelect.SetSelected(state.cfg.Sensors.Pressure.Gauge)

	scaleEntry := widget.NewEntry()
	scaleEntry.SetText(fmt.Sprintf("%g", state.cfg.Sensors.Pressure.Scale))

	intervalEntry := widget.NewEntry()
	intervalEntry.SetText(state.cfg.Sensors.SampleInterval.String())

	averageEntry := widget.NewEntry()
	averageEntry.SetText(strconv.Itoa(state.cfg.Sensors.AverageSamples))

	logSamples := widget.NewCheck("", nil)
	logSamples.SetChecked(state.cfg.Log.Samples)

	form := &widget.Form{
		Items: []*widget.FormItem{
			{Text: "Pressure gauge", Widget: gaugeSelect},
			{Text: "Linear scale (V/Torr)", Widget: scaleEntry},
			{Text: "Sample interval", Widget: intervalEntry},
			{Text: "Average samples (0=disabled)", Widget: averageEntry},
			{Text: "Log samples", Widget: logSamples},
		},
		OnSubmit: func() {
			saveConfig(state, func(cfg *config.Config) {
				cfg.Sensors.Pressure.Gauge = gaugeSelect.Selected
				if v, err := strconv.ParseFloat(scaleEntry.Text, 64); err == nil && v > 0 {
					cfg.Sensors.Pressure.Scale = v
				}
				if d, err := time.ParseDuration(intervalEntry.Text); err == nil && d > 0 {
					cfg.Sensors.SampleInterval = d
				}
				if n, err := strconv.Atoi(averageEntry.Text); err == nil {
					cfg.Sensors.AverageSamples = n
				}
				cfg.Log.Samples = logSamples.Checked
			})
		},
	}

	return container.NewTabItem("Sensors", form)
}

// createPlotTab creates the plot tab.
func createPlotTab(state *appState) *container.TabItem {
	yMinEntry := widget.NewEntry()
	yMinEntry.SetText(fmt.Sprintf("%g", state.cfg.Plot.YMin))

	yMaxEntry := widget.NewEntry()
	yMaxEntry.SetText(fmt.Sprintf("%g", state.cfg.Plot.YMax))

	windowEntry := widget.NewEntry()
	windowEntry.SetText(state.cfg.Plot.Window.String())

	form := &widget.Form{
		Items: []*widget.FormItem{
			{Text: "Pressure min (Torr)", Widget: yMinEntry},
			{Text: "Pressure max (Torr)", Widget: yMaxEntry},
			{Text: "Window", Widget: windowEntry},
		},
		OnSubmit: func() {
			saveConfig(state, func(cfg *config.Config) {
				if v, err := strconv.ParseFloat(yMinEntry.Text, 64); err == nil && v > 0 {
					cfg.Plot.YMin = v
				}
				if v, err := strconv.ParseFloat(yMaxEntry.Text, 64); err == nil && v > 0 {
					cfg.Plot.YMax = v
				}
				if d, err := time.ParseDuration(windowEntry.Text); err == nil && d > 0 {
					cfg.Plot.Window = d
				}
			})
		},
	}

	return container.NewTabItem("Plot", form)
}

// createUITab creates the color settings tab.
func createUITab(state *appState) *container.TabItem {
	onEntry := widget.NewEntry()
	onEntry.SetText(state.cfg.UI.OnColor)

	offEntry := widget.NewEntry()
	offEntry.SetText(state.cfg.UI.OffColor)

	form := &widget.Form{
		Items: []*widget.FormItem{
			{Text: "On color", Widget: onEntry},
			{Text: "Off color", Widget: offEntry},
		},
		OnSubmit: func() {
			saveConfig(state, func(cfg *config.Config) {
				cfg.UI.OnColor = onEntry.Text
				cfg.UI.OffColor = offEntry.Text
			})
			updatePowerButton(state)
		},
	}

	return container.NewTabItem("Colors", form)
}
