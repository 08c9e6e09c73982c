package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"sync"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/theme"
	"fyne.io/fyne/v2/widget"
	"github.com/itohio/goald/pkg/config"
	"github.com/itohio/goald/pkg/reactor"
	"github.com/itohio/goald/pkg/recipe"
	"github.com/itohio/goald/pkg/sample"
	"github.com/itohio/goald/pkg/scope"
	"github.com/itohio/goald/pkg/sequencer"
)

func main() {
	var (
		portFlag   = flag.String("p", "", "Serial port override (e.g., COM3 or /dev/ttyACM0)")
		configFlag = flag.String("config", "config.yaml", "Configuration file path")
		mockFlag   = flag.Bool("mock", false, "Use simulated reactor instead of serial port")
	)
	flag.Parse()

	cfg, err := config.Load(*configFlag)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *portFlag != "" {
		cfg.Serial.Port = *portFlag
	}

	logFile, err := reactor.SetupLogging(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}
	defer logFile.Close()

	application := app.NewWithID("com.itohio.goald")

	window := application.NewWindow("ALD Reactor")
	window.Resize(fyne.NewSize(1200, 800))
	window.CenterOnScreen()

	state := &appState{
		cfg:        cfg,
		configPath: *configFlag,
		window:     window,
		useMock:    *mockFlag,
	}

	names := make([]string, len(cfg.Sensors.Thermocouples))
	for i, tc := range cfg.Sensors.Thermocouples {
		names[i] = tc.Name
	}
	state.scopeWidget = scope.New(cfg.Plot, names)

	toolbar := createToolbar(state)
	heaters := createHeaterPanel(state)
	run := createRunPanel(state)

	content := container.NewBorder(
		toolbar,
		run,
		nil,
		heaters,
		state.scopeWidget,
	)

	window.SetContent(content)
	window.SetOnClosed(func() {
		disconnect(state)
	})
	state.setConnected(false)
	window.ShowAndRun()
}

// appState holds the application state.
type appState struct {
	cfg        *config.Config
	configPath string
	window     fyne.Window
	useMock    bool

	reactor     *reactor.Reactor
	recipe      *recipe.Recipe
	scopeWidget *scope.ScopeWidget

	connectBtn *widget.Button
	powerBtn   *widget.Button
	valvesBtn  *widget.Button

	heaterEntries []*widget.Entry
	heaterApply   []*widget.Button

	recipeLabel   *widget.Label
	recipeTable   *widget.Table
	loopsEntry    *widget.Entry
	openRecipeBtn *widget.Button
	runBtn        *widget.Button
	abortBtn      *widget.Button
	progressLabel *widget.Label
	statusLabel   *widget.Label

	valveWindow fyne.Window
	valveBtns   []*widget.Button

	// Throttling for scope updates
	lastUpdateTime time.Time
	updateMu       sync.Mutex
}

// createToolbar creates the application toolbar with Connect, Settings,
// Valves and Main Power buttons.
func createToolbar(state *appState) fyne.CanvasObject {
	state.connectBtn = widget.NewButtonWithIcon("", theme.LoginIcon(), func() {
		handleConnect(state)
	})

	settingsBtn := widget.NewButtonWithIcon("", theme.SettingsIcon(), func() {
		showSettingsDialog(state)
	})

	state.valvesBtn = widget.NewButtonWithIcon("Valves", theme.ListIcon(), func() {
		showValveWindow(state)
	})

	state.powerBtn = widget.NewButtonWithIcon(state.cfg.MainPower.Name, theme.MediaRecordIcon(), func() {
		handlePowerToggle(state)
	})

	state.statusLabel = widget.NewLabel("")

	return container.NewBorder(
		nil,
		nil,
		container.NewHBox(state.connectBtn, settingsBtn, state.valvesBtn),
		state.powerBtn,
		state.statusLabel,
	)
}

// setConnected enables or disables every hardware control.
func (state *appState) setConnected(connected bool) {
	controls := []fyne.Disableable{state.powerBtn, state.valvesBtn, state.runBtn}
	for _, b := range state.heaterApply {
		controls = append(controls, b)
	}
	for _, c := range controls {
		if connected {
			c.Enable()
		} else {
			c.Disable()
		}
	}
	state.abortBtn.Disable()
	if connected {
		state.connectBtn.SetIcon(theme.LogoutIcon())
	} else {
		state.connectBtn.SetIcon(theme.LoginIcon())
	}
	updatePowerButton(state)
	updateStatus(state)
}

// handleConnect handles the connect/disconnect button click.
func handleConnect(state *appState) {
	if state.reactor != nil {
		disconnect(state)
		return
	}

	dev := reactor.NewDevice(state.cfg, state.useMock)
	r, err := reactor.Open(dev, state.cfg)
	if err != nil {
		if state.useMock {
			dialog.ShowError(fmt.Errorf("failed to connect to simulated reactor: %w", err), state.window)
		} else {
			dialog.ShowError(fmt.Errorf("failed to connect to %s: %w", state.cfg.Serial.Port, err), state.window)
		}
		return
	}
	state.reactor = r
	if state.useMock {
		log.Printf("Connected to simulated reactor")
	} else {
		log.Printf("Connected to serial port: %s", state.cfg.Serial.Port)
	}

	// Throttle updates to ~60 FPS so the UI is not overwhelmed.
	const updateInterval = 16 * time.Millisecond
	r.Trend.OnUpdate(func(samples []sample.Sample) {
		state.updateMu.Lock()
		now := time.Now()
		if now.Sub(state.lastUpdateTime) < updateInterval {
			state.updateMu.Unlock()
			return
		}
		state.lastUpdateTime = now
		state.updateMu.Unlock()

		fyne.Do(func() {
			state.scopeWidget.UpdateData(samples)
			updateStatus(state)
		})
	})
	r.Sequencer.OnProgress(func(p sequencer.Progress) {
		fyne.Do(func() {
			state.progressLabel.SetText(p.String())
		})
	})

	for i := range state.heaterEntries {
		state.heaterEntries[i].SetText(fmt.Sprint(r.Heaters.Duty(i)))
	}

	r.Start(context.Background())
	state.setConnected(true)
}

// disconnect stops any run and shuts the reactor down in order.
func disconnect(state *appState) {
	if state.reactor == nil {
		return
	}
	if err := state.reactor.Close(); err != nil {
		log.Printf("Reactor shutdown: %v", err)
		dialog.ShowError(fmt.Errorf("shutdown reported errors: %w", err), state.window)
	}
	state.reactor = nil
	if state.valveWindow != nil {
		state.valveWindow.Close()
	}
	state.setConnected(false)
	log.Printf("Disconnected")
}

// updateStatus shows the latest pressure and reactor temperature.
func updateStatus(state *appState) {
	if state.reactor == nil {
		state.statusLabel.SetText("disconnected")
		return
	}
	s, ok := state.reactor.Trend.Latest()
	if !ok || len(s.Temperatures) == 0 {
		state.statusLabel.SetText("waiting for samples")
		return
	}
	state.statusLabel.SetText(fmt.Sprintf("P = %.3g Torr   %s = %.1f °C",
		s.Pressure, state.cfg.Sensors.Thermocouples[0].Name, s.Temperatures[0]))
}
