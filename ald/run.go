package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/storage"
	"fyne.io/fyne/v2/theme"
	"fyne.io/fyne/v2/widget"
	"github.com/itohio/goald/pkg/recipe"
	"github.com/itohio/goald/pkg/sequencer"
)

// createRunPanel creates the recipe preview and run controls.
func createRunPanel(state *appState) fyne.CanvasObject {
	state.recipeLabel = widget.NewLabel("No recipe loaded")

	state.recipeTable = widget.NewTable(
		func() (int, int) {
			if state.recipe == nil {
				return 0, 0
			}
			return len(state.recipe.Steps) + 1, state.recipe.Channels() + 2
		},
		func() fyne.CanvasObject {
			return widget.NewLabel("00000.000")
		},
		func(id widget.TableCellID, o fyne.CanvasObject) {
			o.(*widget.Label).SetText(recipeCell(state, id.Row, id.Col))
		},
	)

	state.openRecipeBtn = widget.NewButtonWithIcon("Recipe", theme.FolderOpenIcon(), func() {
		showOpenRecipe(state)
	})

	state.loopsEntry = widget.NewEntry()
	state.loopsEntry.SetText("1")

	state.runBtn = widget.NewButtonWithIcon("Run", theme.MediaPlayIcon(), func() {
		handleRun(state)
	})
	state.abortBtn = widget.NewButtonWithIcon("Abort", theme.MediaStopIcon(), func() {
		handleAbort(state)
	})
	state.abortBtn.Importance = widget.DangerImportance

	state.progressLabel = widget.NewLabel(sequencer.Progress{}.String())

	controls := container.NewHBox(
		state.openRecipeBtn,
		widget.NewLabel("Loops"),
		container.NewGridWrap(fyne.NewSize(80, state.loopsEntry.MinSize().Height), state.loopsEntry),
		state.runBtn,
		state.abortBtn,
		state.progressLabel,
	)

	table := container.NewGridWrap(fyne.NewSize(900, 160), state.recipeTable)
	return container.NewVBox(state.recipeLabel, table, controls)
}

// recipeCell returns the preview text for one table cell. Row 0 holds the
// column names.
func recipeCell(state *appState, row, col int) string {
	r := state.recipe
	if r == nil {
		return ""
	}
	channels := r.Channels()
	if row == 0 {
		switch {
		case col == 0:
			return "step"
		case col <= channels:
			if col-1 < len(state.cfg.Valves) {
				return state.cfg.Valves[col-1].Name
			}
			return fmt.Sprintf("ch %d", col)
		default:
			return "hold"
		}
	}

	step := r.Steps[row-1]
	switch {
	case col == 0:
		return strconv.Itoa(row)
	case col <= channels:
		if step.Ignored(col - 1) {
			return "-"
		}
		return strconv.FormatFloat(step.Setpoints[col-1], 'g', -1, 64)
	default:
		return strconv.FormatFloat(step.Hold, 'g', -1, 64)
	}
}

// showOpenRecipe lets the user pick a recipe CSV file.
func showOpenRecipe(state *appState) {
	d := dialog.NewFileOpen(func(reader fyne.URIReadCloser, err error) {
		if err != nil {
			dialog.ShowError(err, state.window)
			return
		}
		if reader == nil {
			return
		}
		defer reader.Close()

		r, err := recipe.Parse(reader, len(state.cfg.Valves))
		if err != nil {
			dialog.ShowError(fmt.Errorf("%s: %w", reader.URI().Name(), err), state.window)
			return
		}
		r.Name = strings.TrimSuffix(reader.URI().Name(), reader.URI().Extension())
		setRecipe(state, r)
	}, state.window)
	d.SetFilter(storage.NewExtensionFileFilter([]string{".csv", ".txt"}))
	d.Show()
}

// setRecipe shows r in the preview table.
func setRecipe(state *appState, r *recipe.Recipe) {
	state.recipe = r
	loop := r.Duration(state.cfg.Sequencer.PulseThreshold)
	state.recipeLabel.SetText(fmt.Sprintf("%s: %d steps, ~%v per loop",
		r.Name, len(r.Steps), loop.Round(time.Millisecond)))
	state.recipeTable.Refresh()
	log.Printf("Loaded recipe %q with %d steps", r.Name, len(r.Steps))
}

// handleRun starts the loaded recipe in the background.
func handleRun(state *appState) {
	if state.reactor == nil {
		return
	}
	loops, err := sequencer.ParseLoops(state.loopsEntry.Text)
	if err != nil {
		dialog.ShowError(err, state.window)
		return
	}

	err = state.reactor.StartRun(state.recipe, loops, func(err error) {
		fyne.Do(func() {
			setRunning(state, false)
			switch {
			case err == nil:
				state.progressLabel.SetText("done")
			case errors.Is(err, context.Canceled):
				state.progressLabel.SetText("aborted")
			default:
				state.progressLabel.SetText("failed")
				dialog.ShowError(err, state.window)
			}
		})
	})
	if err != nil {
		dialog.ShowError(err, state.window)
		return
	}
	setRunning(state, true)
}

// handleAbort stops a running recipe. Valves are closed before the run
// reports back.
func handleAbort(state *appState) {
	if state.reactor == nil {
		return
	}
	state.abortBtn.Disable()
	r := state.reactor
	go r.AbortRun()
}

// setRunning swaps the run controls and locks out manual valve control.
func setRunning(state *appState, running bool) {
	if running {
		state.runBtn.Disable()
		state.openRecipeBtn.Disable()
		state.abortBtn.Enable()
		setValveButtons(state, false)
		return
	}
	state.openRecipeBtn.Enable()
	state.abortBtn.Disable()
	if state.reactor != nil {
		state.runBtn.Enable()
	}
	updateValveButtons(state)
}
