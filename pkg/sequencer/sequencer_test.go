package sequencer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/itohio/goald/pkg/config"
	"github.com/itohio/goald/pkg/daq"
	"github.com/itohio/goald/pkg/recipe"
	"github.com/itohio/goald/pkg/valve"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// timeline records valve actions and sleeps in order.
type timeline struct {
	mu        sync.Mutex
	channels  int
	events    []string
	closeAll  int
	failPulse error
	onPulse   func(ch int)
}

func (tl *timeline) Count() int        { return tl.channels }
func (tl *timeline) Name(i int) string { return fmt.Sprintf("AV0%d", i+1) }

func (tl *timeline) Pulse(i int, d time.Duration) error {
	if tl.onPulse != nil {
		tl.onPulse(i)
	}
	tl.mu.Lock()
	defer tl.mu.Unlock()
	if tl.failPulse != nil {
		return tl.failPulse
	}
	tl.events = append(tl.events, fmt.Sprintf("pulse %d %v", i, d))
	return nil
}

func (tl *timeline) CloseAll() error {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	tl.closeAll++
	tl.events = append(tl.events, "close all")
	return nil
}

func (tl *timeline) sleep(ctx context.Context, d time.Duration) error {
	tl.mu.Lock()
	tl.events = append(tl.events, fmt.Sprintf("sleep %v", d))
	tl.mu.Unlock()
	return ctx.Err()
}

func (tl *timeline) Events() []string {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	return append([]string(nil), tl.events...)
}

func newTestSequencer(channels int) (*Sequencer, *timeline) {
	tl := &timeline{channels: channels}
	s := New(tl, config.SequencerConfig{PulseThreshold: 0.04})
	s.sleep = tl.sleep
	return s, tl
}

func mustParse(t *testing.T, csv string) *recipe.Recipe {
	t.Helper()
	r, err := recipe.Parse(strings.NewReader(csv), 3)
	require.NoError(t, err)
	return r
}

func TestRun_Scenario(t *testing.T) {
	s, tl := newTestSequencer(3)
	r := mustParse(t, "-1,-1,-1,2.0\n-1,-1,0.05,2.0\n-1,-1,-1,2.0\n")

	require.NoError(t, s.Run(context.Background(), r, 1))

	assert.Equal(t, []string{
		"sleep 2s",
		"pulse 2 50ms",
		"sleep 2s",
		"sleep 2s",
		"close all",
	}, tl.Events())
}

func TestRun_AllIgnored(t *testing.T) {
	s, tl := newTestSequencer(3)
	r := mustParse(t, "-1,-1,-1,1\n-1,-1,-1,1\n")

	require.NoError(t, s.Run(context.Background(), r, 2))

	assert.Equal(t, 1, tl.closeAll)
	for _, e := range tl.Events() {
		assert.False(t, strings.HasPrefix(e, "pulse"), "unexpected %s", e)
	}
	assert.Equal(t, "close all", tl.Events()[len(tl.Events())-1])
}

func TestRun_FirstStepPulsesEverything(t *testing.T) {
	s, tl := newTestSequencer(3)
	r := mustParse(t, "0.01,0,-1,0.5\n0.01,0,-1,0.5\n")

	require.NoError(t, s.Run(context.Background(), r, 2))

	assert.Equal(t, []string{
		"pulse 0 10ms", "pulse 1 0s", "sleep 500ms",
		"sleep 500ms",
		"pulse 0 10ms", "pulse 1 0s", "sleep 500ms",
		"sleep 500ms",
		"close all",
	}, tl.Events())
}

func TestRun_Threshold(t *testing.T) {
	tests := []struct {
		name     string
		setpoint string
		want     []string
	}{
		{name: "below", setpoint: "0.02", want: []string{"sleep 1s", "sleep 1s", "close all"}},
		{name: "at threshold", setpoint: "0.04", want: []string{"sleep 1s", "sleep 1s", "close all"}},
		{name: "above", setpoint: "0.041", want: []string{"sleep 1s", "pulse 1 41ms", "sleep 1s", "close all"}},
		{name: "long", setpoint: "1.5", want: []string{"sleep 1s", "pulse 1 1.5s", "sleep 1s", "close all"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, tl := newTestSequencer(3)
			r := mustParse(t, "-1,-1,-1,1\n-1,"+tt.setpoint+",-1,1\n")
			require.NoError(t, s.Run(context.Background(), r, 1))
			assert.Equal(t, tt.want, tl.Events())
		})
	}
}

func TestRun_InvalidInput(t *testing.T) {
	t.Run("column count", func(t *testing.T) {
		s, tl := newTestSequencer(3)
		r := &recipe.Recipe{Steps: []recipe.Step{{Setpoints: []float64{0.1, 0.1}, Hold: 1}}}
		err := s.Run(context.Background(), r, 1)
		assert.ErrorIs(t, err, recipe.ErrInvalid)
		assert.Empty(t, tl.Events())
	})

	t.Run("nil recipe", func(t *testing.T) {
		s, tl := newTestSequencer(3)
		assert.ErrorIs(t, s.Run(context.Background(), nil, 1), recipe.ErrInvalid)
		assert.Empty(t, tl.Events())
	})

	t.Run("zero loops", func(t *testing.T) {
		s, tl := newTestSequencer(3)
		r := mustParse(t, "-1,-1,-1,1\n")
		assert.ErrorIs(t, s.Run(context.Background(), r, 0), ErrInvalidLoops)
		assert.Empty(t, tl.Events())
	})
}

func TestRun_DeviceError(t *testing.T) {
	s, tl := newTestSequencer(3)
	boom := errors.New("line stuck")
	tl.failPulse = boom
	r := mustParse(t, "0.1,-1,-1,1\n")

	err := s.Run(context.Background(), r, 3)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"close all"}, tl.Events())

	p := s.Progress()
	assert.False(t, p.Running)
	assert.ErrorIs(t, p.Err, boom)
}

func TestRun_CancelBeforePulse(t *testing.T) {
	s, tl := newTestSequencer(3)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The pulse in flight completes; the next one is never issued.
	tl.onPulse = func(ch int) {
		if ch == 0 {
			cancel()
		}
	}
	r := mustParse(t, "0.1,0.1,0.1,1\n")

	err := s.Run(ctx, r, 5)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"pulse 0 100ms", "close all"}, tl.Events())
}

func TestRun_CancelDuringHold(t *testing.T) {
	s, tl := newTestSequencer(3)
	s.sleep = sleepContext
	r := mustParse(t, "-1,-1,-1,60\n")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, r, 1) }()

	require.Eventually(t, s.Running, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("hold did not return on cancel")
	}
	assert.Equal(t, 1, tl.closeAll)
}

func TestRun_Busy(t *testing.T) {
	s, _ := newTestSequencer(3)
	release := make(chan struct{})
	s.sleep = func(ctx context.Context, d time.Duration) error {
		<-release
		return nil
	}
	r := mustParse(t, "-1,-1,-1,1\n")

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background(), r, 1) }()
	require.Eventually(t, s.Running, time.Second, time.Millisecond)

	assert.ErrorIs(t, s.Run(context.Background(), r, 1), ErrBusy)

	close(release)
	require.NoError(t, <-done)
	assert.False(t, s.Running())
}

func TestRun_Progress(t *testing.T) {
	s, _ := newTestSequencer(3)
	r := mustParse(t, "-1,-1,-1,1\n-1,-1,-1,1\n")
	r.Name = "test"

	var seen []string
	s.OnProgress(func(p Progress) { seen = append(seen, p.String()) })

	require.NoError(t, s.Run(context.Background(), r, 2))
	assert.Equal(t, []string{
		"loop 1/2 step 1/2",
		"loop 1/2 step 2/2",
		"loop 2/2 step 1/2",
		"loop 2/2 step 2/2",
		"idle",
	}, seen)
}

func TestParseLoops(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{in: "1", want: 1},
		{in: " 250 ", want: 250},
		{in: "0", wantErr: true},
		{in: "-3", wantErr: true},
		{in: "1.5", wantErr: true},
		{in: "many", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLoops(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidLoops)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// TestRun_WithValveController runs a recipe against the simulated device.
func TestRun_WithValveController(t *testing.T) {
	cfg := config.Default()
	dev := daq.NewMock(cfg)
	require.NoError(t, dev.Connect())
	valves, err := valve.New(dev, cfg.Valves, 0)
	require.NoError(t, err)
	defer valves.Close()

	s := New(valves, cfg.Sequencer)
	r := mustParse(t, "0.01,-1,-1,0.01\n-1,0.05,0.02,0.01\n")

	require.NoError(t, s.Run(context.Background(), r, 2))

	// AV01 pulsed on step 1 of each loop plus the final close all.
	assert.Len(t, dev.Writes("line0"), 2*2+1)
	// AV02 above threshold on step 2 of each loop.
	assert.Len(t, dev.Writes("line1"), 2*2+1)
	// AV03 below threshold, only the final close all.
	assert.Len(t, dev.Writes("line2"), 1)
	for _, ch := range []string{"line0", "line1", "line2"} {
		assert.False(t, dev.Level(ch))
	}
}
