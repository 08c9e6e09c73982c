package pwm

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/itohio/goald/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeOutput struct {
	mu      sync.Mutex
	level   bool
	writes  []bool
	started bool
	stopped bool
	closed  int
	failOn  int // fail the n-th write (1 based), 0 never
}

func (o *fakeOutput) Name() string { return "line5" }

func (o *fakeOutput) Start() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.started = true
	return nil
}

func (o *fakeOutput) Write(level bool) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.failOn > 0 && len(o.writes)+1 == o.failOn {
		o.failOn = 0
		return errors.New("bus error")
	}
	o.writes = append(o.writes, level)
	o.level = level
	return nil
}

func (o *fakeOutput) Stop() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stopped = true
	return nil
}

func (o *fakeOutput) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed++
	return nil
}

func (o *fakeOutput) Level() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.level
}

func (o *fakeOutput) Writes() []bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]bool, len(o.writes))
	copy(out, o.writes)
	return out
}

var testCfg = config.DutyCycleConfig{TicksPerCycle: 20, Period: 20 * time.Millisecond}

// tickRecorder replaces the driver sleep. It records the output level for
// every tick and cancels after a number of periods.
type tickRecorder struct {
	out     *fakeOutput
	ticks   int
	periods int
	cancel  context.CancelFunc
	levels  []bool
	writes  []int // number of writes seen at the end of each period
}

func (r *tickRecorder) sleep(time.Duration) {
	r.levels = append(r.levels, r.out.Level())
	if len(r.levels)%r.ticks == 0 {
		r.writes = append(r.writes, len(r.out.Writes()))
		if len(r.levels) == r.ticks*r.periods {
			r.cancel()
		}
	}
}

func runRecorded(t *testing.T, out *fakeOutput, duty, periods int) (*tickRecorder, error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d := New(out, testCfg)
	rec := &tickRecorder{out: out, ticks: testCfg.TicksPerCycle, periods: periods, cancel: cancel}
	d.sleep = rec.sleep
	d.Set(duty)

	err := d.Run(ctx)
	assert.Equal(t, Closed, d.State())
	return rec, err
}

func TestDriver_FixedDuty(t *testing.T) {
	tests := []struct {
		name string
		duty int
	}{
		{name: "one tick", duty: 1},
		{name: "quarter", duty: 5},
		{name: "half", duty: 10},
		{name: "all but one", duty: 19},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := &fakeOutput{}
			rec, err := runRecorded(t, out, tt.duty, 3)
			require.NoError(t, err)
			require.Len(t, rec.levels, 3*testCfg.TicksPerCycle)

			for p := 0; p < 3; p++ {
				period := rec.levels[p*testCfg.TicksPerCycle : (p+1)*testCfg.TicksPerCycle]
				high := 0
				for i, level := range period {
					assert.Equal(t, i < tt.duty, level, "period %d tick %d", p, i)
					if level {
						high++
					}
				}
				assert.Equal(t, tt.duty, high)
				assert.Equal(t, testCfg.TicksPerCycle-tt.duty, len(period)-high)
				assert.Equal(t, 2*(p+1), rec.writes[p], "two writes per period")
			}

			// The final forced low comes after the last period.
			writes := out.Writes()
			assert.Len(t, writes, 3*2+1)
			assert.False(t, writes[len(writes)-1])
		})
	}
}

func TestDriver_EdgeCases(t *testing.T) {
	t.Run("zero duty never writes high", func(t *testing.T) {
		out := &fakeOutput{}
		rec, err := runRecorded(t, out, 0, 2)
		require.NoError(t, err)
		assert.Equal(t, []int{0, 0}, rec.writes)
		assert.Equal(t, []bool{false}, out.Writes())
	})

	t.Run("full duty writes once", func(t *testing.T) {
		out := &fakeOutput{}
		rec, err := runRecorded(t, out, testCfg.TicksPerCycle, 2)
		require.NoError(t, err)
		assert.Equal(t, []int{1, 1}, rec.writes)
		for _, level := range rec.levels {
			assert.True(t, level)
		}
		assert.Equal(t, []bool{true, false}, out.Writes())
	})
}

func TestDriver_SetLatestWins(t *testing.T) {
	out := &fakeOutput{}
	d := New(out, testCfg)

	d.Set(3)
	d.Set(7)
	d.Set(12)

	assert.Len(t, d.queue, 1)
	assert.Equal(t, 12, <-d.queue)
	assert.Equal(t, 0, d.Duty())
}

func TestDriver_DutyChangesAtPeriodStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := &fakeOutput{}
	d := New(out, testCfg)
	var levels []bool
	d.sleep = func(time.Duration) {
		levels = append(levels, out.Level())
		switch len(levels) {
		case 3:
			// Mid period change must wait for the next period.
			d.Set(15)
		case 2 * testCfg.TicksPerCycle:
			cancel()
		}
	}
	d.Set(5)

	require.NoError(t, d.Run(ctx))

	high := func(ticks []bool) int {
		n := 0
		for _, l := range ticks {
			if l {
				n++
			}
		}
		return n
	}
	assert.Equal(t, 5, high(levels[:testCfg.TicksPerCycle]))
	assert.Equal(t, 15, high(levels[testCfg.TicksPerCycle:]))
}

func TestDriver_Close(t *testing.T) {
	t.Run("never started", func(t *testing.T) {
		out := &fakeOutput{}
		d := New(out, testCfg)

		require.NoError(t, d.Close())
		require.NoError(t, d.Close())

		assert.Equal(t, Closed, d.State())
		assert.Equal(t, 1, out.closed)
		assert.Equal(t, []bool{false}, out.Writes())
		assert.ErrorIs(t, d.Run(context.Background()), ErrClosed)
	})

	t.Run("while running", func(t *testing.T) {
		out := &fakeOutput{}
		d := New(out, testCfg)
		d.sleep = func(time.Duration) { time.Sleep(time.Millisecond) }
		d.Set(10)

		errCh := make(chan error, 1)
		go func() { errCh <- d.Run(context.Background()) }()

		require.Eventually(t, func() bool { return d.State() == Running }, time.Second, time.Millisecond)

		done := make(chan error, 1)
		go func() { done <- d.Close() }()

		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("Close did not return")
		}

		assert.NoError(t, <-errCh)
		assert.NoError(t, d.Close())
		assert.Equal(t, Closed, d.State())
		assert.False(t, out.Level())
		assert.True(t, out.stopped)
		assert.Equal(t, 1, out.closed)
	})
}

func TestDriver_WriteError(t *testing.T) {
	out := &fakeOutput{failOn: 1}
	d := New(out, testCfg)
	d.sleep = func(time.Duration) {}
	d.Set(5)

	err := d.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bus error")
	assert.Equal(t, Closed, d.State())
	assert.False(t, out.Level())
	assert.Equal(t, 1, out.closed)
}

func TestDriver_RunTwice(t *testing.T) {
	out := &fakeOutput{}
	d := New(out, testCfg)
	d.sleep = func(time.Duration) { time.Sleep(100 * time.Microsecond) }

	ctx, cancel := context.WithCancel(context.Background())
	go d.Run(ctx)
	require.Eventually(t, func() bool { return d.State() == Running }, time.Second, time.Millisecond)

	assert.Error(t, d.Run(ctx))

	cancel()
	select {
	case <-d.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("driver did not stop")
	}
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "idle", Idle.String())
	assert.Equal(t, "running", Running.String())
	assert.Equal(t, "draining", Draining.String())
	assert.Equal(t, "closed", Closed.String())
	assert.Equal(t, "State(9)", State(9).String())
}
