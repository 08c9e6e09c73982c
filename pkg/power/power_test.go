package power

import (
	"errors"
	"testing"

	"github.com/itohio/goald/pkg/daq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSwitch(t *testing.T) (*Switch, *daq.Mock) {
	t.Helper()
	dev := daq.NewMock(nil)
	require.NoError(t, dev.Connect())
	s, err := New(dev, "Main Power", "line11")
	require.NoError(t, err)
	return s, dev
}

func TestNew_ForcesOff(t *testing.T) {
	s, dev := newTestSwitch(t)
	defer s.Close()

	assert.False(t, s.State())
	writes := dev.Writes("line11")
	require.Len(t, writes, 1)
	assert.False(t, writes[0].Level)
}

func TestSwitch_Toggle(t *testing.T) {
	s, dev := newTestSwitch(t)
	defer s.Close()

	on, err := s.Toggle()
	require.NoError(t, err)
	assert.True(t, on)
	assert.True(t, s.State())
	assert.True(t, dev.Level("line11"))

	on, err = s.Toggle()
	require.NoError(t, err)
	assert.False(t, on)
	assert.False(t, dev.Level("line11"))
}

func TestSwitch_ToggleFailureKeepsState(t *testing.T) {
	s, dev := newTestSwitch(t)
	defer s.Close()

	dev.FailWrites("line11", errors.New("relay"))
	on, err := s.Toggle()
	assert.Error(t, err)
	assert.False(t, on)
	assert.False(t, s.State())
}

func TestSwitch_Set(t *testing.T) {
	s, dev := newTestSwitch(t)
	defer s.Close()

	require.NoError(t, s.Set(true))
	require.NoError(t, s.Set(true))
	assert.True(t, dev.Level("line11"))
	require.NoError(t, s.Set(false))
	assert.False(t, s.State())
}

func TestSwitch_Close(t *testing.T) {
	s, dev := newTestSwitch(t)
	require.NoError(t, s.Set(true))

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.False(t, dev.Level("line11"))
	assert.False(t, s.State())

	assert.ErrorIs(t, s.Set(true), ErrClosed)
	_, err := s.Toggle()
	assert.ErrorIs(t, err, ErrClosed)
}

func TestNew_NotConnected(t *testing.T) {
	dev := daq.NewMock(nil)
	_, err := New(dev, "Main Power", "line11")
	assert.ErrorIs(t, err, daq.ErrNotConnected)
}

// stopFailing wraps an output whose Stop fails after the level was written.
type stopFailing struct {
	daq.DigitalOutput
	err error
}

func (o stopFailing) Stop() error { return o.err }

func TestSwitch_ToggleReportsLineAfterStopFailure(t *testing.T) {
	dev := daq.NewMock(nil)
	require.NoError(t, dev.Connect())
	out, err := dev.OpenDigitalOutput("line11")
	require.NoError(t, err)

	stopErr := errors.New("task stuck")
	s := &Switch{name: "Main Power", out: stopFailing{DigitalOutput: out, err: stopErr}}

	on, err := s.Toggle()
	assert.ErrorIs(t, err, stopErr)
	assert.True(t, on, "the write reached the line")
	assert.True(t, s.State())
	assert.True(t, dev.Level("line11"))

	dev.FailWrites("line11", errors.New("relay"))
	on, err = s.Toggle()
	assert.Error(t, err)
	assert.True(t, on, "a failed write leaves the line as it was")
	assert.True(t, dev.Level("line11"))
}
