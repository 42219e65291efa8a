package media

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockProber is a mock implementation of Prober.
type MockProber struct {
	mock.Mock
}

func (m *MockProber) Duration(ctx context.Context, path string) (float64, error) {
	args := m.Called(ctx, path)
	return args.Get(0).(float64), args.Error(1)
}

// MockEngine is a mock implementation of Engine.
type MockEngine struct {
	mock.Mock
}

func (m *MockEngine) Launch(ctx context.Context, cmd EngineCommand, total float64) (Handle, error) {
	args := m.Called(ctx, cmd, total)
	h, _ := args.Get(0).(Handle)
	return h, args.Error(1)
}

// stubHandle is a Handle that replays a fixed terminal event.
type stubHandle struct {
	events chan Event
}

func newStubHandle(terminal Event) *stubHandle {
	ch := make(chan Event, 1)
	ch <- terminal
	close(ch)
	return &stubHandle{events: ch}
}

func (h *stubHandle) Events() <-chan Event { return h.events }
func (h *stubHandle) Cancel()              {}

func TestAssembler_Assemble(t *testing.T) {
	dir, images, audio := writeInputs(t, 3)
	job := Job{Images: images, Audio: audio, Output: filepath.Join(dir, "out.mp4")}

	prober := new(MockProber)
	engine := new(MockEngine)
	handle := newStubHandle(Event{Kind: EventTerminal, Outcome: OutcomeSucceeded})

	prober.On("Duration", mock.Anything, audio).Return(30.0, nil)
	engine.On("Launch", mock.Anything, mock.MatchedBy(func(cmd EngineCommand) bool {
		return strings.HasSuffix(cmd.FilterGraph, "concat=n=3:v=1:a=0[v]") &&
			cmd.Args[len(cmd.Args)-1] == job.Output
	}), 30.0).Return(handle, nil)

	a := NewAssembler(prober, engine, DefaultEncodeOptions(), testLogger())
	h, plan, err := a.Assemble(context.Background(), job)

	require.NoError(t, err)
	assert.Equal(t, []float64{10, 10, 10}, plan.Durations)
	assert.Equal(t, OutcomeSucceeded, Drain(h.Events(), nil).Outcome)
	prober.AssertExpectations(t)
	engine.AssertExpectations(t)
}

func TestAssembler_ProbeFailureNeverLaunches(t *testing.T) {
	dir, images, audio := writeInputs(t, 2)
	job := Job{Images: images, Audio: audio, Output: filepath.Join(dir, "out.mp4")}

	prober := new(MockProber)
	engine := new(MockEngine)
	prober.On("Duration", mock.Anything, audio).
		Return(0.0, fmt.Errorf("%w: ffprobe %s: exit status 1", ErrProbeFailure, audio))

	a := NewAssembler(prober, engine, DefaultEncodeOptions(), testLogger())
	h, _, err := a.Assemble(context.Background(), job)

	assert.ErrorIs(t, err, ErrProbeFailure)
	assert.Nil(t, h)
	engine.AssertNotCalled(t, "Launch", mock.Anything, mock.Anything, mock.Anything)
}

func TestAssembler_InvalidInputNeverProbes(t *testing.T) {
	dir, images, _ := writeInputs(t, 2)
	job := Job{Images: images, Audio: filepath.Join(dir, "missing.mp3"), Output: filepath.Join(dir, "out.mp4")}

	prober := new(MockProber)
	engine := new(MockEngine)

	a := NewAssembler(prober, engine, DefaultEncodeOptions(), testLogger())
	_, _, err := a.Assemble(context.Background(), job)

	assert.ErrorIs(t, err, ErrInvalidInput)
	prober.AssertNotCalled(t, "Duration", mock.Anything, mock.Anything)
	engine.AssertNotCalled(t, "Launch", mock.Anything, mock.Anything, mock.Anything)
}

func TestAssembler_AudioTooShort(t *testing.T) {
	dir, images, audio := writeInputs(t, 3)
	job := Job{Images: images, Audio: audio, Output: filepath.Join(dir, "out.mp4")}

	prober := new(MockProber)
	engine := new(MockEngine)
	prober.On("Duration", mock.Anything, audio).Return(0.01, nil)

	a := NewAssembler(prober, engine, DefaultEncodeOptions(), testLogger())
	_, _, err := a.Assemble(context.Background(), job)

	assert.ErrorIs(t, err, ErrInvalidInput)
	engine.AssertNotCalled(t, "Launch", mock.Anything, mock.Anything, mock.Anything)
}

func TestAssembler_LaunchError(t *testing.T) {
	dir, images, audio := writeInputs(t, 1)
	job := Job{Images: images, Audio: audio, Output: filepath.Join(dir, "out.mp4")}

	prober := new(MockProber)
	engine := new(MockEngine)
	launchErr := errors.New("start ffmpeg: permission denied")
	prober.On("Duration", mock.Anything, audio).Return(12.34, nil)
	engine.On("Launch", mock.Anything, mock.Anything, 12.34).Return(nil, launchErr)

	a := NewAssembler(prober, engine, DefaultEncodeOptions(), testLogger())
	h, _, err := a.Assemble(context.Background(), job)

	assert.ErrorIs(t, err, launchErr)
	assert.Nil(t, h)
}

func TestAssembler_Prepare(t *testing.T) {
	dir, images, audio := writeInputs(t, 1)
	job := Job{Images: images, Audio: audio, Output: filepath.Join(dir, "out.mp4"), Resolution: "320x240"}

	prober := new(MockProber)
	prober.On("Duration", mock.Anything, audio).Return(12.34, nil)

	a := NewAssembler(prober, new(MockEngine), DefaultEncodeOptions(), nil)
	plan, cmd, err := a.Prepare(context.Background(), job)

	require.NoError(t, err)
	assert.Equal(t, []float64{12.34}, plan.Durations)
	assert.Contains(t, cmd.Args, "scale=320:240,fps=30,format=yuv420p")
	assert.Empty(t, cmd.FilterGraph)
}
