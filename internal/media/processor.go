// Package media assembles still images and an audio track into a video by
// driving ffmpeg. It probes the audio duration, derives the timing plan,
// builds the engine command line, supervises the running engine and streams
// its progress as events.
package media

import "context"

// Prober reports the duration of a media file.
// Implementations should use ffprobe or a similar inspection tool.
type Prober interface {
	// Duration returns the container-level duration of the file in seconds.
	// Errors wrap ErrProbeFailure.
	Duration(ctx context.Context, path string) (float64, error)
}

// Engine launches supervised transcoding runs.
type Engine interface {
	// Launch starts the engine for cmd. total is the expected output length
	// in seconds and is used to turn parsed timestamps into percentages.
	// The returned Handle is already running.
	Launch(ctx context.Context, cmd EngineCommand, total float64) (Handle, error)
}

// Handle is a running engine invocation.
type Handle interface {
	// Events returns the progress channel. It delivers every event in stream
	// order, ends with exactly one Terminal event and is then closed.
	Events() <-chan Event

	// Cancel requests termination. It is safe to call at any time and from
	// any goroutine; calls after the run has finished are no-ops.
	Cancel()
}
