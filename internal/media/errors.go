package media

import (
	"errors"
	"fmt"
	"strings"
)

// Static errors for media operations. Callers classify outcomes with errors.Is.
var (
	// ErrMissingDependency is returned when ffmpeg or ffprobe cannot be found.
	ErrMissingDependency = errors.New("missing dependency")
	// ErrInvalidInput is returned when a job references missing or unreadable
	// files, has no images, or carries a malformed resolution.
	ErrInvalidInput = errors.New("invalid input")
	// ErrProbeFailure is returned when the audio duration cannot be determined.
	ErrProbeFailure = errors.New("probe failure")
	// ErrEncodeFailure is returned when the engine exits non-zero without
	// having been cancelled.
	ErrEncodeFailure = errors.New("encode failure")
	// ErrCancelled is reported when a run was terminated on request.
	ErrCancelled = errors.New("cancelled")
	// ErrAlreadyStarted is returned when a Supervisor is started twice.
	ErrAlreadyStarted = errors.New("supervisor already started")
)

// EncodeError describes a failed engine run, including the last error-like
// diagnostic lines seen before exit.
type EncodeError struct {
	ExitCode int
	Lines    []string
	Err      error
}

func (e *EncodeError) Error() string {
	msg := fmt.Sprintf("ffmpeg exited with code %d", e.ExitCode)
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if len(e.Lines) > 0 {
		msg += "\nlast errors:\n - " + strings.Join(e.Lines, "\n - ")
	}
	return msg
}

// Unwrap lets errors.Is match ErrEncodeFailure as well as the underlying
// process error.
func (e *EncodeError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrEncodeFailure}
	}
	return []error{ErrEncodeFailure, e.Err}
}
