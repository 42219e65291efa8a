// Package job tracks render jobs submitted to the server: their state machine,
// persistence port and the service that runs them through the media assembler.
package job

import (
	"errors"
	"sync"
	"time"

	"github.com/maauso/stillcast/internal/job/id"
	"github.com/maauso/stillcast/internal/media"
)

// Status represents the current state of a Job.
type Status string

const (
	// StatusInQueue indicates the job is accepted and waiting to start.
	StatusInQueue Status = "IN_QUEUE"
	// StatusRunning indicates ffprobe or ffmpeg is working on the job.
	StatusRunning Status = "RUNNING"
	// StatusCompleted indicates the video was written (and published if requested).
	StatusCompleted Status = "COMPLETED"
	// StatusFailed indicates probing, encoding or publishing failed.
	StatusFailed Status = "FAILED"
	// StatusCancelled indicates the job was cancelled on request.
	StatusCancelled Status = "CANCELLED"
)

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("invalid state transition")

// validTransitions defines which state transitions are allowed.
var validTransitions = map[Status][]Status{
	StatusInQueue:   {StatusRunning, StatusCancelled},
	StatusRunning:   {StatusCompleted, StatusFailed, StatusCancelled},
	StatusCompleted: {},
	StatusFailed:    {},
	StatusCancelled: {},
}

// canTransition checks if a transition from one status to another is valid.
func canTransition(from, to Status) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Job is the server-side record of one render.
type Job struct {
	mu sync.RWMutex

	// ID is the unique identifier for this job.
	ID string
	// Status is the current job state.
	Status Status
	// Progress is the percentage of completion (0-100). It never decreases.
	Progress int
	// Elapsed is the encoded position in seconds reported by ffmpeg.
	Elapsed float64
	// Duration is the probed audio length in seconds.
	Duration float64
	// Error contains the failure message if the job failed.
	Error string
	// ErrorLines are the last error-like ffmpeg lines seen before a failure.
	ErrorLines []string
	// ImagePaths are the images in display order.
	ImagePaths []string
	// AudioPath is the soundtrack.
	AudioPath string
	// OutputPath is where the video is written.
	OutputPath string
	// Resolution optionally forces the frame size ("WxH").
	Resolution string
	// PushToS3 indicates whether to upload the result to S3.
	PushToS3 bool
	// VideoURL is the S3 URL if PushToS3 was true.
	VideoURL string
	// TempPaths are staged inputs removed once the job ends.
	TempPaths []string
	// CreatedAt is when the job was created.
	CreatedAt time.Time
	// UpdatedAt is when the job was last updated.
	UpdatedAt time.Time
	// StartedAt is when processing started.
	StartedAt time.Time
	// CompletedAt is when processing finished.
	CompletedAt time.Time
}

// New creates a new Job with a generated ID and initial IN_QUEUE status.
func New() *Job {
	return NewWithID(id.Generate())
}

// NewWithID creates a new Job with the specified ID and initial IN_QUEUE status.
func NewWithID(jobID string) *Job {
	now := time.Now()
	return &Job{
		ID:        jobID,
		Status:    StatusInQueue,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// TransitionTo attempts to change the job status to the specified state.
// Returns ErrInvalidTransition if the transition is not allowed.
func (j *Job) TransitionTo(status Status) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.transitionLocked(status)
}

func (j *Job) transitionLocked(status Status) error {
	if !canTransition(j.Status, status) {
		return ErrInvalidTransition
	}

	j.Status = status
	j.UpdatedAt = time.Now()

	switch status {
	case StatusRunning:
		j.StartedAt = j.UpdatedAt
	case StatusCompleted, StatusFailed, StatusCancelled:
		j.CompletedAt = j.UpdatedAt
	}
	return nil
}

// Start transitions the job from IN_QUEUE to RUNNING.
func (j *Job) Start() error {
	return j.TransitionTo(StatusRunning)
}

// Complete transitions the job to COMPLETED, recording the published URL if
// there is one, and pins progress to 100.
func (j *Job) Complete(videoURL string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.transitionLocked(StatusCompleted); err != nil {
		return err
	}
	j.Progress = 100
	j.VideoURL = videoURL
	return nil
}

// Fail transitions the job to FAILED with an error message and the retained
// diagnostic lines.
func (j *Job) Fail(errMsg string, lines []string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.transitionLocked(StatusFailed); err != nil {
		return err
	}
	j.Error = errMsg
	j.ErrorLines = append([]string(nil), lines...)
	return nil
}

// Cancel transitions the job to CANCELLED.
func (j *Job) Cancel() error {
	return j.TransitionTo(StatusCancelled)
}

// GetStatus returns the current job status (thread-safe).
func (j *Job) GetStatus() Status {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status
}

// UpdateProgress records a progress report. Percent is clamped to [0, 100]
// and lower values than the current one are ignored.
func (j *Job) UpdateProgress(percent, elapsed float64) {
	j.mu.Lock()
	defer j.mu.Unlock()
	p := int(percent)
	if p < 0 {
		p = 0
	}
	if p > 100 {
		p = 100
	}
	if p > j.Progress {
		j.Progress = p
	}
	if elapsed > j.Elapsed {
		j.Elapsed = elapsed
	}
	j.UpdatedAt = time.Now()
}

// SetDuration records the probed audio length.
func (j *Job) SetDuration(seconds float64) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Duration = seconds
	j.UpdatedAt = time.Now()
}

// IsTerminal returns true if the job is in a terminal state.
func (j *Job) IsTerminal() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status == StatusCompleted ||
		j.Status == StatusFailed ||
		j.Status == StatusCancelled
}

// MediaJob returns the assembly request for this job.
func (j *Job) MediaJob() media.Job {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return media.Job{
		Images:     append([]string(nil), j.ImagePaths...),
		Audio:      j.AudioPath,
		Output:     j.OutputPath,
		Resolution: j.Resolution,
	}
}

// Clone creates a deep copy of the job for safe reads.
func (j *Job) Clone() *Job {
	j.mu.RLock()
	defer j.mu.RUnlock()

	return &Job{
		ID:          j.ID,
		Status:      j.Status,
		Progress:    j.Progress,
		Elapsed:     j.Elapsed,
		Duration:    j.Duration,
		Error:       j.Error,
		ErrorLines:  append([]string(nil), j.ErrorLines...),
		ImagePaths:  append([]string(nil), j.ImagePaths...),
		AudioPath:   j.AudioPath,
		OutputPath:  j.OutputPath,
		Resolution:  j.Resolution,
		PushToS3:    j.PushToS3,
		VideoURL:    j.VideoURL,
		TempPaths:   append([]string(nil), j.TempPaths...),
		CreatedAt:   j.CreatedAt,
		UpdatedAt:   j.UpdatedAt,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
	}
}
