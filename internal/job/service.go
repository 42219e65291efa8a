package job

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/maauso/stillcast/internal/media"
	"github.com/maauso/stillcast/internal/metrics"
	"github.com/maauso/stillcast/internal/storage"
)

var (
	// ErrJobNotActive is returned when cancelling or processing a job that
	// has already finished or is owned by nobody.
	ErrJobNotActive = errors.New("job is not active")
	// ErrJobActive is returned when deleting a job that is queued or running.
	ErrJobActive = errors.New("job is still active")
)

// Assembler is the media port used by RenderService.
type Assembler interface {
	Assemble(ctx context.Context, job media.Job) (media.Handle, media.Plan, error)
}

var _ Assembler = (*media.Assembler)(nil)

// RenderInput describes a render request. Images and audio are given either
// as paths on the server or as base64 payloads, not both.
type RenderInput struct {
	ImagePaths   []string
	ImagesBase64 []string
	AudioPath    string
	AudioBase64  string
	// OutputPath defaults to <temp dir>/<job id>.mp4.
	OutputPath string
	Resolution string
	PushToS3   bool
}

// RenderService runs render jobs through the media assembler and keeps their
// records current.
type RenderService struct {
	repo      Repository
	assembler Assembler
	storage   storage.Storage
	logger    *slog.Logger

	// mediaRoot confines caller-given paths; empty refuses them.
	mediaRoot     string
	mediaRootReal string

	// slots bounds concurrent renders; nil means unbounded.
	slots *semaphore.Weighted
	// closed is cancelled by Shutdown to release jobs waiting for a slot.
	closed   context.Context
	closeAll context.CancelFunc

	mu     sync.Mutex
	active map[string]context.CancelFunc
	wg     sync.WaitGroup
}

// ServiceOption configures a RenderService.
type ServiceOption func(*RenderService)

// WithMaxConcurrent limits how many renders run at once. Jobs beyond the
// limit stay IN_QUEUE until a slot frees up. n <= 0 means no limit.
func WithMaxConcurrent(n int) ServiceOption {
	return func(s *RenderService) {
		if n > 0 {
			s.slots = semaphore.NewWeighted(int64(n))
		}
	}
}

// WithMediaRoot allows image, audio and output paths inside root. Relative
// paths are taken relative to root. Without a media root only base64 media
// is accepted and outputs go to the temp dir.
func WithMediaRoot(root string) ServiceOption {
	return func(s *RenderService) {
		if root == "" {
			return
		}
		if abs, err := filepath.Abs(root); err == nil {
			root = abs
		}
		s.mediaRoot = filepath.Clean(root)
		s.mediaRootReal = resolveLinks(s.mediaRoot)
	}
}

// NewRenderService creates a RenderService. A nil logger uses slog.Default.
func NewRenderService(repo Repository, assembler Assembler, store storage.Storage, logger *slog.Logger, opts ...ServiceOption) *RenderService {
	if logger == nil {
		logger = slog.Default()
	}
	closed, closeAll := context.WithCancel(context.Background())
	s := &RenderService{
		repo:      repo,
		assembler: assembler,
		storage:   store,
		logger:    logger,
		closed:    closed,
		closeAll:  closeAll,
		active:    make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateJob stages the inputs, validates them and persists an IN_QUEUE job.
// Invalid input is reported as media.ErrInvalidInput; nothing is saved and
// staged files are removed.
func (s *RenderService) CreateJob(ctx context.Context, in RenderInput) (*Job, error) {
	job := New()
	job.Resolution = in.Resolution
	job.PushToS3 = in.PushToS3

	if err := s.stage(ctx, job, in); err != nil {
		s.cleanupTemp(ctx, job)
		metrics.RecordRejected("invalid_input")
		return nil, err
	}

	if err := job.MediaJob().Validate(); err != nil {
		s.cleanupTemp(ctx, job)
		metrics.RecordRejected("invalid_input")
		return nil, err
	}

	s.logger.Info("creating new job",
		slog.String("job_id", job.ID),
		slog.Int("images", len(job.ImagePaths)),
		slog.String("output", job.OutputPath),
		slog.String("resolution", job.Resolution),
		slog.Bool("push_to_s3", job.PushToS3),
	)

	if err := s.repo.Save(ctx, job); err != nil {
		s.logger.Error("failed to save job",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
		s.cleanupTemp(ctx, job)
		return nil, err
	}

	return job, nil
}

// stage fills the job's media paths, writing base64 payloads to temp storage.
func (s *RenderService) stage(ctx context.Context, job *Job, in RenderInput) error {
	if len(in.ImagePaths) > 0 && len(in.ImagesBase64) > 0 {
		return fmt.Errorf("%w: give image paths or base64 images, not both", media.ErrInvalidInput)
	}
	if in.AudioPath != "" && in.AudioBase64 != "" {
		return fmt.Errorf("%w: give an audio path or base64 audio, not both", media.ErrInvalidInput)
	}

	for i, p := range in.ImagePaths {
		path, err := s.confine(p)
		if err != nil {
			return fmt.Errorf("image %d: %w", i, err)
		}
		job.ImagePaths = append(job.ImagePaths, path)
	}
	for i, payload := range in.ImagesBase64 {
		data, err := decodeBase64(payload)
		if err != nil {
			return fmt.Errorf("%w: image %d: %w", media.ErrInvalidInput, i, err)
		}
		ext, ok := imageExtensions[http.DetectContentType(data)]
		if !ok {
			return fmt.Errorf("%w: image %d: unsupported format %s", media.ErrInvalidInput, i, http.DetectContentType(data))
		}
		path, err := s.storage.SaveTemp(ctx, fmt.Sprintf("%s_image%02d%s", job.ID, i, ext), bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("stage image %d: %w", i, err)
		}
		job.TempPaths = append(job.TempPaths, path)
		job.ImagePaths = append(job.ImagePaths, path)
	}

	if in.AudioPath != "" {
		path, err := s.confine(in.AudioPath)
		if err != nil {
			return fmt.Errorf("audio: %w", err)
		}
		job.AudioPath = path
	}
	if in.AudioBase64 != "" {
		data, err := decodeBase64(in.AudioBase64)
		if err != nil {
			return fmt.Errorf("%w: audio: %w", media.ErrInvalidInput, err)
		}
		path, err := s.storage.SaveTemp(ctx, job.ID+"_audio"+audioExtensions[http.DetectContentType(data)], bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("stage audio: %w", err)
		}
		job.TempPaths = append(job.TempPaths, path)
		job.AudioPath = path
	}

	if in.OutputPath == "" {
		job.OutputPath = filepath.Join(s.storage.TempDir(), job.ID+".mp4")
		return nil
	}
	path, err := s.confine(in.OutputPath)
	if err != nil {
		return fmt.Errorf("output: %w", err)
	}
	job.OutputPath = path
	return nil
}

// confine resolves a caller-given path against the media root and rejects it
// unless it stays inside the root once symlinks are followed. It returns the
// cleaned absolute path.
func (s *RenderService) confine(path string) (string, error) {
	if s.mediaRoot == "" {
		return "", fmt.Errorf("%w: server paths are disabled, send base64 media", media.ErrInvalidInput)
	}
	abs := path
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(s.mediaRoot, abs)
	}
	abs = filepath.Clean(abs)

	if !within(s.mediaRoot, abs) || !within(s.mediaRootReal, resolveLinks(abs)) {
		return "", fmt.Errorf("%w: %s is outside the media root", media.ErrInvalidInput, path)
	}
	return abs, nil
}

// resolveLinks follows symlinks in path. A path that does not exist yet, such
// as an output, is resolved through its parent directory. A dangling symlink
// resolves to "", which no root contains.
func resolveLinks(path string) string {
	if real, err := filepath.EvalSymlinks(path); err == nil {
		return real
	}
	if info, err := os.Lstat(path); err == nil && info.Mode()&os.ModeSymlink != 0 {
		return ""
	}
	if dir, err := filepath.EvalSymlinks(filepath.Dir(path)); err == nil {
		return filepath.Join(dir, filepath.Base(path))
	}
	return path
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	return err == nil && filepath.IsLocal(rel)
}

var imageExtensions = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/gif":  ".gif",
	"image/webp": ".webp",
	"image/bmp":  ".bmp",
}

// Unknown audio is staged without an extension; ffprobe sniffs the content.
var audioExtensions = map[string]string{
	"audio/mpeg":      ".mp3",
	"audio/wave":      ".wav",
	"audio/aiff":      ".aiff",
	"application/ogg": ".ogg",
	"video/mp4":       ".mp4",
}

// decodeBase64 accepts plain base64 or a data URL.
func decodeBase64(payload string) ([]byte, error) {
	if strings.HasPrefix(payload, "data:") {
		if _, rest, ok := strings.Cut(payload, ";base64,"); ok {
			payload = rest
		}
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(payload))
	if err != nil {
		return nil, fmt.Errorf("decode base64: %w", err)
	}
	if len(data) == 0 {
		return nil, errors.New("empty payload")
	}
	return data, nil
}

// ProcessExistingJob runs a queued job to completion. It returns nil when the
// job completes or is cancelled, and the cause when it fails. With a
// concurrency limit it first waits for a free slot.
func (s *RenderService) ProcessExistingJob(ctx context.Context, jobID string) error {
	if err := s.acquireSlot(ctx); err != nil {
		return err
	}
	defer s.releaseSlot()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	job, err := s.claim(ctx, jobID, cancel)
	if err != nil {
		return err
	}
	defer s.wg.Done()
	defer s.release(jobID)
	defer s.cleanupTemp(ctx, job)

	logger := s.logger.With(slog.String("job_id", jobID))
	logger.Info("processing job")

	h, plan, err := s.assembler.Assemble(runCtx, job.MediaJob())
	if err != nil {
		if runCtx.Err() != nil || errors.Is(err, media.ErrCancelled) {
			return s.finishCancelled(ctx, job, logger)
		}
		metrics.RecordRejected(rejectReason(err))
		return s.finishFailed(ctx, job, logger, err, nil)
	}

	job.SetDuration(plan.Total)
	s.save(ctx, job, logger)

	done := metrics.RenderStarted(plan.Total)
	terminal := media.Drain(h.Events(), func(ev media.Event) {
		switch ev.Kind {
		case media.EventProgress:
			job.UpdateProgress(ev.Percent, ev.Elapsed)
			s.save(ctx, job, logger)
		case media.EventLog:
			if ev.ErrorLike {
				logger.Debug("ffmpeg reported an error", slog.String("line", ev.Line))
			}
		}
	})

	switch terminal.Outcome {
	case media.OutcomeSucceeded:
		done(string(media.OutcomeSucceeded))
		return s.finishSucceeded(ctx, job, logger)
	case media.OutcomeCancelled:
		done(string(media.OutcomeCancelled))
		return s.finishCancelled(ctx, job, logger)
	case media.OutcomeFailed:
		done(string(media.OutcomeFailed))
		var encErr *media.EncodeError
		if errors.As(terminal.Err, &encErr) {
			return s.finishFailed(ctx, job, logger, terminal.Err, encErr.Lines)
		}
		return s.finishFailed(ctx, job, logger, terminal.Err, nil)
	default:
		done(string(media.OutcomeFailed))
		return s.finishFailed(ctx, job, logger, errors.New("engine stopped without reporting an outcome"), nil)
	}
}

// claim moves a queued job to RUNNING and registers its cancel function.
// Holding mu across the read and the registration keeps Cancel from missing a
// job that is just starting, and Shutdown from missing one it must wait for.
// After Shutdown no job is claimed.
func (s *RenderService) claim(ctx context.Context, jobID string, cancel context.CancelFunc) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed.Err() != nil {
		return nil, fmt.Errorf("%w: service is shutting down", ErrJobNotActive)
	}
	if _, running := s.active[jobID]; running {
		return nil, ErrJobNotActive
	}

	job, err := s.repo.FindByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if err := job.Start(); err != nil {
		return nil, fmt.Errorf("%w: status %s", ErrJobNotActive, job.GetStatus())
	}
	if err := s.repo.Save(ctx, job); err != nil {
		return nil, err
	}

	s.active[jobID] = cancel
	s.wg.Add(1)
	return job, nil
}

// acquireSlot blocks until a render slot is free, ctx ends or the service
// shuts down.
func (s *RenderService) acquireSlot(ctx context.Context) error {
	if s.slots == nil {
		return nil
	}
	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.closed, cancel)
	defer stop()

	if err := s.slots.Acquire(waitCtx, 1); err != nil {
		return fmt.Errorf("wait for a render slot: %w", err)
	}
	return nil
}

func (s *RenderService) releaseSlot() {
	if s.slots != nil {
		s.slots.Release(1)
	}
}

func (s *RenderService) release(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, jobID)
}

func (s *RenderService) finishSucceeded(ctx context.Context, job *Job, logger *slog.Logger) error {
	var url string
	if job.PushToS3 {
		key := "renders/" + job.ID + filepath.Ext(job.OutputPath)
		var err error
		url, err = s.storage.Publish(ctx, key, job.OutputPath)
		if err != nil {
			return s.finishFailed(ctx, job, logger, fmt.Errorf("publish video: %w", err), nil)
		}
	}

	if err := job.Complete(url); err != nil {
		return err
	}
	s.save(ctx, job, logger)
	logger.Info("job completed",
		slog.String("output", job.OutputPath),
		slog.String("video_url", url),
	)
	return nil
}

func (s *RenderService) finishFailed(ctx context.Context, job *Job, logger *slog.Logger, cause error, lines []string) error {
	msg := cause.Error()
	var encErr *media.EncodeError
	if errors.As(cause, &encErr) {
		msg = fmt.Sprintf("ffmpeg exited with code %d", encErr.ExitCode)
	}

	if err := job.Fail(msg, lines); err != nil {
		return err
	}
	s.save(ctx, job, logger)
	logger.Error("job failed",
		slog.String("error", msg),
		slog.Any("last_errors", lines),
	)
	return cause
}

func (s *RenderService) finishCancelled(ctx context.Context, job *Job, logger *slog.Logger) error {
	if err := job.Cancel(); err != nil {
		return err
	}
	s.save(ctx, job, logger)
	logger.Info("job cancelled")
	return nil
}

// save persists the job and logs failures.
func (s *RenderService) save(ctx context.Context, job *Job, logger *slog.Logger) {
	if err := s.repo.Save(context.WithoutCancel(ctx), job); err != nil {
		logger.Error("failed to save job", slog.String("error", err.Error()))
	}
}

func (s *RenderService) cleanupTemp(ctx context.Context, job *Job) {
	if len(job.TempPaths) == 0 {
		return
	}
	if err := s.storage.CleanupTemp(context.WithoutCancel(ctx), job.TempPaths); err != nil {
		s.logger.Warn("failed to clean staged inputs",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
	}
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, media.ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, media.ErrProbeFailure):
		return "probe_failure"
	case errors.Is(err, media.ErrMissingDependency):
		return "missing_dependency"
	default:
		return "launch_failure"
	}
}

// Cancel stops a running job or cancels a queued one. It returns
// ErrJobNotFound for unknown IDs and ErrJobNotActive for finished jobs.
// A running job reaches CANCELLED once its engine has exited.
func (s *RenderService) Cancel(ctx context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cancel, ok := s.active[jobID]; ok {
		s.logger.Info("cancelling job", slog.String("job_id", jobID))
		cancel()
		return nil
	}

	job, err := s.repo.FindByID(ctx, jobID)
	if err != nil {
		return err
	}
	if job.GetStatus() != StatusInQueue {
		return ErrJobNotActive
	}
	if err := job.Cancel(); err != nil {
		return err
	}
	if err := s.repo.Save(ctx, job); err != nil {
		return err
	}
	s.cleanupTemp(ctx, job)
	metrics.RecordRejected("cancelled")
	s.logger.Info("queued job cancelled", slog.String("job_id", jobID))
	return nil
}

// DeleteJob removes a finished job. Outputs the service placed in its temp
// dir are removed with it; caller-chosen output paths are left alone.
func (s *RenderService) DeleteJob(ctx context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.repo.FindByID(ctx, jobID)
	if err != nil {
		return err
	}
	if !job.IsTerminal() {
		return ErrJobActive
	}

	if filepath.Dir(job.OutputPath) == filepath.Clean(s.storage.TempDir()) {
		if err := s.storage.CleanupTemp(ctx, []string{job.OutputPath}); err != nil {
			s.logger.Warn("failed to remove output",
				slog.String("job_id", jobID),
				slog.String("error", err.Error()),
			)
		}
	}
	if err := s.repo.Delete(ctx, jobID); err != nil {
		return err
	}
	s.logger.Info("job deleted", slog.String("job_id", jobID))
	return nil
}

// GetJob retrieves a job by ID.
func (s *RenderService) GetJob(ctx context.Context, jobID string) (*Job, error) {
	return s.repo.FindByID(ctx, jobID)
}

// ListJobs returns all jobs, newest first.
func (s *RenderService) ListJobs(ctx context.Context) ([]*Job, error) {
	return s.repo.List(ctx)
}

// Shutdown cancels every running job, releases jobs still waiting for a slot
// and waits for running jobs to finish or for ctx to expire.
func (s *RenderService) Shutdown(ctx context.Context) error {
	s.closeAll()

	s.mu.Lock()
	for _, cancel := range s.active {
		cancel()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for renders: %w", ctx.Err())
	}
}
