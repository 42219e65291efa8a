package media

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// runFunc executes a short-lived command and returns its stdout.
// It is a seam for tests.
type runFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

// execOutput runs name with args and returns stdout. On failure the error
// includes stderr.
func execOutput(ctx context.Context, name string, args ...string) ([]byte, error) {
	// #nosec G204 - name comes from configuration
	cmd := exec.CommandContext(ctx, name, args...)

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%s cancelled: %w", name, ctx.Err())
		}
		return nil, fmt.Errorf("%w, stderr: %s", err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

// FFprobe implements Prober using the ffprobe CLI.
type FFprobe struct {
	// ffprobePath is the path to the ffprobe binary. Defaults to "ffprobe".
	ffprobePath string
	run         runFunc
}

var _ Prober = (*FFprobe)(nil)

// NewFFprobe creates a new FFprobe.
// If ffprobePath is empty, it defaults to "ffprobe" (found via PATH).
func NewFFprobe(ffprobePath string) *FFprobe {
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &FFprobe{ffprobePath: ffprobePath, run: execOutput}
}

// Duration returns the container duration of path in seconds.
// It asks ffprobe for format.duration only, printed as a bare number.
func (p *FFprobe) Duration(ctx context.Context, path string) (float64, error) {
	out, err := p.run(ctx, p.ffprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	if err != nil {
		return 0, fmt.Errorf("%w: ffprobe %s: %w", ErrProbeFailure, path, err)
	}

	raw := strings.TrimSpace(string(out))
	duration, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: parse duration %q: %w", ErrProbeFailure, raw, err)
	}
	if math.IsNaN(duration) || math.IsInf(duration, 0) || duration <= 0 {
		return 0, fmt.Errorf("%w: duration %q is not positive", ErrProbeFailure, raw)
	}

	return duration, nil
}

// FFmpegEngine implements Engine by starting a Supervisor per run.
type FFmpegEngine struct {
	// ffmpegPath is the path to the ffmpeg binary. Defaults to "ffmpeg".
	ffmpegPath string
	opts       []SupervisorOption
}

var _ Engine = (*FFmpegEngine)(nil)

// NewFFmpegEngine creates a new FFmpegEngine.
// If ffmpegPath is empty, it defaults to "ffmpeg" (found via PATH).
// opts are applied to every Supervisor it starts.
func NewFFmpegEngine(ffmpegPath string, opts ...SupervisorOption) *FFmpegEngine {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &FFmpegEngine{ffmpegPath: ffmpegPath, opts: opts}
}

// Launch implements Engine.
func (e *FFmpegEngine) Launch(ctx context.Context, cmd EngineCommand, total float64) (Handle, error) {
	s := NewSupervisor(e.ffmpegPath, cmd, total, e.opts...)
	if err := s.Start(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// CheckDependencies verifies that both tools can be found. It must pass
// before any job is accepted. Errors wrap ErrMissingDependency.
func CheckDependencies(ffmpegPath, ffprobePath string) error {
	for _, tool := range []string{ffmpegPath, ffprobePath} {
		if _, err := exec.LookPath(tool); err != nil {
			return fmt.Errorf("%w: %s not found: %w", ErrMissingDependency, tool, err)
		}
	}
	return nil
}

// ToolVersion returns the first line of `tool -version`.
func ToolVersion(ctx context.Context, tool string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	out, err := execOutput(ctx, tool, "-version")
	if err != nil {
		return "", err
	}
	first, _, _ := strings.Cut(strings.TrimSpace(string(out)), "\n")
	return strings.TrimSpace(first), nil
}
