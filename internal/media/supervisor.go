package media

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync/atomic"
	"syscall"
	"time"
)

// State is the lifecycle position of a Supervisor.
type State int32

const (
	// StateIdle means Start has not been called.
	StateIdle State = iota
	// StateRunning means the engine process is alive or being reaped.
	StateRunning
	// StateSucceeded means the engine exited 0.
	StateSucceeded
	// StateFailed means the engine could not start or exited non-zero.
	StateFailed
	// StateCancelled means termination was requested before the run ended.
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether no further transition is possible.
func (s State) IsTerminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateCancelled
}

const (
	defaultErrorTail   = 3
	defaultGracePeriod = 5 * time.Second
	defaultEventBuffer = 64
	maxDiagnosticLine  = 1 << 20
)

// SupervisorOption configures a Supervisor.
type SupervisorOption func(*Supervisor)

// WithParser replaces the diagnostic parser.
func WithParser(p DiagnosticParser) SupervisorOption {
	return func(s *Supervisor) {
		if p != nil {
			s.parser = p
		}
	}
}

// WithLogger sets the logger used for lifecycle messages.
func WithLogger(l *slog.Logger) SupervisorOption {
	return func(s *Supervisor) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithErrorTail sets how many error-like lines are kept for the failure
// report. Values below 3 are raised to 3.
func WithErrorTail(n int) SupervisorOption {
	return func(s *Supervisor) {
		if n < defaultErrorTail {
			n = defaultErrorTail
		}
		s.tailSize = n
	}
}

// WithGracePeriod sets how long a cancelled engine may take to exit after
// SIGTERM before it is killed and its pipe closed.
func WithGracePeriod(d time.Duration) SupervisorOption {
	return func(s *Supervisor) {
		if d > 0 {
			s.grace = d
		}
	}
}

// WithDebugOutput mirrors the raw diagnostic stream to w.
func WithDebugOutput(w io.Writer) SupervisorOption {
	return func(s *Supervisor) {
		s.debug = w
	}
}

// Supervisor owns one engine invocation from spawn to reap.
//
// Exactly one worker goroutine reads the diagnostic stream and waits for the
// process. Cancel never touches the pipe: it sets a flag and cancels the
// command's context, which makes exec deliver SIGTERM. A Supervisor runs
// once; a new run needs a new Supervisor.
type Supervisor struct {
	binary   string
	command  EngineCommand
	total    float64
	parser   DiagnosticParser
	logger   *slog.Logger
	tailSize int
	grace    time.Duration
	debug    io.Writer

	state     atomic.Int32
	cancelled atomic.Bool
	stop      atomic.Pointer[context.CancelFunc]
	events    chan Event
}

var _ Handle = (*Supervisor)(nil)

// NewSupervisor prepares a run of binary with command. total is the expected
// output length in seconds.
func NewSupervisor(binary string, command EngineCommand, total float64, opts ...SupervisorOption) *Supervisor {
	if binary == "" {
		binary = "ffmpeg"
	}
	s := &Supervisor{
		binary:   binary,
		command:  command,
		total:    total,
		parser:   FFmpegDiagnostics{},
		logger:   slog.Default(),
		tailSize: defaultErrorTail,
		grace:    defaultGracePeriod,
		events:   make(chan Event, defaultEventBuffer),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	return State(s.state.Load())
}

// Events implements Handle.
func (s *Supervisor) Events() <-chan Event {
	return s.events
}

// Start spawns the engine and the worker that streams its events. Cancelling
// ctx has the same effect as Cancel. A spawn failure moves the Supervisor to
// StateFailed and closes the event channel without a Terminal event; the
// returned error is the notification.
func (s *Supervisor) Start(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return ErrAlreadyStarted
	}

	if err := ctx.Err(); err != nil {
		s.state.Store(int32(StateCancelled))
		close(s.events)
		return fmt.Errorf("%w: %w", ErrCancelled, err)
	}
	if s.cancelled.Load() {
		s.state.Store(int32(StateCancelled))
		close(s.events)
		return fmt.Errorf("%w: cancelled before start", ErrCancelled)
	}

	runCtx, stop := context.WithCancel(ctx)

	// #nosec G204 - binary comes from configuration, args from BuildCommand
	cmd := exec.CommandContext(runCtx, s.binary, s.command.Args...)
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = s.grace

	stderr, err := cmd.StderrPipe()
	if err != nil {
		stop()
		s.state.Store(int32(StateFailed))
		close(s.events)
		return fmt.Errorf("pipe stderr: %w", err)
	}

	if err := cmd.Start(); err != nil {
		stop()
		s.state.Store(int32(StateFailed))
		close(s.events)
		return fmt.Errorf("start %s: %w", s.binary, err)
	}

	s.stop.Store(&stop)
	if s.cancelled.Load() {
		stop()
	}

	s.logger.Debug("engine started",
		slog.String("binary", s.binary),
		slog.Int("pid", cmd.Process.Pid),
		slog.String("parser", s.parser.Version()),
	)

	go s.run(ctx, cmd, stderr, stop)
	return nil
}

// Cancel implements Handle. The request is observed by the worker at its
// next line; the engine is signalled immediately.
func (s *Supervisor) Cancel() {
	if s.State().IsTerminal() {
		return
	}
	if !s.cancelled.CompareAndSwap(false, true) {
		return
	}
	if stop := s.stop.Load(); stop != nil {
		(*stop)()
	}
}

// cancelRequested reports whether the run should end as cancelled.
func (s *Supervisor) cancelRequested(ctx context.Context) bool {
	return s.cancelled.Load() || ctx.Err() != nil
}

// run is the worker: it parses the stream, reaps the process and emits the
// single Terminal event.
func (s *Supervisor) run(ctx context.Context, cmd *exec.Cmd, stderr io.Reader, stop context.CancelFunc) {
	defer close(s.events)

	tail := newLineTail(s.tailSize)

	var src io.Reader = stderr
	if s.debug != nil {
		src = io.TeeReader(stderr, s.debug)
	}

	scanner := bufio.NewScanner(src)
	scanner.Buffer(make([]byte, 0, 64*1024), maxDiagnosticLine)
	scanner.Split(scanDiagnosticLines)

	for scanner.Scan() {
		if s.cancelRequested(ctx) {
			break
		}
		line := scanner.Text()
		errorLike := s.parser.ErrorLike(line)
		if errorLike {
			tail.Add(strings.TrimSpace(line))
		}
		s.events <- Event{Kind: EventLog, Line: line, ErrorLike: errorLike}

		if sec, ok := s.parser.Timestamp(line); ok {
			s.events <- Event{
				Kind:    EventProgress,
				Elapsed: sec,
				Percent: percentOf(sec, s.total),
			}
		}
	}
	if err := scanner.Err(); err != nil {
		s.logger.Warn("diagnostic stream read failed", slog.String("error", err.Error()))
	}

	// Keep the pipe empty until EOF so the engine never blocks writing to it.
	_, _ = io.Copy(io.Discard, stderr)

	waitErr := cmd.Wait()
	cancelled := s.cancelRequested(ctx)
	stop()

	var terminal Event
	switch {
	case cancelled:
		s.state.Store(int32(StateCancelled))
		terminal = Event{Kind: EventTerminal, Outcome: OutcomeCancelled, Err: ErrCancelled}
	case waitErr == nil:
		s.state.Store(int32(StateSucceeded))
		terminal = Event{Kind: EventTerminal, Outcome: OutcomeSucceeded}
	default:
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		s.state.Store(int32(StateFailed))
		terminal = Event{
			Kind:    EventTerminal,
			Outcome: OutcomeFailed,
			Err:     &EncodeError{ExitCode: exitCode, Lines: tail.Lines(), Err: waitErr},
		}
	}

	s.logger.Debug("engine exited",
		slog.String("outcome", string(terminal.Outcome)),
		slog.Int("exit_code", cmd.ProcessState.ExitCode()),
	)

	s.events <- terminal
}
