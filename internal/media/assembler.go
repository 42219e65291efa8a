package media

import (
	"context"
	"fmt"
	"log/slog"
)

// Assembler runs the full assembly flow: validate the job, probe the audio,
// plan the timing, build the command and launch the engine.
type Assembler struct {
	prober Prober
	engine Engine
	opts   EncodeOptions
	logger *slog.Logger
}

// NewAssembler creates an Assembler. A nil logger uses slog.Default.
func NewAssembler(prober Prober, engine Engine, opts EncodeOptions, logger *slog.Logger) *Assembler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{
		prober: prober,
		engine: engine,
		opts:   opts.withDefaults(),
		logger: logger,
	}
}

// Prepare validates job, probes its audio and builds the engine command
// without launching anything.
func (a *Assembler) Prepare(ctx context.Context, job Job) (Plan, EngineCommand, error) {
	if err := job.Validate(); err != nil {
		return Plan{}, EngineCommand{}, err
	}

	duration, err := a.prober.Duration(ctx, job.Audio)
	if err != nil {
		return Plan{}, EngineCommand{}, err
	}

	plan, err := NewPlan(duration, len(job.Images))
	if err != nil {
		return Plan{}, EngineCommand{}, err
	}

	cmd, err := BuildCommand(job, plan, a.opts)
	if err != nil {
		return Plan{}, EngineCommand{}, err
	}

	a.logger.Debug("assembly prepared",
		slog.Int("images", len(job.Images)),
		slog.Float64("duration", plan.Total),
		slog.Float64("per_image", plan.PerImage),
		slog.String("filter_graph", cmd.FilterGraph),
	)
	return plan, cmd, nil
}

// Assemble prepares job and launches the engine. The caller drains the
// returned Handle's events until the Terminal event. Invalid input and probe
// failures are returned before the engine is started.
func (a *Assembler) Assemble(ctx context.Context, job Job) (Handle, Plan, error) {
	plan, cmd, err := a.Prepare(ctx, job)
	if err != nil {
		return nil, Plan{}, err
	}

	a.logger.Info("starting engine",
		slog.String("output", job.Output),
		slog.Int("images", len(job.Images)),
		slog.Float64("duration", plan.Total),
	)

	h, err := a.engine.Launch(ctx, cmd, plan.Total)
	if err != nil {
		return nil, Plan{}, fmt.Errorf("launch engine: %w", err)
	}
	return h, plan, nil
}
