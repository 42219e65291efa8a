package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/maauso/stillcast/internal/bootstrap"
	"github.com/maauso/stillcast/internal/config"
	"github.com/maauso/stillcast/internal/media"
)

// progressInterval is the minimum time between two progress redraws.
const progressInterval = 100 * time.Millisecond

type renderOptions struct {
	images     []string
	audio      string
	output     string
	resolution string
	debug      bool
	logLevel   string
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	var opts renderOptions

	cmd := &cobra.Command{
		Use:   "render -i IMAGE [-i IMAGE...] -a AUDIO -o OUTPUT",
		Short: "Render still images and an audio track into a video",
		Long: `Render shows each image for an equal share of the audio's length and
encodes the result with ffmpeg. Images are shown in the order given.

ffmpeg and ffprobe are located through FFMPEG_PATH and FFPROBE_PATH, or PATH.
Press Ctrl-C to stop a render; the partial output is left as ffmpeg wrote it.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRender(cmd, opts, stdout, stderr)
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	flags := cmd.Flags()
	flags.StringArrayVarP(&opts.images, "image", "i", nil, "input image, repeat for several (display order)")
	flags.StringVarP(&opts.audio, "audio", "a", "", "input audio track")
	flags.StringVarP(&opts.output, "output", "o", "", "output video file")
	flags.StringVarP(&opts.resolution, "resolution", "r", "", "scale every image to WIDTHxHEIGHT")
	flags.BoolVarP(&opts.debug, "debug", "d", false, "mirror ffmpeg's diagnostic output to stderr")
	flags.StringVar(&opts.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	_ = cmd.MarkFlagRequired("image")
	_ = cmd.MarkFlagRequired("audio")
	_ = cmd.MarkFlagRequired("output")

	cmd.AddCommand(newCheckCmd(stdout))
	return cmd
}

func runRender(cmd *cobra.Command, opts renderOptions, stdout, stderr io.Writer) error {
	ctx := cmd.Context()

	cfg, err := config.Load()
	if err != nil {
		return &exitError{code: exitFailure, err: fmt.Errorf("load config: %w", err)}
	}
	cfg.LogLevel = opts.logLevel
	logger := cfg.NewLoggerTo(stderr)

	if err := media.CheckDependencies(cfg.FFmpegPath, cfg.FFprobePath); err != nil {
		return &exitError{code: exitFailure, err: err}
	}

	var extra []media.SupervisorOption
	if opts.debug {
		extra = append(extra, media.WithDebugOutput(stderr))
	}
	assembler := bootstrap.NewAssembler(cfg, logger, extra...)

	job := media.Job{
		Images:     opts.images,
		Audio:      opts.audio,
		Output:     opts.output,
		Resolution: opts.resolution,
	}
	handle, plan, err := assembler.Assemble(ctx, job)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, media.ErrCancelled) {
			fmt.Fprintln(stdout, "Cancelled.")
			return &exitError{code: exitCancelled, err: err, silent: true}
		}
		return &exitError{code: exitFailure, err: err}
	}

	fmt.Fprintf(stdout, "Rendering %d image(s), %.2fs each, %.2fs total -> %s\n",
		len(job.Images), plan.PerImage, plan.Total, job.Output)

	printer := newProgressPrinter(stdout, plan.Total, progressInterval)
	terminal := media.Drain(handle.Events(), func(ev media.Event) {
		if ev.Kind == media.EventProgress {
			printer.Update(ev)
		}
	})
	printer.Finish()

	switch terminal.Outcome {
	case media.OutcomeSucceeded:
		fmt.Fprintf(stdout, "Done: %s\n", job.Output)
		return nil
	case media.OutcomeCancelled:
		fmt.Fprintln(stdout, "Cancelled.")
		return &exitError{code: exitCancelled, err: terminal.Err, silent: true}
	default:
		printFailure(stderr, terminal.Err)
		return &exitError{code: exitFailure, err: terminal.Err, silent: true}
	}
}

// printFailure reports a failed render with the retained ffmpeg lines.
func printFailure(w io.Writer, err error) {
	var encErr *media.EncodeError
	if !errors.As(err, &encErr) {
		fmt.Fprintf(w, "Render failed: %v\n", err)
		return
	}

	fmt.Fprintf(w, "Render failed: ffmpeg exited with code %d\n", encErr.ExitCode)
	if len(encErr.Lines) == 0 {
		return
	}
	fmt.Fprintln(w, "Last errors:")
	for _, line := range encErr.Lines {
		fmt.Fprintf(w, "  %s\n", line)
	}
}
