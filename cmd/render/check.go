package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/maauso/stillcast/internal/config"
	"github.com/maauso/stillcast/internal/media"
)

func newCheckCmd(stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify that ffmpeg and ffprobe are available",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return &exitError{code: exitFailure, err: fmt.Errorf("load config: %w", err)}
			}
			if err := media.CheckDependencies(cfg.FFmpegPath, cfg.FFprobePath); err != nil {
				return &exitError{code: exitFailure, err: err}
			}

			for _, tool := range []struct{ name, path string }{
				{"ffmpeg", cfg.FFmpegPath},
				{"ffprobe", cfg.FFprobePath},
			} {
				version, err := media.ToolVersion(cmd.Context(), tool.path)
				if err != nil {
					return &exitError{code: exitFailure, err: fmt.Errorf("%s -version: %w", tool.name, err)}
				}
				fmt.Fprintf(stdout, "%s: %s\n", tool.name, version)
			}
			return nil
		},
	}
}
