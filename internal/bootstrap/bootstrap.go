// Package bootstrap provides dependency initialization for stillcast.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/maauso/stillcast/internal/config"
	"github.com/maauso/stillcast/internal/job"
	"github.com/maauso/stillcast/internal/media"
	"github.com/maauso/stillcast/internal/storage"
)

// versionTimeout bounds the ffmpeg -version call made at startup.
const versionTimeout = 5 * time.Second

// Dependencies holds all initialized dependencies for the HTTP server.
type Dependencies struct {
	RenderService *job.RenderService
	Storage       storage.Storage
	// FFmpegVersion is the first line of `ffmpeg -version`, empty if unknown.
	FFmpegVersion string
}

// NewDependencies creates and initializes all dependencies for the server.
// It fails with media.ErrMissingDependency when ffmpeg or ffprobe cannot be
// found.
func NewDependencies(cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	if err := media.CheckDependencies(cfg.FFmpegPath, cfg.FFprobePath); err != nil {
		return nil, err
	}

	store, err := initStorage(cfg, logger)
	if err != nil {
		return nil, err
	}

	assembler := NewAssembler(cfg, logger)
	repo := job.NewMemoryRepository()
	svc := job.NewRenderService(repo, assembler, store, logger,
		job.WithMaxConcurrent(cfg.MaxConcurrentRenders),
		job.WithMediaRoot(cfg.MediaRoot),
	)

	ctx, cancel := context.WithTimeout(context.Background(), versionTimeout)
	defer cancel()
	version, err := media.ToolVersion(ctx, cfg.FFmpegPath)
	if err != nil {
		logger.Warn("could not read ffmpeg version", slog.String("error", err.Error()))
	} else {
		logger.Info("ffmpeg detected", slog.String("version", version))
	}

	return &Dependencies{
		RenderService: svc,
		Storage:       store,
		FFmpegVersion: version,
	}, nil
}

// NewAssembler wires ffprobe and ffmpeg from the configuration. Extra
// supervisor options are applied after the configured ones.
func NewAssembler(cfg *config.Config, logger *slog.Logger, opts ...media.SupervisorOption) *media.Assembler {
	supervisorOpts := append([]media.SupervisorOption{
		media.WithLogger(logger),
		media.WithErrorTail(cfg.ErrorTail),
		media.WithGracePeriod(cfg.TerminateGrace),
	}, opts...)

	prober := media.NewFFprobe(cfg.FFprobePath)
	engine := media.NewFFmpegEngine(cfg.FFmpegPath, supervisorOpts...)
	return media.NewAssembler(prober, engine, EncodeOptions(cfg), logger)
}

// EncodeOptions maps the engine settings of cfg onto media.EncodeOptions.
func EncodeOptions(cfg *config.Config) media.EncodeOptions {
	return media.EncodeOptions{
		VideoCodec:  cfg.VideoCodec,
		Preset:      cfg.VideoPreset,
		AudioCodec:  cfg.AudioCodec,
		FrameRate:   cfg.StillFPS,
		PixelFormat: cfg.PixelFormat,
	}
}

// initStorage creates the appropriate storage backend based on configuration.
func initStorage(cfg *config.Config, logger *slog.Logger) (storage.Storage, error) {
	if cfg.S3Enabled() {
		s3Cfg := storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		}
		s3Store, err := storage.NewS3Storage(cfg.TempDir, s3Cfg)
		if err != nil {
			return nil, fmt.Errorf("create S3 storage: %w", err)
		}
		logger.Info("S3 storage configured",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
			slog.String("endpoint", cfg.S3Endpoint),
		)
		return s3Store, nil
	}

	localStore, err := storage.NewLocalStorage(cfg.TempDir)
	if err != nil {
		return nil, fmt.Errorf("create local storage: %w", err)
	}
	logger.Info("local storage configured",
		slog.String("temp_dir", cfg.TempDir),
	)
	return localStore, nil
}
