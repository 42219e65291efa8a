// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Static errors for configuration validation.
var (
	// ErrInvalidFrameRate is returned when STILL_FPS is not positive.
	ErrInvalidFrameRate = errors.New("config: STILL_FPS must be positive")
	// ErrInvalidErrorTail is returned when ERROR_TAIL is below 3.
	ErrInvalidErrorTail = errors.New("config: ERROR_TAIL must be at least 3")
	// ErrInvalidGrace is returned when TERMINATE_GRACE is not positive.
	ErrInvalidGrace = errors.New("config: TERMINATE_GRACE must be positive")
	// ErrS3RegionRequired is returned when S3_BUCKET is set without S3_REGION.
	ErrS3RegionRequired = errors.New("config: S3_REGION is required when S3_BUCKET is set")
	// ErrInvalidLimit is returned when a concurrency or rate limit is negative.
	ErrInvalidLimit = errors.New("config: limits must not be negative")
	// ErrRelativeMediaRoot is returned when MEDIA_ROOT is not an absolute path.
	ErrRelativeMediaRoot = errors.New("config: MEDIA_ROOT must be an absolute path")
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	Port           int      `env:"PORT, default=8080" json:"port"`
	AllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS, default=*" json:"allowed_origins"`
	EnableMetrics  bool     `env:"ENABLE_METRICS, default=true" json:"enable_metrics"`

	// JobRate is the allowed POST /jobs rate per client IP, per second. 0 disables it.
	JobRate  float64 `env:"JOB_RATE_LIMIT, default=2" json:"job_rate_limit"`
	JobBurst int     `env:"JOB_RATE_BURST, default=10" json:"job_rate_burst"`

	// MaxConcurrentRenders bounds parallel ffmpeg processes. 0 means unbounded.
	MaxConcurrentRenders int `env:"MAX_CONCURRENT_RENDERS, default=2" json:"max_concurrent_renders"`

	// Storage settings
	TempDir string `env:"TEMP_DIR, default=/tmp/stillcast" json:"temp_dir"`

	// MediaRoot is the only tree that request paths (images, audio, output)
	// may name. Empty refuses request paths; clients then send base64 media.
	MediaRoot string `env:"MEDIA_ROOT" json:"media_root,omitempty"`

	// Engine settings
	FFmpegPath     string        `env:"FFMPEG_PATH, default=ffmpeg" json:"ffmpeg_path"`
	FFprobePath    string        `env:"FFPROBE_PATH, default=ffprobe" json:"ffprobe_path"`
	VideoCodec     string        `env:"VIDEO_CODEC, default=libx264" json:"video_codec"`
	VideoPreset    string        `env:"VIDEO_PRESET, default=medium" json:"video_preset"`
	AudioCodec     string        `env:"AUDIO_CODEC, default=aac" json:"audio_codec"`
	StillFPS       int           `env:"STILL_FPS, default=30" json:"still_fps"`
	PixelFormat    string        `env:"PIXEL_FORMAT, default=yuv420p" json:"pixel_format"`
	ErrorTail      int           `env:"ERROR_TAIL, default=3" json:"error_tail"`
	TerminateGrace time.Duration `env:"TERMINATE_GRACE, default=5s" json:"terminate_grace"`

	// Optional S3 settings
	S3Bucket           string `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string `env:"S3_REGION" json:"s3_region,omitempty"`
	S3Endpoint         string `env:"S3_ENDPOINT" json:"s3_endpoint,omitempty"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format"` // "json" or "text"
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`   // "debug", "info", "warn", "error"
}

// S3Enabled returns true if S3 configuration is provided.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != ""
}

// Load reads configuration from environment variables using go-envconfig
// and validates it.
func Load() (*Config, error) {
	return load(envconfig.OsLookuper())
}

func load(lookuper envconfig.Lookuper) (*Config, error) {
	cfg := &Config{}

	if err := envconfig.ProcessWith(context.Background(), &envconfig.Config{
		Target:   cfg,
		Lookuper: lookuper,
	}); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges that envconfig cannot express.
func (c *Config) Validate() error {
	if c.StillFPS <= 0 {
		return ErrInvalidFrameRate
	}
	if c.ErrorTail < 3 {
		return ErrInvalidErrorTail
	}
	if c.TerminateGrace <= 0 {
		return ErrInvalidGrace
	}
	if c.S3Bucket != "" && c.S3Region == "" {
		return ErrS3RegionRequired
	}
	if c.JobRate < 0 || c.JobBurst < 0 || c.MaxConcurrentRenders < 0 {
		return ErrInvalidLimit
	}
	if c.MediaRoot != "" && !filepath.IsAbs(c.MediaRoot) {
		return ErrRelativeMediaRoot
	}
	return nil
}

// NewLogger creates a structured logger writing to stdout.
func (c *Config) NewLogger() *slog.Logger {
	return c.NewLoggerTo(os.Stdout)
}

// NewLoggerTo creates a structured logger writing to w.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs.
func (c *Config) NewLoggerTo(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLogLevel(c.LogLevel)}

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Port: %d, MaxConcurrentRenders: %d, TempDir: %s, FFmpegPath: %s, FFprobePath: %s, VideoCodec: %s, VideoPreset: %s, AudioCodec: %s, StillFPS: %d, ErrorTail: %d, TerminateGrace: %s, S3Bucket: %s, S3Region: %s, LogFormat: %s, LogLevel: %s}",
		c.Port,
		c.MaxConcurrentRenders,
		c.TempDir,
		c.FFmpegPath,
		c.FFprobePath,
		c.VideoCodec,
		c.VideoPreset,
		c.AudioCodec,
		c.StillFPS,
		c.ErrorTail,
		c.TerminateGrace,
		c.S3Bucket,
		c.S3Region,
		c.LogFormat,
		c.LogLevel,
	)
}

// ParseLogLevel converts a string log level to slog.Level. Unknown values
// map to info.
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
