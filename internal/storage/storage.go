// Package storage stages render inputs on local disk and publishes finished
// videos to S3.
package storage

import (
	"context"
	"io"
)

// Storage is the file port used by the render service.
type Storage interface {
	// TempDir is the directory where staged inputs and default outputs live.
	TempDir() string

	// SaveTemp writes data to a new file in TempDir and returns its path.
	// name is a filename hint; the extension is preserved.
	SaveTemp(ctx context.Context, name string, data io.Reader) (path string, err error)

	// CleanupTemp removes paths, continuing past failures.
	CleanupTemp(ctx context.Context, paths []string) error

	// Publish uploads the file at path under key and returns its URL.
	// Returns ErrS3NotConfigured when no bucket is configured.
	Publish(ctx context.Context, key, path string) (url string, err error)
}
