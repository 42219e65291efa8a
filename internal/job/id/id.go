// Package id provides unique identifier generation for jobs.
package id

import (
	"strings"

	"github.com/google/uuid"
)

// Generate creates a new unique job ID.
// Format: job-<uuid v4 without dashes>
// Example: job-3f2b8c1de4a94f0b9b6c2d7e8f901a2b
func Generate() string {
	return "job-" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Valid reports whether s has the shape produced by Generate.
func Valid(s string) bool {
	rest, ok := strings.CutPrefix(s, "job-")
	if !ok || len(rest) != 32 {
		return false
	}
	_, err := uuid.Parse(rest)
	return err == nil
}
