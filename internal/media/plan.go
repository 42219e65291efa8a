package media

import (
	"fmt"
	"math"
)

// Plan is the timing of one assembly, derived from the probed audio duration.
//
// Durations are kept on a centisecond grid because that is the granularity of
// the -t arguments handed to ffmpeg. Each image gets floor(total/N) and the
// last image also takes the leftover centiseconds, so the durations always
// add up to the rounded total and the video never ends before the audio.
type Plan struct {
	// Total is the audio duration in seconds.
	Total float64
	// PerImage is the nominal share of each image, truncated to centiseconds.
	PerImage float64
	// Durations holds the -t value of every image input, in order.
	Durations []float64
}

// NewPlan splits total seconds across images images.
func NewPlan(total float64, images int) (Plan, error) {
	if images < 1 {
		return Plan{}, fmt.Errorf("%w: at least one image is required", ErrInvalidInput)
	}
	if math.IsNaN(total) || math.IsInf(total, 0) || total <= 0 {
		return Plan{}, fmt.Errorf("%w: duration %v is not positive", ErrProbeFailure, total)
	}

	totalCs := int64(math.Round(total * 100))
	if totalCs < int64(images) {
		return Plan{}, fmt.Errorf("%w: duration %.2fs is too short for %d images", ErrInvalidInput, total, images)
	}

	base := totalCs / int64(images)
	rem := totalCs - base*int64(images)

	durations := make([]float64, images)
	for i := range durations {
		cs := base
		if i == images-1 {
			cs += rem
		}
		durations[i] = float64(cs) / 100
	}

	return Plan{
		Total:     total,
		PerImage:  float64(base) / 100,
		Durations: durations,
	}, nil
}

// formatSeconds renders seconds with the two-decimal precision ffmpeg expects
// for -t.
func formatSeconds(s float64) string {
	return fmt.Sprintf("%.2f", s)
}
