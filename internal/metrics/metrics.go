// Package metrics exposes Prometheus collectors for render jobs.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobsTotal counts finished render jobs by outcome.
	JobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stillcast_render_jobs_total",
		Help: "Total render jobs by terminal outcome",
	}, []string{"outcome"})

	// ActiveRenders is the number of engine processes currently running.
	ActiveRenders = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "stillcast_active_renders",
		Help: "Number of ffmpeg renders in progress",
	})

	// RenderDuration tracks wall-clock time from launch to terminal event.
	RenderDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stillcast_render_duration_seconds",
		Help:    "Wall-clock duration of ffmpeg renders",
		Buckets: prometheus.ExponentialBuckets(0.5, 2.0, 12), // 0.5s to ~17min
	}, []string{"outcome"})

	// AudioSeconds sums the probed audio length of rendered jobs.
	AudioSeconds = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stillcast_audio_seconds_total",
		Help: "Total seconds of audio submitted for rendering",
	})

	// RejectedJobs counts jobs that failed before the engine started.
	RejectedJobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stillcast_rejected_jobs_total",
		Help: "Render jobs rejected before launch",
	}, []string{"reason"})
)

// RenderStarted marks one more engine as running and returns the function
// that records its completion with the given outcome.
func RenderStarted(audioSeconds float64) func(outcome string) {
	start := time.Now()
	ActiveRenders.Inc()
	if audioSeconds > 0 {
		AudioSeconds.Add(audioSeconds)
	}
	return func(outcome string) {
		ActiveRenders.Dec()
		JobsTotal.WithLabelValues(outcome).Inc()
		RenderDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	}
}

// RecordRejected counts a job that never reached the engine.
func RecordRejected(reason string) {
	RejectedJobs.WithLabelValues(reason).Inc()
}
