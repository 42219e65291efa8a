// Package server provides the HTTP front end for stillcast.
// It includes handlers, middleware, routes, and DTOs separated from domain types.
package server

import "time"

// CreateJobRequest is the HTTP request body for creating a render job.
// Exactly one image source and one audio source must be given.
type CreateJobRequest struct {
	// ImagePaths are images already present on the server, in display order.
	ImagePaths []string `json:"image_paths" validate:"omitempty,max=500,dive,required"`
	// ImagesBase64 are base64-encoded images (or data URLs), in display order.
	ImagesBase64 []string `json:"images_base64" validate:"omitempty,max=500,dive,required"`
	// AudioPath is an audio file already present on the server.
	AudioPath string `json:"audio_path"`
	// AudioBase64 is a base64-encoded audio track (or data URL).
	AudioBase64 string `json:"audio_base64"`
	// OutputPath is where the video is written. Defaults to the temp dir.
	OutputPath string `json:"output_path" validate:"omitempty,endswith=.mp4|endswith=.mov|endswith=.mkv|endswith=.webm"`
	// Resolution is an optional "WIDTHxHEIGHT" target for every image.
	Resolution string `json:"resolution" validate:"omitempty,resolution"`
	// PushToS3 indicates whether to upload the final video to S3.
	PushToS3 bool `json:"push_to_s3"`
}

// CreateJobResponse is the HTTP response after creating or cancelling a job.
type CreateJobResponse struct {
	// ID is the unique identifier for the job.
	ID string `json:"id"`
	// Status is the job status at the time of the response.
	Status string `json:"status"`
}

// JobResponse is the HTTP response for getting job details.
type JobResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	// Progress is the percentage of completion (0-100).
	Progress int `json:"progress"`
	// Elapsed is the media time encoded so far, in seconds.
	Elapsed float64 `json:"elapsed"`
	// Duration is the probed audio duration, in seconds.
	Duration float64 `json:"duration,omitempty"`
	// Error contains the failure message if the job failed.
	Error string `json:"error,omitempty"`
	// ErrorLines are the last error-like lines ffmpeg printed.
	ErrorLines  []string   `json:"error_lines,omitempty"`
	Images      int        `json:"images"`
	Resolution  string     `json:"resolution,omitempty"`
	OutputPath  string     `json:"output_path,omitempty"`
	VideoURL    string     `json:"video_url,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// ListJobsResponse is the HTTP response for listing jobs.
type ListJobsResponse struct {
	Jobs  []JobResponse `json:"jobs"`
	Count int           `json:"count"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is the health status of the service.
	Status string `json:"status"`
	// FFmpeg is the detected ffmpeg version line, if known.
	FFmpeg string `json:"ffmpeg,omitempty"`
}
