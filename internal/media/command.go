package media

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// EncodeOptions are the fixed codec settings of the output.
type EncodeOptions struct {
	// VideoCodec is the ffmpeg video encoder. Defaults to "libx264".
	VideoCodec string
	// Preset is the encoder speed/quality preset. Defaults to "medium".
	Preset string
	// AudioCodec is the ffmpeg audio encoder. Defaults to "aac".
	AudioCodec string
	// FrameRate is used for single-image output. Defaults to 30.
	FrameRate int
	// PixelFormat is used for single-image output. Defaults to "yuv420p".
	PixelFormat string
}

// DefaultEncodeOptions returns H.264/AAC at the medium preset.
func DefaultEncodeOptions() EncodeOptions {
	return EncodeOptions{
		VideoCodec:  "libx264",
		Preset:      "medium",
		AudioCodec:  "aac",
		FrameRate:   30,
		PixelFormat: "yuv420p",
	}
}

// withDefaults fills unset fields from DefaultEncodeOptions.
func (o EncodeOptions) withDefaults() EncodeOptions {
	d := DefaultEncodeOptions()
	if o.VideoCodec == "" {
		o.VideoCodec = d.VideoCodec
	}
	if o.Preset == "" {
		o.Preset = d.Preset
	}
	if o.AudioCodec == "" {
		o.AudioCodec = d.AudioCodec
	}
	if o.FrameRate <= 0 {
		o.FrameRate = d.FrameRate
	}
	if o.PixelFormat == "" {
		o.PixelFormat = d.PixelFormat
	}
	return o
}

// EngineCommand is the ffmpeg argument list for one assembly.
type EngineCommand struct {
	// Args are the arguments passed to ffmpeg, without the binary name.
	Args []string
	// FilterGraph is the -filter_complex expression. Empty for a single image.
	FilterGraph string
}

// String renders the command for logs.
func (c EngineCommand) String() string {
	return strings.Join(c.Args, " ")
}

// BuildCommand derives the ffmpeg arguments for job under plan. The output
// depends only on its inputs.
//
// The audio is input 0 and image i is input i+1, looped and cut to its planned
// duration. With several images each one passes through its own
// scale/setsar stage and the stages are concatenated into [v]. A single image
// skips the filter graph and is only normalised to a fixed frame rate and
// pixel format.
func BuildCommand(job Job, plan Plan, opts EncodeOptions) (EngineCommand, error) {
	n := len(job.Images)
	if n == 0 {
		return EngineCommand{}, fmt.Errorf("%w: at least one image is required", ErrInvalidInput)
	}
	if len(plan.Durations) != n {
		return EngineCommand{}, fmt.Errorf("%w: plan covers %d images, job has %d", ErrInvalidInput, len(plan.Durations), n)
	}
	opts = opts.withDefaults()

	scale := ""
	if job.Resolution != "" {
		w, h, err := ParseResolution(job.Resolution)
		if err != nil {
			return EngineCommand{}, err
		}
		scale = fmt.Sprintf("scale=%d:%d,", w, h)
	}

	args := []string{
		"-y",                     // Overwrite output file without asking
		"-i", operand(job.Audio), // Audio is input 0
	}
	for i, img := range job.Images {
		args = append(args,
			"-loop", "1",
			"-t", formatSeconds(plan.Durations[i]),
			"-i", operand(img),
		)
	}

	var graph string
	if n == 1 {
		vf := fmt.Sprintf("%sfps=%d,format=%s", scale, opts.FrameRate, opts.PixelFormat)
		args = append(args,
			"-vf", vf,
			"-map", "1:v",
			"-map", "0:a",
		)
	} else {
		graph = filterGraph(n, scale)
		args = append(args,
			"-filter_complex", graph,
			"-map", "[v]",
			"-map", "0:a",
		)
	}

	args = append(args,
		"-c:v", opts.VideoCodec,
		"-preset", opts.Preset,
		"-c:a", opts.AudioCodec,
		operand(job.Output),
	)

	return EngineCommand{Args: args, FilterGraph: graph}, nil
}

// operand keeps a file path that starts with "-" from being read as an option.
func operand(path string) string {
	if strings.HasPrefix(path, "-") {
		return "." + string(filepath.Separator) + path
	}
	return path
}

// filterGraph builds one aspect-fix stage per image and a concat stage over
// their labels, joined by semicolons.
func filterGraph(n int, scale string) string {
	stages := make([]string, 0, n+1)
	var labels strings.Builder
	for i := 0; i < n; i++ {
		label := "[s" + strconv.Itoa(i) + "]"
		stages = append(stages, fmt.Sprintf("[%d:v]%ssetsar=1%s", i+1, scale, label))
		labels.WriteString(label)
	}
	stages = append(stages, fmt.Sprintf("%sconcat=n=%d:v=1:a=0[v]", labels.String(), n))
	return strings.Join(stages, ";")
}
