package media

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Job describes one assembly: ordered images shown in sequence over a single
// audio track. A Job is not modified after it is built.
type Job struct {
	// Images are shown in order, each for an equal share of the audio.
	Images []string
	// Audio is the soundtrack; its duration sets the video length.
	Audio string
	// Output is the destination file. It is overwritten unconditionally.
	Output string
	// Resolution optionally forces the frame size, e.g. "1920x1080".
	Resolution string
}

// Validate checks that the job can run: at least one image, every input an
// existing readable file, the output directory present and distinct from
// every input, and the resolution well formed. Errors wrap ErrInvalidInput.
func (j Job) Validate() error {
	if len(j.Images) == 0 {
		return fmt.Errorf("%w: at least one image is required", ErrInvalidInput)
	}
	for _, img := range j.Images {
		if err := checkReadable(img); err != nil {
			return fmt.Errorf("%w: image %w", ErrInvalidInput, err)
		}
	}
	if err := checkReadable(j.Audio); err != nil {
		return fmt.Errorf("%w: audio %w", ErrInvalidInput, err)
	}

	if j.Output == "" {
		return fmt.Errorf("%w: output path is required", ErrInvalidInput)
	}
	dir := filepath.Dir(j.Output)
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("%w: output directory %s: %w", ErrInvalidInput, dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: output directory %s is not a directory", ErrInvalidInput, dir)
	}
	if err := checkDistinctOutput(j.Output, append([]string{j.Audio}, j.Images...)); err != nil {
		return err
	}

	if j.Resolution != "" {
		if _, _, err := ParseResolution(j.Resolution); err != nil {
			return err
		}
	}
	return nil
}

// checkReadable reports an error unless path names a regular file that can be
// opened for reading.
func checkReadable(path string) error {
	if path == "" {
		return fmt.Errorf("path is empty")
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%s: not a regular file", path)
	}
	f, err := os.Open(path) // #nosec G304 - path is validated input, only opened for a read check
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	_ = f.Close()
	return nil
}

// checkDistinctOutput rejects an output that names one of the inputs; ffmpeg
// would truncate the file while still reading it.
func checkDistinctOutput(output string, inputs []string) error {
	out, err := filepath.Abs(output)
	if err != nil {
		return fmt.Errorf("%w: output %s: %w", ErrInvalidInput, output, err)
	}
	outInfo, statErr := os.Stat(out)
	for _, in := range inputs {
		abs, err := filepath.Abs(in)
		if err != nil {
			return fmt.Errorf("%w: input %s: %w", ErrInvalidInput, in, err)
		}
		if abs == out {
			return fmt.Errorf("%w: output %s is also an input", ErrInvalidInput, output)
		}
		if statErr == nil {
			if inInfo, err := os.Stat(abs); err == nil && os.SameFile(inInfo, outInfo) {
				return fmt.Errorf("%w: output %s is also an input", ErrInvalidInput, output)
			}
		}
	}
	return nil
}

// ParseResolution splits a "WxH" string into positive width and height.
// Errors wrap ErrInvalidInput.
func ParseResolution(res string) (int, int, error) {
	parts := strings.Split(strings.ToLower(strings.TrimSpace(res)), "x")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("%w: bad resolution %q, expected WxH", ErrInvalidInput, res)
	}
	w, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("%w: bad width in %q", ErrInvalidInput, res)
	}
	h, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("%w: bad height in %q", ErrInvalidInput, res)
	}
	if w <= 0 || h <= 0 {
		return 0, 0, fmt.Errorf("%w: resolution %q must be positive", ErrInvalidInput, res)
	}
	return w, h, nil
}
