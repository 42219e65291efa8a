package server

import (
	"github.com/go-playground/validator/v10"

	"github.com/maauso/stillcast/internal/media"
)

// newValidator returns a validator that knows the "resolution" tag and the
// source rules of CreateJobRequest.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Registration only fails for empty tags or nil funcs.
	_ = v.RegisterValidation("resolution", validResolution)
	v.RegisterStructValidation(validateSources, CreateJobRequest{})
	return v
}

func validResolution(fl validator.FieldLevel) bool {
	_, _, err := media.ParseResolution(fl.Field().String())
	return err == nil
}

// validateSources requires exactly one image source and one audio source.
func validateSources(sl validator.StructLevel) {
	req, ok := sl.Current().Interface().(CreateJobRequest)
	if !ok {
		return
	}
	if (len(req.ImagePaths) == 0) == (len(req.ImagesBase64) == 0) {
		sl.ReportError(req.ImagePaths, "ImagePaths", "image_paths", "one_image_source", "")
	}
	if (req.AudioPath == "") == (req.AudioBase64 == "") {
		sl.ReportError(req.AudioPath, "AudioPath", "audio_path", "one_audio_source", "")
	}
}
