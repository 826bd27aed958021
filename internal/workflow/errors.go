package workflow

import (
	"errors"

	"github.com/snarg/vid2sub/internal/media"
	"github.com/snarg/vid2sub/internal/payload"
	"github.com/snarg/vid2sub/internal/transcribe"
)

// ErrorKind classifies a processing failure for alerts and metrics.
type ErrorKind string

const (
	KindInitialization ErrorKind = "InitializationError"
	KindTranscode      ErrorKind = "TranscodeError"
	KindEncoding       ErrorKind = "EncodingError"
	KindTranscription  ErrorKind = "TranscriptionError"
	KindUnknown        ErrorKind = "UnknownError"
)

// Classify maps err to its ErrorKind. Anything unrecognized is KindUnknown.
func Classify(err error) ErrorKind {
	var (
		initErr  *media.InitializationError
		tcErr    *media.TranscodeError
		encErr   *payload.EncodingError
		transErr *transcribe.TranscriptionError
	)
	switch {
	case errors.As(err, &initErr):
		return KindInitialization
	case errors.As(err, &tcErr):
		return KindTranscode
	case errors.As(err, &encErr):
		return KindEncoding
	case errors.As(err, &transErr):
		return KindTranscription
	}
	return KindUnknown
}
