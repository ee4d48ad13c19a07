package services

import (
	"errors"
	"fmt"

	"github.com/trailtag/trailtag/pkg/executor"
	"github.com/trailtag/trailtag/pkg/models"
)

var (
	// ErrJobNotFound is returned when no record exists for a job id
	ErrJobNotFound = errors.New("job not found")

	// ErrVideoJobNotFound is returned when a video has no job mapping
	ErrVideoJobNotFound = errors.New("no active job for video")

	// ErrAnalysisNotFound is returned when a video has no stored analysis
	ErrAnalysisNotFound = errors.New("analysis not found")

	// ErrJobExists mirrors the executor's duplicate-submission sentinel so
	// callers can match it without importing the executor package
	ErrJobExists = executor.ErrJobExists

	// ErrInvalidVideoURL marks URLs no pattern could extract a video id from.
	// The message is user facing and surfaces verbatim in API error details.
	ErrInvalidVideoURL = errors.New("無法從 URL 提取有效的 YouTube video_id")
)

// ValidationError wraps field-specific validation errors
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// NewValidationError creates a new validation error
func NewValidationError(field, message string) error {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// NoSubtitlesError reports a video that cannot be analyzed because it has no
// usable subtitles. It carries the probe result so the API layer can build
// the structured rejection body.
type NoSubtitlesError struct {
	VideoID string
	Status  *models.SubtitleStatus
}

func (e *NoSubtitlesError) Error() string {
	return fmt.Sprintf("video %s has no usable subtitles", e.VideoID)
}

// MappedJobMissingError reports a video→job mapping whose job record has
// already expired. The dangling job id distinguishes this case from a video
// that never had a job.
type MappedJobMissingError struct {
	JobID string
}

func (e *MappedJobMissingError) Error() string {
	return fmt.Sprintf("mapped job %s not found", e.JobID)
}

func (e *MappedJobMissingError) Unwrap() error { return ErrJobNotFound }

// SubtitleCheckError wraps an upstream failure while probing subtitle
// availability. The cause is kept separate so the API layer can prefix it
// with the user-facing message.
type SubtitleCheckError struct {
	VideoID string
	Cause   error
}

func (e *SubtitleCheckError) Error() string {
	return fmt.Sprintf("checking subtitles for %s: %v", e.VideoID, e.Cause)
}

func (e *SubtitleCheckError) Unwrap() error { return e.Cause }
