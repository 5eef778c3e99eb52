package reports

import "errors"

var (
	// ErrBadRequest indicates missing or malformed caller input.
	ErrBadRequest = errors.New("bad request")
	// ErrValidation indicates a report failed field validation.
	ErrValidation = errors.New("validation error")
	// ErrUnauthorized indicates the caller identity was rejected.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrNotFound indicates no report matches the id.
	ErrNotFound = errors.New("report not found")
	// ErrVersionConflict indicates the report changed since it was read.
	ErrVersionConflict = errors.New("report was modified concurrently")
	// ErrAlreadyAnalyzed indicates re-analysis is disabled and the report is analyzed.
	ErrAlreadyAnalyzed = errors.New("report already analyzed")
	// ErrInvalidTransition indicates a status change the lifecycle does not allow.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrUploadFailed wraps media store or repository failures during upload.
	ErrUploadFailed = errors.New("upload failed")
	// ErrFetch wraps failures downloading the report image.
	ErrFetch = errors.New("image fetch failed")
)
