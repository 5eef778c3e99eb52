package ai

import (
	"errors"
	"fmt"
)

// MaxInlineImageBytes is the largest image sent inline; the remote API caps inline payloads
// near 20 MB including the prompt.
const MaxInlineImageBytes = 18 * 1024 * 1024

// ErrQuotaExceeded indicates the AI provider returned a quota/limit error (HTTP 429 or similar).
var ErrQuotaExceeded = errors.New("ai quota exceeded")

// ErrPayloadTooLarge indicates the image exceeds MaxInlineImageBytes.
var ErrPayloadTooLarge = errors.New("image too large for inline analysis")

// ErrMalformedResponse indicates the provider answered without usable text.
var ErrMalformedResponse = errors.New("ai response has no text")

// ErrInference matches every *InferenceError.
var ErrInference = errors.New("ai inference failed")

// InferenceError carries the upstream status and message of a failed provider call.
type InferenceError struct {
	Status  int
	Message string
	Err     error
}

func (e *InferenceError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("ai inference failed (status %d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("ai inference failed: %s", e.Message)
}

func (e *InferenceError) Unwrap() error { return e.Err }

func (e *InferenceError) Is(target error) bool {
	if target == ErrInference {
		return true
	}
	return target == ErrQuotaExceeded && e.Status == 429
}
