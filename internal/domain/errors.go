package domain

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrValidation        = errors.New("invalid request")
	ErrJobNotFound       = errors.New("job not found")
	ErrStore             = errors.New("job store unavailable")
	ErrUpstream          = errors.New("generation service failed")
	ErrUpstreamThrottled = errors.New("generation service throttled")
	ErrMalformedResponse = errors.New("malformed generation response")
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// UpstreamError describes a failed call to the generation service. A zero
// StatusCode means the request never produced a response.
type UpstreamError struct {
	StatusCode int
	Status     string
	Message    string
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode == 0 {
		if e.Err != nil {
			return fmt.Sprintf("generation service unreachable: %v", e.Err)
		}
		return "generation service unreachable: " + e.Message
	}
	if e.Status != "" {
		return fmt.Sprintf("generation service status %d (%s): %s", e.StatusCode, e.Status, e.Message)
	}
	return fmt.Sprintf("generation service status %d: %s", e.StatusCode, e.Message)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

func (e *UpstreamError) Is(target error) bool {
	switch target {
	case ErrUpstream:
		return true
	case ErrUpstreamThrottled:
		return e.StatusCode == http.StatusTooManyRequests
	default:
		return false
	}
}

// MalformedResponseError carries a bounded prefix of the text that could not
// be turned into a JSON object.
type MalformedResponseError struct {
	Snippet string
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("model output is not a JSON object: %q", e.Snippet)
}

func (e *MalformedResponseError) Is(target error) bool {
	return target == ErrMalformedResponse
}
