package playback

import (
	"errors"
	"fmt"
)

var (
	// ErrNoAPIKey is returned when the synthesis API key is missing.
	ErrNoAPIKey = errors.New("playback: API key required")

	// ErrAborted is returned when a render is invalidated by a
	// barge-in before it could be scheduled.
	ErrAborted = errors.New("playback: utterance aborted")

	// ErrClosed is returned when the scheduler has shut down.
	ErrClosed = errors.New("playback: scheduler closed")
)

// APIError represents an error response from the synthesis API.
type APIError struct {
	StatusCode int
	Message    string
	Code       string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("playback: API error %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("playback: API error %d: %s", e.StatusCode, e.Message)
}

// IsRateLimited returns true if this is a rate limit error (HTTP 429).
func (e *APIError) IsRateLimited() bool {
	return e.StatusCode == 429
}

// IsServerError returns true if this is a server-side error (HTTP 5xx).
func (e *APIError) IsServerError() bool {
	return e.StatusCode >= 500 && e.StatusCode < 600
}

// IsRetryable returns true if the request should be retried.
func (e *APIError) IsRetryable() bool {
	return e.IsRateLimited() || e.IsServerError()
}
