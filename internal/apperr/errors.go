// Package apperr provides structured error types for the atelier server.
package apperr

import (
	"errors"
	"fmt"
)

// Sentinel errors for the failure modes the API reports to clients.
var (
	// ErrPathEscape means a resolved path left the project sandbox. Always
	// fatal to the operation, never retried.
	ErrPathEscape = errors.New("path escapes sandbox")

	// ErrMissingInput means a declared input mention does not exist on disk.
	ErrMissingInput = errors.New("input file not found")

	// ErrNotStaged means a diff/promote/reject referenced a path with no
	// pending staged file.
	ErrNotStaged = errors.New("no staged file at path")

	// ErrAlreadyExists means a promote without overwrite targeted an
	// existing committed file.
	ErrAlreadyExists = errors.New("committed file already exists")

	// ErrGenerationFailure means the text-generation call failed or timed out.
	ErrGenerationFailure = errors.New("generation failed")

	// ErrNotFound covers unknown projects and missing files outside the
	// staging lifecycle.
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput covers malformed request parameters.
	ErrInvalidInput = errors.New("invalid input")
)

// Kind returns a stable machine-readable identifier for an error, suitable
// for problem-detail payloads and metrics labels.
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrPathEscape):
		return "path_escape"
	case errors.Is(err, ErrMissingInput):
		return "missing_input"
	case errors.Is(err, ErrNotStaged):
		return "not_staged"
	case errors.Is(err, ErrAlreadyExists):
		return "already_exists"
	case errors.Is(err, ErrGenerationFailure):
		return "generation_failure"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	default:
		return "internal"
	}
}

// APIError carries the HTTP status of a failed upstream call so callers can
// decide whether a retry is worthwhile.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error (status %d): %s", e.StatusCode, e.Message)
}

// IsRetryable reports whether an upstream failure is transient. Rate limits
// and server-side errors qualify; everything else is permanent.
func IsRetryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 429, 500, 502, 503, 504:
			return true
		}
	}
	return false
}

// PathEscape wraps ErrPathEscape with the offending path.
func PathEscape(path string) error {
	return fmt.Errorf("%w: %s", ErrPathEscape, path)
}

// MissingInput wraps ErrMissingInput with the missing path.
func MissingInput(path string) error {
	return fmt.Errorf("%w: %s", ErrMissingInput, path)
}
