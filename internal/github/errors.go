// errors.go defines sentinel error values shared across all GitHub adapter
// operations, covering repository, path, and write-precondition failures.
package github

import "errors"

var (
	// Repository errors
	ErrRepoNotFound = errors.New("repository not found")
	ErrRepoExists   = errors.New("repository already exists")

	// Content errors
	ErrPathNotFound = errors.New("path not found in repository")
	ErrNotAFile     = errors.New("path is not a file")
	ErrNotADir      = errors.New("path is not a directory")

	// Write errors. GitHub rejects a content write whose sha does not match
	// the current blob, and a create on an existing path. Both surface as a
	// stale precondition.
	ErrStaleSHA = errors.New("content sha is stale or missing")

	// Token errors
	ErrUnauthorized = errors.New("github token rejected")
)

// APIError represents an unexpected error from the GitHub API
type APIError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// NewAPIError creates a new API error
func NewAPIError(statusCode int, message string, err error) *APIError {
	return &APIError{
		StatusCode: statusCode,
		Message:    message,
		Err:        err,
	}
}
