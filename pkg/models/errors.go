package models

import "errors"

// Error categories shared by every component. Package-level errors wrap one
// of these so callers can branch with errors.Is.
var (
	// ErrNotFound indicates an unknown worker, task, process, workflow or template.
	ErrNotFound = errors.New("not found")
	// ErrLimitExceeded indicates a process or task limit was hit.
	ErrLimitExceeded = errors.New("limit exceeded")
	// ErrInvalidTransition indicates a state machine violation.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrValidation indicates an out-of-range or unknown value.
	ErrValidation = errors.New("validation failed")
	// ErrUpstreamUnavailable indicates no eligible worker could be found.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
)
