package models

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across services and handlers.
var (
	// ErrNotFound maps to HTTP 404 at the handler layer.
	ErrNotFound = errors.New("not found")

	// ErrValidation maps to HTTP 400.
	ErrValidation = errors.New("validation failed")

	// ErrExperimentDisabled means an experiment was auto-stopped or
	// turned off; callers downgrade to the control path, never fail.
	ErrExperimentDisabled = errors.New("experiment disabled")

	// ErrCircuitOpen is returned by the ML client while its breaker is
	// open; callers serve fallbacks.
	ErrCircuitOpen = errors.New("ml circuit breaker open")
)

// RemoteError wraps a failed call to the ML service with enough context
// to decide retries: transient errors (network, 5xx) are retried with
// backoff, permanent errors (4xx) are not.
type RemoteError struct {
	Op         string
	StatusCode int
	Transient  bool
	Err        error
}

func (e *RemoteError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("ml %s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("ml %s: %v", e.Op, e.Err)
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

// NewTransientRemoteError marks a retryable remote failure.
func NewTransientRemoteError(op string, statusCode int, err error) *RemoteError {
	return &RemoteError{Op: op, StatusCode: statusCode, Transient: true, Err: err}
}

// NewPermanentRemoteError marks a non-retryable remote failure.
func NewPermanentRemoteError(op string, statusCode int, err error) *RemoteError {
	return &RemoteError{Op: op, StatusCode: statusCode, Transient: false, Err: err}
}

// IsTransientRemote reports whether err is a retryable remote failure.
func IsTransientRemote(err error) bool {
	var re *RemoteError
	if errors.As(err, &re) {
		return re.Transient
	}
	return false
}

// IngestError values are collected per source; see IngestResult. This
// constructor keeps the message format consistent across sources.
func NewIngestError(source string, err error) IngestError {
	return IngestError{Source: source, Message: err.Error()}
}

// StorageError wraps badger failures on the serving path. Only these
// surface as HTTP 5xx from read endpoints.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// IsStorageError reports whether err originated in the storage layer.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}
