package models

import (
	"errors"
	"fmt"
)

// ErrorKind identifies a failure class. Kinds are part of the wire contract:
// the platform uses them to decide whether to retry a job or recycle the
// container.
type ErrorKind string

const (
	ErrKindConfiguration ErrorKind = "configuration_error"
	ErrKindDevice        ErrorKind = "device_error"
	ErrKindModelLoad     ErrorKind = "model_load_error"
	ErrKindValidation    ErrorKind = "validation_error"
	ErrKindSerialization ErrorKind = "serialization_error"
	ErrKindTimeout       ErrorKind = "timeout_error"
	ErrKindInternal      ErrorKind = "internal_error"
)

// WorkerError is a typed error carrying its failure class. Configuration,
// device and model-load errors are process-fatal: once one occurs the worker
// must stop reporting itself healthy. Validation and serialization errors are
// job-local and not worth retrying with the same input; timeouts are job-local
// and retriable.
type WorkerError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

// Error implements the error interface.
func (e *WorkerError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the wrapped cause, if any.
func (e *WorkerError) Unwrap() error {
	return e.Err
}

// NewConfigurationError reports invalid or missing startup configuration.
func NewConfigurationError(format string, args ...interface{}) *WorkerError {
	return &WorkerError{Kind: ErrKindConfiguration, Message: fmt.Sprintf(format, args...)}
}

// NewDeviceError reports an unusable or missing accelerator.
func NewDeviceError(format string, args ...interface{}) *WorkerError {
	return &WorkerError{Kind: ErrKindDevice, Message: fmt.Sprintf(format, args...)}
}

// NewModelLoadError reports missing, incomplete or unloadable checkpoint
// artifacts.
func NewModelLoadError(err error, format string, args ...interface{}) *WorkerError {
	return &WorkerError{Kind: ErrKindModelLoad, Message: fmt.Sprintf(format, args...), Err: err}
}

// NewValidationError reports a malformed job input.
func NewValidationError(format string, args ...interface{}) *WorkerError {
	return &WorkerError{Kind: ErrKindValidation, Message: fmt.Sprintf(format, args...)}
}

// NewSerializationError reports a failure to encode a finished asset.
func NewSerializationError(err error, format string, args ...interface{}) *WorkerError {
	return &WorkerError{Kind: ErrKindSerialization, Message: fmt.Sprintf(format, args...), Err: err}
}

// NewTimeoutError reports a job that exceeded the internal deadline.
func NewTimeoutError(format string, args ...interface{}) *WorkerError {
	return &WorkerError{Kind: ErrKindTimeout, Message: fmt.Sprintf(format, args...)}
}

// Kind extracts the failure class from err, defaulting to internal_error for
// untyped errors.
func Kind(err error) ErrorKind {
	var we *WorkerError
	if errors.As(err, &we) {
		return we.Kind
	}
	return ErrKindInternal
}

// IsFatal reports whether err should mark the whole process unhealthy.
func IsFatal(err error) bool {
	switch Kind(err) {
	case ErrKindConfiguration, ErrKindDevice, ErrKindModelLoad:
		return true
	}
	return false
}

// IsRetriable reports whether the platform may re-dispatch the same job.
func IsRetriable(err error) bool {
	return Kind(err) == ErrKindTimeout
}

// FailureRecord is the structured error returned to the platform in place of
// a JobResult.
type FailureRecord struct {
	Kind      ErrorKind `json:"kind"`
	Message   string    `json:"message"`
	Retriable bool      `json:"retriable"`
	Fatal     bool      `json:"fatal"`
}

// Classify converts any error into a FailureRecord. Untyped errors are
// reported as internal errors rather than discarded.
func Classify(err error) *FailureRecord {
	var we *WorkerError
	if errors.As(err, &we) {
		return &FailureRecord{
			Kind:      we.Kind,
			Message:   we.Error(),
			Retriable: IsRetriable(we),
			Fatal:     IsFatal(we),
		}
	}
	return &FailureRecord{
		Kind:    ErrKindInternal,
		Message: err.Error(),
	}
}
