// Package errors provides the classified error taxonomy shared by the tuple I/O layer.
// It includes error classification, standard error variables, and helper functions
// for consistent error wrapping and classification across the system.
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorClass represents the classification of errors for handling purposes
type ErrorClass int

const (
	// ErrorTransient represents temporary errors that may be retried
	ErrorTransient ErrorClass = iota
	// ErrorInvalid represents errors caused by the caller: malformed or unsupported requests
	ErrorInvalid
	// ErrorFatal represents unrecoverable errors such as operating on a revoked resource
	ErrorFatal
)

// String returns the string representation of ErrorClass
func (ec ErrorClass) String() string {
	switch ec {
	case ErrorTransient:
		return "transient"
	case ErrorInvalid:
		return "invalid"
	case ErrorFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Standard error variables. Every error produced by this module wraps one of these.
var (
	// Request and query errors
	ErrValidation  = errors.New("validation failed")
	ErrUnsupported = errors.New("unsupported operation")

	// Resource lifecycle errors
	ErrRevoked     = errors.New("resource revoked")
	ErrLeaseDenied = errors.New("lease denied")
	ErrWaitTimeout = errors.New("wait timeout")

	// I/O errors
	ErrTransport = errors.New("transport failure")
	ErrDecode    = errors.New("decode failed")

	// Store errors
	ErrNotFound = errors.New("not found")

	// Configuration errors
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrMissingConfig = errors.New("missing required configuration")
)

// New, Is, As and Join mirror the standard library so callers need a single import.
var (
	New  = errors.New
	Is   = errors.Is
	As   = errors.As
	Join = errors.Join
)

// ClassifiedError wraps an error with its classification
type ClassifiedError struct {
	Class     ErrorClass
	Err       error
	Message   string
	Component string
	Operation string
}

// Error implements the error interface
func (ce *ClassifiedError) Error() string {
	if ce.Message != "" {
		return ce.Message
	}
	return ce.Err.Error()
}

// Unwrap returns the underlying error
func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// IsTransient checks if an error is transient and may be retried
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorTransient
	}

	if errors.Is(err, ErrTransport) ||
		errors.Is(err, ErrWaitTimeout) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	for _, pattern := range []string{"timeout", "temporary", "unavailable", "connection refused"} {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}

// IsFatal checks if an error is fatal for the resource that produced it
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorFatal
	}

	return errors.Is(err, ErrRevoked) ||
		errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrMissingConfig)
}

// IsInvalid checks if an error is due to invalid caller input
func IsInvalid(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorInvalid
	}

	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrUnsupported) ||
		errors.Is(err, ErrLeaseDenied) ||
		errors.Is(err, ErrDecode) ||
		errors.Is(err, ErrNotFound)
}

// Classify returns the error class for an error
func Classify(err error) ErrorClass {
	if err == nil {
		return ErrorTransient
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class
	}
	if IsFatal(err) {
		return ErrorFatal
	}
	if IsInvalid(err) {
		return ErrorInvalid
	}

	return ErrorTransient
}

func newClassified(class ErrorClass, err error, component, operation, message string) *ClassifiedError {
	return &ClassifiedError{
		Class:     class,
		Err:       err,
		Message:   message,
		Component: component,
		Operation: operation,
	}
}

// Wrap creates a standardized error with context following the pattern:
// "component.method: action failed: %w"
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

// WrapTransient wraps an error as transient with context
func WrapTransient(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorTransient, wrappedErr, component, method, wrappedErr.Error())
}

// WrapFatal wraps an error as fatal with context
func WrapFatal(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorFatal, wrappedErr, component, method, wrappedErr.Error())
}

// WrapInvalid wraps an error as invalid with context
func WrapInvalid(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorInvalid, wrappedErr, component, method, wrappedErr.Error())
}

// Validationf builds an invalid-class error wrapping ErrValidation.
func Validationf(component, method, format string, args ...any) error {
	return WrapInvalid(fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...)),
		component, method, "validation")
}

// Unsupportedf builds an invalid-class error wrapping ErrUnsupported.
func Unsupportedf(component, method, format string, args ...any) error {
	return WrapInvalid(fmt.Errorf("%w: %s", ErrUnsupported, fmt.Sprintf(format, args...)),
		component, method, "operation check")
}

// Revoked builds a fatal-class error wrapping ErrRevoked.
func Revoked(component, method string) error {
	return WrapFatal(ErrRevoked, component, method, "revocation check")
}

// Transport wraps a raw I/O error as a transient transport failure.
func Transport(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return WrapTransient(fmt.Errorf("%w: %w", ErrTransport, err), component, method, action)
}
