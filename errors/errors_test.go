package errors

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
)

func TestErrorClass_String(t *testing.T) {
	tests := []struct {
		class    ErrorClass
		expected string
	}{
		{ErrorTransient, "transient"},
		{ErrorInvalid, "invalid"},
		{ErrorFatal, "fatal"},
		{ErrorClass(999), "unknown"},
	}

	for _, test := range tests {
		t.Run(test.expected, func(t *testing.T) {
			if result := test.class.String(); result != test.expected {
				t.Errorf("expected %s, got %s", test.expected, result)
			}
		})
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"transport", ErrTransport, true},
		{"wait timeout", ErrWaitTimeout, true},
		{"context deadline exceeded", context.DeadlineExceeded, true},
		{"context canceled", context.Canceled, true},
		{"revoked", ErrRevoked, false},
		{"validation", ErrValidation, false},
		{"timeout in message", fmt.Errorf("read timeout occurred"), true},
		{"classified transient", &ClassifiedError{Class: ErrorTransient, Err: fmt.Errorf("test")}, true},
		{"classified fatal", &ClassifiedError{Class: ErrorFatal, Err: fmt.Errorf("test")}, false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if result := IsTransient(test.err); result != test.expected {
				t.Errorf("expected %v, got %v for error: %v", test.expected, result, test.err)
			}
		})
	}
}

func TestIsFatal(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"revoked", ErrRevoked, true},
		{"invalid config", ErrInvalidConfig, true},
		{"transport", ErrTransport, false},
		{"classified fatal", &ClassifiedError{Class: ErrorFatal, Err: fmt.Errorf("test")}, true},
		{"revoked helper", Revoked("channel", "Send"), true},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if result := IsFatal(test.err); result != test.expected {
				t.Errorf("expected %v, got %v for error: %v", test.expected, result, test.err)
			}
		})
	}
}

func TestIsInvalid(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"validation", ErrValidation, true},
		{"unsupported", ErrUnsupported, true},
		{"lease denied", ErrLeaseDenied, true},
		{"decode", ErrDecode, true},
		{"transport", ErrTransport, false},
		{"unsupported helper", Unsupportedf("registry", "Add", "query requests"), true},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if result := IsInvalid(test.err); result != test.expected {
				t.Errorf("expected %v, got %v for error: %v", test.expected, result, test.err)
			}
		})
	}
}

func TestWrap_Format(t *testing.T) {
	err := Wrap(io.EOF, "Channel", "Send", "socket write")
	if err.Error() != "Channel.Send: socket write failed: EOF" {
		t.Errorf("unexpected message: %s", err)
	}
	if !errors.Is(err, io.EOF) {
		t.Error("wrapped error should unwrap to io.EOF")
	}
	if Wrap(nil, "a", "b", "c") != nil {
		t.Error("wrapping nil should return nil")
	}
}

func TestHelpers_PreserveSentinel(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
		class    ErrorClass
	}{
		{"validation", Validationf("tuple", "Validate", "bad op %d", 7), ErrValidation, ErrorInvalid},
		{"unsupported", Unsupportedf("pending", "Add", "query"), ErrUnsupported, ErrorInvalid},
		{"revoked", Revoked("datagram", "Send"), ErrRevoked, ErrorFatal},
		{"transport", Transport(io.ErrClosedPipe, "datagram", "Send", "write"), ErrTransport, ErrorTransient},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if !Is(test.err, test.sentinel) {
				t.Errorf("expected %v to wrap %v", test.err, test.sentinel)
			}
			if Classify(test.err) != test.class {
				t.Errorf("expected class %s, got %s", test.class, Classify(test.err))
			}
		})
	}
}

func TestTransport_KeepsCause(t *testing.T) {
	err := Transport(io.ErrClosedPipe, "datagram", "Send", "write")
	if !errors.Is(err, io.ErrClosedPipe) {
		t.Error("transport error should keep the raw cause")
	}
	if !strings.Contains(err.Error(), "datagram.Send") {
		t.Errorf("missing context in %q", err)
	}
}
