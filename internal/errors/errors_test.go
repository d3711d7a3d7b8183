package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestCodedError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *CodedError
		expected string
	}{
		{
			name:     "error without cause",
			err:      New(CodeGatewayNotFound, "file not found"),
			expected: "gateway.not_found: file not found",
		},
		{
			name:     "error with cause",
			err:      Wrap(CodeSessionSpawnFailed, "failed to start bash", errors.New("no pty")),
			expected: "session.spawn_failed: failed to start bash (no pty)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestCodedError_Unwrap(t *testing.T) {
	cause := errors.New("original error")
	err := Wrap(CodeInternal, "wrapped", cause)

	if err.Unwrap() != cause {
		t.Error("Unwrap() should return the original cause")
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is should see through CodedError")
	}

	err2 := New(CodeGatewayNotFound, "not found")
	if err2.Unwrap() != nil {
		t.Error("Unwrap() should return nil when no cause")
	}
}

func TestGetCode(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{"nil error", nil, ""},
		{"CodedError", Forbidden("/etc"), CodeGatewayForbidden},
		{"wrapped CodedError", fmt.Errorf("outer: %w", SpawnFailed("sh", errors.New("x"))), CodeSessionSpawnFailed},
		{"plain error", errors.New("some error"), CodeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetCode(tt.err); got != tt.expected {
				t.Errorf("GetCode() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestToCodeAndMessage(t *testing.T) {
	code, msg := ToCodeAndMessage(PreviewDenied("file too large"))
	if code != CodeGatewayPreviewDenied || msg != "file too large" {
		t.Errorf("got (%q, %q)", code, msg)
	}

	code, msg = ToCodeAndMessage(errors.New("boom"))
	if code != CodeUnknown || msg != "boom" {
		t.Errorf("got (%q, %q)", code, msg)
	}

	code, msg = ToCodeAndMessage(nil)
	if code != "" || msg != "" {
		t.Errorf("nil error should map to empty strings, got (%q, %q)", code, msg)
	}
}

func TestGetMessage(t *testing.T) {
	if got := GetMessage(NotFound("/tmp/x")); got != "/tmp/x not found" {
		t.Errorf("GetMessage() = %q", got)
	}
	if got := GetMessage(errors.New("plain")); got != "plain" {
		t.Errorf("GetMessage() = %q", got)
	}
}

func TestIsCode(t *testing.T) {
	err := TooLarge(10)
	if !IsCode(err, CodeGatewayTooLarge) {
		t.Error("IsCode should match gateway.too_large")
	}
	if IsCode(err, CodeGatewayForbidden) {
		t.Error("IsCode should not match a different code")
	}
}
