// Package errors provides standardized error codes for the host application.
//
// Error codes follow the format {domain}.{error} where:
//   - domain: The subsystem that generated the error (gateway, screen, session, storage)
//   - error: The specific error type within that domain
//
// These codes are stable and appear in JSON error bodies returned by the
// HTTP gateway and in log lines. Human-readable messages are provided
// alongside codes.
package errors

import (
	"errors"
	"fmt"
)

// Error codes by domain.
const (
	// Gateway domain - raw HTTP surface
	CodeGatewayBadRequest     = "gateway.bad_request"     // Request could not be parsed
	CodeGatewayForbidden      = "gateway.forbidden"       // Path escapes the served root
	CodeGatewayNotFound       = "gateway.not_found"       // File or route does not exist
	CodeGatewayTooLarge       = "gateway.too_large"       // Request exceeds the size cap
	CodeGatewayUploadFailed   = "gateway.upload_failed"   // Upload could not be written
	CodeGatewayNotImplemented = "gateway.not_implemented" // Unsupported method
	CodeGatewayPreviewDenied  = "gateway.preview_denied"  // Preview rejected (size, type, key)

	// Screen domain - capture loop and viewer protocol
	CodeScreenInvalidMessage = "screen.invalid_message" // Malformed or unknown viewer message
	CodeScreenCaptureFailed  = "screen.capture_failed"  // Display capture failed
	CodeScreenEncodeFailed   = "screen.encode_failed"   // JPEG encoding failed
	CodeScreenInjectFailed   = "screen.inject_failed"   // Input injection failed
	CodeScreenDisplayMissing = "screen.display_missing" // No display server reachable

	// Session domain - PTY and process errors
	CodeSessionSpawnFailed   = "session.spawn_failed"    // Failed to spawn PTY
	CodeSessionShellNotFound = "session.shell_not_found" // No usable shell binary
	CodeSessionNotRunning    = "session.not_running"     // Session already torn down
	CodeSessionWriteFailed   = "session.write_failed"    // Failed to write to PTY
	CodeSessionNotFound      = "session.not_found"       // Session ID does not exist

	// Registry domain - session table
	CodeRegistryDuplicate = "registry.duplicate" // Connection ID already registered

	// Storage domain - audit database
	CodeStorageOpenFailed  = "storage.open_failed"  // Database open failed
	CodeStorageQueryFailed = "storage.query_failed" // Database query failed
	CodeStorageSaveFailed  = "storage.save_failed"  // Failed to save data

	// Config domain
	CodeConfigInvalid = "config.invalid" // Config value out of range

	// Input domain - rate limiting of remote input
	CodeInputRateLimited = "input.rate_limited" // Too many input messages per second

	// Keep-awake domain - idle inhibitor while viewers are connected
	CodeKeepAwakeUnsupported   = "keepawake.unsupported_environment" // No inhibitor available on this host
	CodeKeepAwakeAcquireFailed = "keepawake.acquire_failed"          // Inhibitor failed to start

	// General domain - catch-all errors
	CodeUnknown  = "error.unknown"  // Unknown error
	CodeInternal = "error.internal" // Internal server error
)

// CodedError wraps an error with a stable error code.
// This allows errors to carry both a code for programmatic handling
// and a message for human consumption.
type CodedError struct {
	Code    string // Stable error code (e.g., "gateway.forbidden")
	Message string // Human-readable error message
	Cause   error  // Underlying error (may be nil)
}

// Error implements the error interface.
func (e *CodedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *CodedError) Unwrap() error {
	return e.Cause
}

// New creates a new CodedError with the given code and message.
func New(code, message string) *CodedError {
	return &CodedError{
		Code:    code,
		Message: message,
	}
}

// Wrap creates a new CodedError wrapping an existing error.
func Wrap(code, message string, cause error) *CodedError {
	return &CodedError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// GetCode extracts the error code from an error.
// If the error is a CodedError, returns its code.
// Falls back to CodeUnknown for unrecognized errors.
func GetCode(err error) string {
	if err == nil {
		return ""
	}

	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code
	}

	return CodeUnknown
}

// GetMessage extracts a human-readable message from an error.
// If the error is a CodedError, returns its message.
// Otherwise, returns the error's Error() string.
func GetMessage(err error) string {
	if err == nil {
		return ""
	}

	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Message
	}

	return err.Error()
}

// ToCodeAndMessage extracts both code and message from an error.
// This is the primary function for converting errors to client responses.
func ToCodeAndMessage(err error) (code, message string) {
	if err == nil {
		return "", ""
	}

	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code, coded.Message
	}

	return CodeUnknown, err.Error()
}

// IsCode checks if an error has a specific error code.
func IsCode(err error, code string) bool {
	return GetCode(err) == code
}

// Common error constructors for frequently used error types.

// BadRequest creates a "gateway.bad_request" error.
func BadRequest(reason string) *CodedError {
	return New(CodeGatewayBadRequest, reason)
}

// Forbidden creates a "gateway.forbidden" error for a path outside the root.
func Forbidden(path string) *CodedError {
	return New(CodeGatewayForbidden, fmt.Sprintf("access to %s is not allowed", path))
}

// NotFound creates a "gateway.not_found" error.
func NotFound(resource string) *CodedError {
	return New(CodeGatewayNotFound, fmt.Sprintf("%s not found", resource))
}

// TooLarge creates a "gateway.too_large" error.
func TooLarge(limit int64) *CodedError {
	return New(CodeGatewayTooLarge, fmt.Sprintf("request exceeds %d bytes", limit))
}

// UploadFailed creates a "gateway.upload_failed" error.
func UploadFailed(name string, cause error) *CodedError {
	return Wrap(CodeGatewayUploadFailed, fmt.Sprintf("failed to store %s", name), cause)
}

// PreviewDenied creates a "gateway.preview_denied" error.
// The reason is shown to the user on the 500 page.
func PreviewDenied(reason string) *CodedError {
	return New(CodeGatewayPreviewDenied, reason)
}

// InvalidMessage creates a "screen.invalid_message" error.
func InvalidMessage(reason string) *CodedError {
	return New(CodeScreenInvalidMessage, reason)
}

// SpawnFailed creates a "session.spawn_failed" error.
func SpawnFailed(command string, cause error) *CodedError {
	return Wrap(CodeSessionSpawnFailed, fmt.Sprintf("failed to start %s", command), cause)
}

// ShellNotFound creates a "session.shell_not_found" error.
func ShellNotFound(candidates []string) *CodedError {
	return New(CodeSessionShellNotFound, fmt.Sprintf("no usable shell among %v", candidates))
}

// Internal creates an "error.internal" error.
func Internal(message string, cause error) *CodedError {
	return Wrap(CodeInternal, message, cause)
}
