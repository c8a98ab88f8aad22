// Package errors provides structured CLI error types for garden.
//
// CLIError wraps errors with user-facing messages, hints, and exit codes
// to provide consistent, actionable error output across all commands.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Exit codes for CLI errors.
const (
	ExitSuccess = 0  // Successful execution
	ExitGeneral = 1  // General error
	ExitAuth    = 2  // Authentication error
	ExitNetwork = 3  // Network/API error
	ExitConfig  = 4  // Configuration error
	ExitTimeout = 5  // Operation timed out
	ExitUsage   = 64 // Command line usage error (BSD convention)
)

// CLIError represents a user-facing CLI error with actionable guidance.
type CLIError struct {
	// Message is the primary error message shown to the user.
	Message string

	// Hint provides actionable guidance on how to fix the error.
	Hint string

	// Cause is the underlying error, if any.
	Cause error

	// Code is the exit code for the CLI.
	Code int
}

// Error implements the error interface.
func (e *CLIError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}

	return e.Message
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *CLIError) Unwrap() error {
	return e.Cause
}

// New creates a new CLIError with the given message and exit code.
func New(code int, message string) *CLIError {
	return &CLIError{
		Message: message,
		Code:    code,
	}
}

// Wrap wraps an existing error with a CLIError.
func Wrap(code int, message string, cause error) *CLIError {
	return &CLIError{
		Message: message,
		Cause:   cause,
		Code:    code,
	}
}

// WithHint adds a hint to the error.
func (e *CLIError) WithHint(hint string) *CLIError {
	e.Hint = hint
	return e
}

// As is a convenience function for errors.As with CLIError.
func As(err error, target **CLIError) bool {
	return errors.As(err, target)
}

// --- Common error constructors ---

// NotAuthenticated returns an error indicating there is no signed-in user.
func NotAuthenticated() *CLIError {
	return &CLIError{
		Message: "Not signed in",
		Hint:    "Run 'garden auth login' or 'garden auth google' to sign in",
		Code:    ExitAuth,
	}
}

// GuestMode returns an error for operations that need an account while in guest mode.
func GuestMode() *CLIError {
	return &CLIError{
		Message: "You are browsing as a guest",
		Hint:    "Run 'garden auth login' to sign in with an account",
		Code:    ExitAuth,
	}
}

// AuthFailed returns an error for failed authentication. The message is the
// user-visible error recorded by the session store.
func AuthFailed(message string, cause error) *CLIError {
	if message == "" {
		message = "Authentication failed"
	}

	return &CLIError{
		Message: message,
		Hint:    "Check your email and password, or run 'garden auth google'",
		Cause:   cause,
		Code:    ExitAuth,
	}
}

// EmailEmpty returns an error when no email address was given.
func EmailEmpty() *CLIError {
	return &CLIError{
		Message: "Email cannot be empty",
		Hint:    "Pass --email or enter it when prompted",
		Code:    ExitUsage,
	}
}

// CannotPrompt returns an error when interactive prompts are unavailable.
func CannotPrompt(flag string) *CLIError {
	return &CLIError{
		Message: "Cannot prompt in non-interactive mode",
		Hint:    fmt.Sprintf("Pass %s instead", flag),
		Code:    ExitUsage,
	}
}

// BrowserFailed returns an error when the system browser could not be opened.
func BrowserFailed(target string, cause error) *CLIError {
	return &CLIError{
		Message: "Could not open a browser",
		Hint:    fmt.Sprintf("Open this URL manually: %s", target),
		Cause:   cause,
		Code:    ExitGeneral,
	}
}

// CallbackTimeout returns an error when the OAuth redirect never came back.
func CallbackTimeout(timeout string) *CLIError {
	return &CLIError{
		Message: fmt.Sprintf("Timed out after %s waiting for Google sign-in", timeout),
		Hint:    "Finish signing in within the browser window, or retry with --timeout",
		Code:    ExitTimeout,
	}
}

// LiveUnavailable returns an error when the live status channel cannot be reached.
func LiveUnavailable(url string, cause error) *CLIError {
	return &CLIError{
		Message: fmt.Sprintf("Live status channel unavailable: %s", url),
		Hint:    liveHint(cause),
		Cause:   cause,
		Code:    ExitNetwork,
	}
}

// RequestFailed returns an error for an API request that never got a usable answer.
func RequestFailed(operation string, cause error) *CLIError {
	hint := "Run 'garden doctor' to check connectivity"

	text := ""
	if cause != nil {
		text = cause.Error()
	}

	switch {
	case containsAny(text, "connection refused", "no such host"):
		hint = "The API is not reachable. Check 'garden config get api.url'"
	case containsAny(text, "deadline exceeded", "timeout"):
		hint = "The API did not answer in time. Raise http.timeout or retry"
	case containsAny(text, "status 401", "status 403"):
		hint = "Your session is no longer valid. Run 'garden auth login'"
	}

	return &CLIError{
		Message: fmt.Sprintf("Failed to %s", operation),
		Hint:    hint,
		Cause:   cause,
		Code:    ExitNetwork,
	}
}

// ConfigFailed returns an error for configuration or local storage failures.
func ConfigFailed(operation string, cause error) *CLIError {
	return &CLIError{
		Message: fmt.Sprintf("Failed to %s", operation),
		Hint:    "Check file permissions for your garden config directory or run 'garden doctor'",
		Cause:   cause,
		Code:    ExitConfig,
	}
}

// InvalidResourceType returns an error for an unknown directory resource type.
func InvalidResourceType(value string, supported []string) *CLIError {
	return &CLIError{
		Message: fmt.Sprintf("Invalid resource type: %s", value),
		Hint:    fmt.Sprintf("Supported types: %s", strings.Join(supported, ", ")),
		Code:    ExitUsage,
	}
}

func liveHint(cause error) string {
	if cause != nil && containsAny(cause.Error(), "deadline exceeded", "timeout") {
		return "The handshake timed out. Check 'garden config get live.url' or raise live.connect_timeout"
	}

	return "Check 'garden config get live.url' and that the monitor service is running"
}

// containsAny checks if s contains any of the substrings.
func containsAny(s string, substrings ...string) bool {
	lower := strings.ToLower(s)
	for _, sub := range substrings {
		if strings.Contains(lower, strings.ToLower(sub)) {
			return true
		}
	}

	return false
}
