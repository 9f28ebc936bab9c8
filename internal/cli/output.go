package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/roach88/rollcall/internal/engine"
	"github.com/roach88/rollcall/internal/remote"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Operation refused (local validation or authority rejection)
	ExitCommandError = 2 // Command error (bad config, database unavailable, authority unreachable)
)

// Error codes for failures that are not engine validation codes.
const (
	ErrCodeRejected     = "REJECTED"
	ErrCodeUnreachable  = "UNREACHABLE"
	ErrCodeUnauthorized = "UNAUTHORIZED"
	ErrCodeConfig       = "CONFIG"
	ErrCodeInternal     = "INTERNAL"
)

// ExitError represents an error with a specific exit code.
// Use this to return errors with meaningful exit codes from CLI commands.
type ExitError struct {
	Code    int    // Exit code (use ExitFailure or ExitCommandError)
	Message string // Error message
	Err     error  // Underlying error (optional)
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // Separate writer for verbose/diagnostic output (defaults to Writer)
	Verbose   bool
}

// CLIResponse is the standard JSON response format for CLI output.
type CLIResponse struct {
	Status string    `json:"status"`          // "ok" or "error"
	Data   any       `json:"data,omitempty"`  // success payload
	Error  *CLIError `json:"error,omitempty"` // error details
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code    string `json:"code"`              // engine code such as "SESSION_FULL", or ErrCode*
	Message string `json:"message"`           // human-readable message
	Details any    `json:"details,omitempty"` // additional context
}

// Success outputs a successful result in the configured format.
// In text mode data is printed with fmt, so views implement fmt.Stringer.
func (f *OutputFormatter) Success(data any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "ok",
			Data:   data,
		})
	}

	fmt.Fprintln(f.Writer, data)
	return nil
}

// Error outputs an error in the configured format.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "error",
			Error: &CLIError{
				Code:    code,
				Message: message,
				Details: details,
			},
		})
	}

	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return nil
}

// Fail reports err in the configured format and returns the ExitError the
// command should return. Refusals exit 1; everything else exits 2.
func (f *OutputFormatter) Fail(err error) error {
	var ve *engine.ValidationError
	var re *engine.RejectionError
	var ee *ExitError

	switch {
	case errors.As(err, &ve):
		_ = f.Error(string(ve.Code), ve.Message, nil)
		return WrapExitError(ExitFailure, string(ve.Code), err)

	case errors.As(err, &re):
		code := re.Err.Code
		if code == "" {
			code = ErrCodeRejected
		}
		_ = f.Error(code, re.Reason(), map[string]int{"status": re.Err.Status})
		return WrapExitError(ExitFailure, code, err)

	case remote.IsRejection(err):
		_ = f.Error(ErrCodeRejected, err.Error(), nil)
		return WrapExitError(ExitFailure, ErrCodeRejected, err)

	case errors.Is(err, remote.ErrUnauthorized):
		_ = f.Error(ErrCodeUnauthorized, err.Error(), nil)
		return WrapExitError(ExitCommandError, ErrCodeUnauthorized, err)

	case remote.IsTransport(err):
		_ = f.Error(ErrCodeUnreachable, err.Error(), nil)
		return WrapExitError(ExitCommandError, ErrCodeUnreachable, err)

	case errors.As(err, &ee):
		_ = f.Error(ErrCodeConfig, ee.Error(), nil)
		return ee
	}

	_ = f.Error(ErrCodeInternal, err.Error(), nil)
	return WrapExitError(ExitCommandError, ErrCodeInternal, err)
}

// VerboseLog outputs a message only if verbose mode is enabled.
// Uses ErrWriter if set, otherwise falls back to Writer.
// When format is JSON, verbose logs go to ErrWriter to avoid corrupting JSON output.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	w := f.ErrWriter
	if w == nil {
		w = f.Writer
	}
	fmt.Fprintf(w, format+"\n", args...)
}

// GetErrWriter returns the appropriate writer for diagnostic output.
// Returns ErrWriter if set, otherwise Writer.
func (f *OutputFormatter) GetErrWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}
