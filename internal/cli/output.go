// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/mobiletoly/go-ledgersync/ledger"
	"github.com/mobiletoly/go-ledgersync/ledgersqlite"
	"github.com/mobiletoly/go-ledgersync/ledgersync"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // runtime failure (remote unreachable, storage error)
	ExitCommandError = 2 // bad flags, bad config
	ExitRejected     = 3 // input rejected by validation or unknown record
)

// ExitError carries the process exit code of a failed command.
type ExitError struct {
	Code    int
	Message string
	Err     error
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

func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode maps err to a process exit code.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	if errors.Is(err, ledger.ErrValidation) || errors.Is(err, ledger.ErrNotFound) {
		return ExitRejected
	}
	return ExitFailure
}

// CLIResponse is the envelope of --format json output.
type CLIResponse struct {
	Status string    `json:"status"`
	Data   any       `json:"data,omitempty"`
	Error  *CLIError `json:"error,omitempty"`
}

type CLIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// errorCode names the class of err for JSON output.
func errorCode(err error) string {
	switch {
	case errors.Is(err, ledger.ErrValidation):
		return "validation"
	case errors.Is(err, ledger.ErrNotFound):
		return "not_found"
	case errors.Is(err, ledger.ErrConstraint):
		return "constraint"
	case errors.Is(err, ledgersqlite.ErrSyncInProgress):
		return "sync_in_progress"
	case ledgersync.IsConnectivity(err):
		return "unavailable"
	}
	return "error"
}

// WriteError renders err in the requested format.
func WriteError(w io.Writer, format string, err error) {
	if format == "json" {
		_ = json.NewEncoder(w).Encode(CLIResponse{
			Status: "error",
			Error:  &CLIError{Code: errorCode(err), Message: err.Error()},
		})
		return
	}
	fmt.Fprintf(w, "Error: %v\n", err)
}

// render writes data as a JSON envelope, or calls text for human output.
func (o *RootOptions) render(w io.Writer, data any, text func(w io.Writer)) error {
	if o.Format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(CLIResponse{Status: "ok", Data: data})
	}
	text(w)
	return nil
}
