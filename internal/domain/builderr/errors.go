package builderr

import (
	"errors"
	"fmt"
	"strings"
)

// Code standardizes pipeline failure semantics across phases.
type Code string

const (
	// CodeValidation marks configuration/input failures that are fatal
	// before any state mutation.
	CodeValidation Code = "validation"
	CodeNotFound   Code = "not_found"
	CodeConflict   Code = "conflict"
	// CodeRetryable marks transient storage failures retried at batch
	// granularity.
	CodeRetryable Code = "retryable"
	// CodeDataIntegrity marks orphan references in the source relations.
	// The offending row is logged and skipped; the phase continues.
	CodeDataIntegrity Code = "data_integrity"
	// CodeCycle marks a parent-chain anomaly. Diagnostic only.
	CodeCycle    Code = "cycle"
	CodeInternal Code = "internal"
)

// Error is the canonical pipeline error wrapper.
type Error struct {
	Code    Code
	Op      string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	op := strings.TrimSpace(e.Op)
	msg := strings.TrimSpace(e.Message)
	switch {
	case op != "" && msg != "":
		return fmt.Sprintf("%s: %s (%s)", op, msg, e.Code)
	case op != "":
		return fmt.Sprintf("%s (%s)", op, e.Code)
	case msg != "":
		return fmt.Sprintf("%s (%s)", msg, e.Code)
	default:
		return string(e.Code)
	}
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds a pipeline error with explicit code + operation.
func New(code Code, op, message string, cause error) error {
	return &Error{
		Code:    code,
		Op:      strings.TrimSpace(op),
		Message: strings.TrimSpace(message),
		Cause:   cause,
	}
}

// Wrap attaches a code and operation to an underlying cause.
func Wrap(code Code, op string, cause error) error {
	return &Error{Code: code, Op: strings.TrimSpace(op), Cause: cause}
}

// CodeOf extracts the pipeline error code, or CodeInternal for foreign errors.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code Code) bool {
	if err == nil {
		return false
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// IsRetryable reports whether the failure is safe to retry at batch granularity.
func IsRetryable(err error) bool {
	return IsCode(err, CodeRetryable)
}
