// Package apierrors defines the error taxonomy shared by every
// component of the orchestration core, plus the plumbing to carry a
// kind and correlation id through a wrapped error to the HTTP boundary.
package apierrors

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Kind is one of the fixed taxonomy entries from spec §7.
type Kind string

const (
	KindInvalidRequest     Kind = "InvalidRequest"
	KindInvalidTransition  Kind = "InvalidTransition"
	KindPromptNotFound     Kind = "PromptNotFound"
	KindModelUnavailable   Kind = "ModelUnavailable"
	KindModelTimeout       Kind = "ModelTimeout"
	KindToolDenied         Kind = "ToolDenied"
	KindSandboxViolation   Kind = "SandboxViolation"
	KindValidationFailed   Kind = "ValidationFailed"
	KindDependencyNotReady Kind = "DependencyNotReady"
	KindQuotaExceeded      Kind = "QuotaExceeded"
	KindApprovalRejected   Kind = "ApprovalRejected"
	KindApprovalTimeout    Kind = "ApprovalTimeout"
	KindCheckpointCorrupt  Kind = "CheckpointCorrupt"
	KindCancelled          Kind = "Cancelled"
	KindInternal           Kind = "Internal"
)

// Error carries a taxonomy Kind, a human message, and a correlation id
// so internal failures never leak a stack trace but remain traceable
// from the emitted ExecutionEvent back to a support request. ReasonCode
// is optional — set by the originator when the workflow's terminal
// reason_code (spec §4.1) should echo this error's specific cause
// rather than a generic per-Kind fallback.
type Error struct {
	Kind        Kind
	Message     string
	Correlation string
	ReasonCode  string
	Err         error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// WithReasonCode sets ReasonCode and returns e for chaining at the
// construction site.
func (e *Error) WithReasonCode(code string) *Error {
	e.ReasonCode = code
	return e
}

// New builds an Error of the given kind with a fresh correlation id.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message, Correlation: uuid.NewString()}
}

// Wrap builds an Error of the given kind around an underlying cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Correlation: uuid.NewString(), Err: cause}
}

// KindOf extracts the Kind from err if it (or something it wraps) is an
// *Error; otherwise it returns KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// ReasonCodeOf extracts the ReasonCode from err if it (or something it
// wraps) is an *Error and has one set; otherwise it returns "".
func ReasonCodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.ReasonCode
	}
	return ""
}
