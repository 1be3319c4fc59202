// Package derrors provides coded domain errors.
//
// Services return these so transports can translate them into consistent
// responses without inspecting error strings. Stores return sentinel errors
// (pkg/platform/sentinel); services translate those into coded errors at the
// domain boundary.
package derrors

import (
	"errors"
	"fmt"
)

// Code classifies a domain error for transport mapping and branching.
type Code string

const (
	// Ambient codes shared by every domain.
	CodeValidation         Code = "validation"
	CodeBadRequest         Code = "bad_request"
	CodeInvalidInput       Code = "invalid_input"
	CodeNotFound           Code = "not_found"
	CodeConflict           Code = "conflict"
	CodeUnauthorized       Code = "unauthorized"
	CodeForbidden          Code = "forbidden"
	CodeTimeout            Code = "timeout"
	CodeInternal           Code = "internal"
	CodeInvariantViolation Code = "invariant_violation"

	// Authority and quorum codes. These are caller-recoverable: collect the
	// missing signatures and resubmit.
	CodeQuorumNotMet     Code = "quorum_not_met"
	CodeInsufficientKeys Code = "insufficient_keys"

	// CodePolicyViolation marks a key/threshold configuration that breaks a
	// hard invariant. Never retried; always a caller bug.
	CodePolicyViolation Code = "policy_violation"

	// Ledger outcome codes. Rejected means the network declined the
	// transaction and a retry cannot help. Unavailable means retries were
	// exhausted on transient failures and the caller may try again shortly.
	CodeLedgerRejected    Code = "ledger_rejected"
	CodeLedgerUnavailable Code = "ledger_unavailable"

	// Terminal-state guards. Surfaced as no-ops rather than faults.
	CodeAlreadyFinalized Code = "already_finalized"
	CodeProposalExpired  Code = "proposal_expired"
)

// Error is a coded domain error with an optional wrapped cause.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New creates a coded error with no cause.
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// Newf creates a coded error with a formatted message.
func Newf(code Code, format string, args ...any) error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying cause. A nil cause
// yields nil so call sites can wrap unconditionally.
func Wrap(err error, code Code, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, cause: err}
}

// HasCode reports whether err or anything in its chain carries the code.
func HasCode(err error, code Code) bool {
	var de *Error
	for errors.As(err, &de) {
		if de.Code == code {
			return true
		}
		err = de.cause
	}
	return false
}

// Is is shorthand for HasCode, matching the call sites that read better as
// a predicate.
func Is(err error, code Code) bool { return HasCode(err, code) }

// CodeOf returns the outermost code in the chain, or CodeInternal when err
// carries none.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}
