package ledger

import (
	"errors"
	"fmt"

	dErrors "brickledger/pkg/domain-errors"
)

// transientError marks a failure worth retrying (network error, timeout,
// node overload). The retry decorator consumes the mark; nothing above the
// gateway ever sees it.
type transientError struct {
	cause     error
	ambiguous bool
}

func (e *transientError) Error() string { return fmt.Sprintf("transient ledger failure: %v", e.cause) }
func (e *transientError) Unwrap() error { return e.cause }

// MarkTransient wraps a retryable failure whose outcome is known to be
// "not committed" (for example a connection refused before submission).
func MarkTransient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{cause: err}
}

// MarkAmbiguous wraps a retryable failure whose outcome is unknown (request
// timed out in flight). The retry decorator must reconcile via
// LookupReceipt before resubmitting.
func MarkAmbiguous(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{cause: err, ambiguous: true}
}

// IsTransient reports whether err is retryable.
func IsTransient(err error) bool {
	var te *transientError
	return errors.As(err, &te)
}

// IsAmbiguous reports whether err left the ledger outcome unknown.
func IsAmbiguous(err error) bool {
	var te *transientError
	return errors.As(err, &te) && te.ambiguous
}

// Reject builds the terminal "network declined" failure. Not retryable.
func Reject(status, message string) error {
	return dErrors.Newf(dErrors.CodeLedgerRejected, "%s: %s", status, message)
}

// Unavailable builds the "retries exhausted" failure surfaced to callers.
func Unavailable(err error) error {
	return dErrors.Wrap(err, dErrors.CodeLedgerUnavailable, "ledger unavailable")
}

// IsRejected reports whether the ledger network declined the operation.
func IsRejected(err error) bool { return dErrors.HasCode(err, dErrors.CodeLedgerRejected) }

// IsUnavailable reports whether the operation failed transiently after
// exhausting retries.
func IsUnavailable(err error) bool { return dErrors.HasCode(err, dErrors.CodeLedgerUnavailable) }
