package ledger

import (
	"errors"
	"fmt"
)

// Kind classifies gateway failures so callers can pick a recovery policy.
type Kind int

const (
	// KindTransient covers network errors, timeouts, throttling and 5xx
	// responses. Safe to retry the specific failed operation once.
	KindTransient Kind = iota
	// KindNotConfigured means the planning endpoint is absent on the remote
	// side. Views degrade to an "unavailable" state.
	KindNotConfigured
	// KindValidationRejected means the ledger refused a write due to business
	// rules. Never retried; the message is surfaced verbatim.
	KindValidationRejected
	// KindConcurrencyConflict means the supplied concurrency token no longer
	// matches the remote record.
	KindConcurrencyConflict
)

func (k Kind) String() string {
	switch k {
	case KindNotConfigured:
		return "not configured"
	case KindValidationRejected:
		return "validation rejected"
	case KindConcurrencyConflict:
		return "concurrency conflict"
	default:
		return "transient"
	}
}

// Error is a classified gateway failure.
type Error struct {
	Kind    Kind
	Op      string
	Status  int
	Message string
}

func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s: %s (status %d): %s", e.Op, e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, e.Message)
}

// KindOf returns the Kind of err. Errors that did not come from the gateway
// are treated as transient, which keeps the retry policy conservative.
func KindOf(err error) Kind {
	var le *Error
	if errors.As(err, &le) {
		return le.Kind
	}
	return KindTransient
}

// IsConflict reports whether err is a concurrency-token mismatch.
func IsConflict(err error) bool {
	var le *Error
	return errors.As(err, &le) && le.Kind == KindConcurrencyConflict
}

// IsNotConfigured reports whether err means the planning endpoint is absent.
func IsNotConfigured(err error) bool {
	var le *Error
	return errors.As(err, &le) && le.Kind == KindNotConfigured
}

func classify(status int) Kind {
	switch {
	case status == 404:
		return KindNotConfigured
	case status == 409 || status == 412:
		return KindConcurrencyConflict
	case status == 400 || status == 422:
		return KindValidationRejected
	default:
		return KindTransient
	}
}
