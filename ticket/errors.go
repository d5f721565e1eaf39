package ticket

import (
	"errors"
	"fmt"
)

// Kind names the failure categories a lifecycle operation can return.
// Handlers map kinds to user-facing messages; the wrapped cause stays in
// the logs.
type Kind string

const (
	KindNotConfigured       Kind = "not_configured"
	KindForbidden           Kind = "forbidden"
	KindQuotaExceeded       Kind = "quota_exceeded"
	KindAlreadyOpen         Kind = "already_open"
	KindAlreadyClosed       Kind = "already_closed"
	KindNotOpen             Kind = "not_open"
	KindNotClosed           Kind = "not_closed"
	KindAlreadyClaimed      Kind = "already_claimed"
	KindAlreadyDeleted      Kind = "already_deleted"
	KindReopenDisabled      Kind = "reopen_disabled"
	KindNotFound            Kind = "not_found"
	KindExternalUnavailable Kind = "external_unavailable"
)

type Error struct {
	Kind Kind
	// Claimant carries the current claimant's user id for AlreadyClaimed.
	Claimant string
	cause    error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("ticket: %s: %v", e.Kind, e.cause)
	}
	return fmt.Sprintf("ticket: %s", e.Kind)
}

func (e *Error) Unwrap() error { return e.cause }

func failure(kind Kind) *Error { return &Error{Kind: kind} }

func external(err error) *Error {
	return &Error{Kind: KindExternalUnavailable, cause: err}
}

// KindOf extracts the failure kind from an error, or "" for plain errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// ClaimantOf returns the current claimant recorded on an AlreadyClaimed
// failure.
func ClaimantOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Claimant
	}
	return ""
}
