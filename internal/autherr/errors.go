// Package autherr defines the tagged error taxonomy returned by the authentication flows.
// Callers branch on Kind (errors.Is against the Err* sentinels or KindOf), never on message text.
package autherr

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// Kind classifies an authentication failure.
type Kind string

const (
	KindInvalidCredentials Kind = "invalid_credentials"
	KindAccountLocked      Kind = "account_locked"
	KindAccountNotActive   Kind = "account_not_active"
	KindTokenMalformed     Kind = "token_malformed"
	KindTokenExpired       Kind = "token_expired"
	KindSessionNotFound    Kind = "session_not_found"
	KindSessionInactive    Kind = "session_inactive"
	KindStoreUnavailable   Kind = "store_unavailable"
	KindPropagationFailed  Kind = "propagation_failed"
	KindHandleTaken        Kind = "handle_taken"
	KindInvalidRequest     Kind = "invalid_request"
	KindInternal           Kind = "internal"
)

// Sentinels for errors.Is. An *Error matches the sentinel of its Kind.
var (
	ErrInvalidCredentials = &Error{Kind: KindInvalidCredentials}
	ErrAccountLocked      = &Error{Kind: KindAccountLocked}
	ErrAccountNotActive   = &Error{Kind: KindAccountNotActive}
	ErrTokenMalformed     = &Error{Kind: KindTokenMalformed}
	ErrTokenExpired       = &Error{Kind: KindTokenExpired}
	ErrSessionNotFound    = &Error{Kind: KindSessionNotFound}
	ErrSessionInactive    = &Error{Kind: KindSessionInactive}
	ErrStoreUnavailable   = &Error{Kind: KindStoreUnavailable}
	ErrPropagationFailed  = &Error{Kind: KindPropagationFailed}
	ErrHandleTaken        = &Error{Kind: KindHandleTaken}
	ErrInvalidRequest     = &Error{Kind: KindInvalidRequest}
	ErrInternal           = &Error{Kind: KindInternal}
)

// Error is a tagged authentication error. Cause is kept for logs and is never shown to callers.
type Error struct {
	Kind Kind
	// RemainingSeconds is set for KindAccountLocked so clients can display a backoff.
	RemainingSeconds int64
	// Detail is an optional caller-safe message (e.g. which request field is invalid).
	Detail string
	Cause  error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Kind == KindAccountLocked && e.RemainingSeconds > 0 {
		msg = fmt.Sprintf("%s: retry after %ds", msg, e.RemainingSeconds)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is an *Error of the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Retryable reports whether the caller may retry the same request with backoff.
func (e *Error) Retryable() bool { return e.Kind == KindStoreUnavailable }

// Public returns the message safe to show to an external caller. Session and expiry failures
// collapse into one "unauthorized" message so revocation state is not revealed.
func (e *Error) Public() string {
	switch e.Kind {
	case KindInvalidCredentials:
		return "invalid credentials"
	case KindAccountLocked:
		return "account temporarily locked"
	case KindAccountNotActive:
		return "account not active"
	case KindTokenMalformed, KindTokenExpired, KindSessionNotFound, KindSessionInactive:
		return "unauthorized"
	case KindStoreUnavailable:
		return "service temporarily unavailable"
	case KindHandleTaken:
		return "handle already registered"
	case KindInvalidRequest:
		if e.Detail != "" {
			return e.Detail
		}
		return "invalid request"
	default:
		return "internal error"
	}
}

// New returns an *Error of kind wrapping cause (may be nil).
func New(kind Kind, cause error) *Error {
	return &Error{Kind: kind, Cause: cause}
}

// Invalid returns a KindInvalidRequest error with a caller-safe detail.
func Invalid(detail string) *Error {
	return &Error{Kind: KindInvalidRequest, Detail: detail}
}

// Locked returns a KindAccountLocked error carrying the remaining lock time, rounded up to whole seconds.
func Locked(remaining time.Duration) *Error {
	secs := int64(math.Ceil(remaining.Seconds()))
	if secs < 0 {
		secs = 0
	}
	return &Error{Kind: KindAccountLocked, RemainingSeconds: secs}
}

// Store wraps a persistence failure as KindStoreUnavailable. Already-tagged errors pass through.
func Store(err error) error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return err
	}
	return &Error{Kind: KindStoreUnavailable, Cause: err}
}

// KindOf returns the Kind of err, KindInternal for untagged errors, and "" for nil.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindStoreUnavailable
	}
	return KindInternal
}

// IsUnauthorized reports whether err is any token or session failure.
func IsUnauthorized(err error) bool {
	switch KindOf(err) {
	case KindTokenMalformed, KindTokenExpired, KindSessionNotFound, KindSessionInactive:
		return true
	}
	return false
}
