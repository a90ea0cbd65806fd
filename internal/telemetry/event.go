// Package telemetry carries the auth service's security events, metrics and error reporting.
// Everything here is best-effort: a failed emit never fails the flow that produced it.
package telemetry

import (
	"context"
	"errors"
	"time"
)

// EventType names a security-relevant occurrence.
type EventType string

const (
	EventLoginSucceeded      EventType = "auth.login.succeeded"
	EventLoginFailed         EventType = "auth.login.failed"
	EventAccountLocked       EventType = "auth.account.locked"
	EventSessionRefreshed    EventType = "auth.session.refreshed"
	EventLogout              EventType = "auth.session.logout"
	EventLogoutAll           EventType = "auth.session.logout_all"
	EventSessionRevoked      EventType = "auth.session.revoked"
	EventPrincipalRegistered EventType = "auth.principal.registered"
	EventSessionsReaped      EventType = "auth.sessions.reaped"
)

// Event is one security event. Never put secrets or raw tokens in Attributes.
type Event struct {
	Type        EventType
	PrincipalID string
	SessionID   string
	// Reason is a short machine-readable cause for failures (an autherr kind).
	Reason     string
	Attributes map[string]string
	At         time.Time
}

// EventEmitter emits events (e.g. to OTel Logs). Best-effort; callers log and ignore errors.
type EventEmitter interface {
	Emit(ctx context.Context, event Event) error
}

// NopEmitter discards events.
type NopEmitter struct{}

func (NopEmitter) Emit(context.Context, Event) error { return nil }

type teeEmitter []EventEmitter

// Tee returns an emitter that hands each event to every non-nil emitter in order and joins their errors.
func Tee(emitters ...EventEmitter) EventEmitter {
	out := make(teeEmitter, 0, len(emitters))
	for _, e := range emitters {
		if e != nil {
			out = append(out, e)
		}
	}
	return out
}

func (t teeEmitter) Emit(ctx context.Context, event Event) error {
	var errs []error
	for _, e := range t {
		if err := e.Emit(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
