// Package audit persists the auth service's security events as an append-only trail.
package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"nexabank-auth/backend/internal/audit/domain"
	auditrepo "nexabank-auth/backend/internal/audit/repository"
	"nexabank-auth/backend/internal/telemetry"
)

// ipAttribute is lifted out of event attributes into its own column.
const ipAttribute = "ip_address"

// Logger implements telemetry.EventEmitter by writing each event to the audit repository.
type Logger struct {
	repo auditrepo.Repository
	now  func() time.Time
}

// NewLogger returns a Logger that persists to repo.
func NewLogger(repo auditrepo.Repository) *Logger {
	return &Logger{repo: repo, now: time.Now}
}

// Emit writes one audit log entry. Callers go through telemetry.EmitAsync, which logs a failure
// and carries on.
func (l *Logger) Emit(ctx context.Context, ev telemetry.Event) error {
	if l.repo == nil {
		return errors.New("audit: no repository")
	}
	ar := ParseEventType(ev.Type)
	at := ev.At
	if at.IsZero() {
		at = l.now()
	}
	entry := &domain.AuditLog{
		ID:          uuid.New().String(),
		PrincipalID: ev.PrincipalID,
		SessionID:   ev.SessionID,
		Action:      ar.Action,
		Resource:    ar.Resource,
		Reason:      ev.Reason,
		IP:          "unknown",
		CreatedAt:   at.UTC(),
	}
	for k, v := range ev.Attributes {
		if k == ipAttribute {
			if v != "" {
				entry.IP = v
			}
			continue
		}
		if entry.Metadata == nil {
			entry.Metadata = make(map[string]string, len(ev.Attributes))
		}
		entry.Metadata[k] = v
	}
	if err := l.repo.Create(ctx, entry); err != nil {
		return fmt.Errorf("audit: write %s: %w", ev.Type, err)
	}
	return nil
}
