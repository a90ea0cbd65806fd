package domain

import "time"

// AuditLog is one persisted security event.
type AuditLog struct {
	ID          string
	PrincipalID string // empty for unknown handles
	SessionID   string
	Action      string
	Resource    string
	Reason      string
	IP          string
	Metadata    map[string]string
	CreatedAt   time.Time
}
