package repository

import (
	"context"

	"nexabank-auth/backend/internal/audit/domain"
)

// Repository defines persistence for audit logs. The trail is append-only.
type Repository interface {
	Create(ctx context.Context, a *domain.AuditLog) error
	// ListByPrincipal returns the newest entries first.
	ListByPrincipal(ctx context.Context, principalID string, limit int) ([]*domain.AuditLog, error)
}
