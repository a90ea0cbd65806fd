package repository

import (
	"context"
	"errors"
	"time"

	"nexabank-auth/backend/internal/session/domain"
)

// ErrRotationConflict is returned by Rotate when the session is gone, inactive, expired, or its
// refresh hash no longer matches: another caller rotated first or the session was revoked.
var ErrRotationConflict = errors.New("session rotation conflict")

// ErrDuplicate is returned when a session id or token hash is already stored.
var ErrDuplicate = errors.New("session already exists")

// Rotation replaces both token hashes of one session in a single conditional write.
type Rotation struct {
	SessionID        string
	OldRefreshHash   string
	AccessHash       string
	RefreshHash      string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	At               time.Time
}

// Repository defines persistence for sessions. Getters return nil, nil when nothing matches.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.Session, error)
	GetByAccessHash(ctx context.Context, hash string) (*domain.Session, error)
	GetByRefreshHash(ctx context.Context, hash string) (*domain.Session, error)
	// Create inserts s. When exclusive is set, every other active session of the principal is
	// deactivated in the same transaction; the number deactivated is returned.
	Create(ctx context.Context, s *domain.Session, exclusive bool) (int64, error)
	// Deactivate flips one session to inactive. Reports whether it was active.
	Deactivate(ctx context.Context, id string, at time.Time) (bool, error)
	// DeactivateAllForPrincipal flips every active session of the principal and returns how many.
	DeactivateAllForPrincipal(ctx context.Context, principalID string, at time.Time) (int64, error)
	Rotate(ctx context.Context, r Rotation) (*domain.Session, error)
	Touch(ctx context.Context, id string, at time.Time) error
	// ListActiveByPrincipal returns the principal's sessions that are active and refreshable at now,
	// most recently used first.
	ListActiveByPrincipal(ctx context.Context, principalID string, now time.Time) ([]*domain.Session, error)
	// DeleteReapable removes sessions that are inactive or whose refresh expiry is before now.
	DeleteReapable(ctx context.Context, now time.Time) (int64, error)
}
