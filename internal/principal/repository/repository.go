package repository

import (
	"context"
	"errors"

	"nexabank-auth/backend/internal/principal/domain"
)

var (
	// ErrVersionConflict is returned by Save when the stored version differs from the one read.
	ErrVersionConflict = errors.New("principal version conflict")
	// ErrHandleTaken is returned by Create when another principal owns the handle.
	ErrHandleTaken = errors.New("principal handle already registered")
)

// Repository is the credential store. Getters return nil, nil when no principal matches;
// errors are reserved for store failures.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.Principal, error)
	GetByHandle(ctx context.Context, handle string) (*domain.Principal, error)
	Create(ctx context.Context, p *domain.Principal) error
	// Save writes p if the stored version equals p.Version, then increments p.Version.
	// A missing row is reported as ErrVersionConflict.
	Save(ctx context.Context, p *domain.Principal) error
}
