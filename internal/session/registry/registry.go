// Package registry owns session lifecycle on top of a session repository: creation with the
// single-active-session policy, lookup by raw token, rotation, revocation, and sweeping.
package registry

import (
	"context"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"nexabank-auth/backend/internal/autherr"
	"nexabank-auth/backend/internal/platform/keylock"
	"nexabank-auth/backend/internal/security"
	"nexabank-auth/backend/internal/session/domain"
	"nexabank-auth/backend/internal/session/repository"
)

// DefaultTimeout bounds each store call when no timeout is configured.
const DefaultTimeout = 3 * time.Second

// CreateParams describes a new session. Raw tokens are hashed before they reach the store.
type CreateParams struct {
	PrincipalID      string
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	// Exclusive deactivates every other active session of the principal in the same write.
	Exclusive bool
	Metadata  domain.Metadata
}

// RotateParams replaces the token pair of a session presenting OldRefreshToken.
type RotateParams struct {
	SessionID        string
	OldRefreshToken  string
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// Registry is safe for concurrent use.
type Registry struct {
	repo    repository.Repository
	locks   *keylock.Locker
	timeout time.Duration
	now     func() time.Time
	log     zerolog.Logger
}

// New returns a Registry over repo. A zero timeout selects DefaultTimeout.
func New(repo repository.Repository, locks *keylock.Locker, timeout time.Duration, log zerolog.Logger) *Registry {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if locks == nil {
		locks = keylock.New()
	}
	return &Registry{
		repo:    repo,
		locks:   locks,
		timeout: timeout,
		now:     time.Now,
		log:     log.With().Str("component", "session_registry").Logger(),
	}
}

// WithClock replaces the registry clock. Intended for tests.
func (r *Registry) WithClock(now func() time.Time) *Registry {
	r.now = now
	return r
}

// Create stores a new active session. With p.Exclusive the principal's other sessions are
// deactivated atomically with the insert.
func (r *Registry) Create(ctx context.Context, p CreateParams) (*domain.Session, error) {
	if p.PrincipalID == "" || p.AccessToken == "" || p.RefreshToken == "" {
		return nil, autherr.Invalid("principal and tokens are required")
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if p.Exclusive {
		unlock, err := r.locks.Lock(ctx, lockKey(p.PrincipalID))
		if err != nil {
			return nil, autherr.Store(err)
		}
		defer unlock()
	}

	now := r.now().UTC()
	s := &domain.Session{
		ID:               ulid.Make().String(),
		PrincipalID:      p.PrincipalID,
		AccessTokenHash:  security.HashToken(p.AccessToken),
		RefreshTokenHash: security.HashToken(p.RefreshToken),
		CreatedAt:        now,
		AccessExpiresAt:  p.AccessExpiresAt.UTC(),
		RefreshExpiresAt: p.RefreshExpiresAt.UTC(),
		Active:           true,
		LastAccessedAt:   &now,
		Metadata:         p.Metadata,
	}
	displaced, err := r.repo.Create(ctx, s, p.Exclusive)
	if err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, autherr.New(autherr.KindInternal, err)
		}
		return nil, autherr.Store(err)
	}
	if displaced > 0 {
		r.log.Info().Str("principal_id", p.PrincipalID).Str("session_id", s.ID).
			Int64("displaced", displaced).Msg("single active session: previous sessions deactivated")
	}
	return s, nil
}

// FindByAccessToken returns the session holding token as its current access token. Activity and
// expiry are not checked here.
func (r *Registry) FindByAccessToken(ctx context.Context, token string) (*domain.Session, error) {
	return r.find(ctx, token, r.repo.GetByAccessHash)
}

// FindByRefreshToken returns the session holding token as its current refresh token.
func (r *Registry) FindByRefreshToken(ctx context.Context, token string) (*domain.Session, error) {
	return r.find(ctx, token, r.repo.GetByRefreshHash)
}

func (r *Registry) find(ctx context.Context, token string, get func(context.Context, string) (*domain.Session, error)) (*domain.Session, error) {
	if token == "" {
		return nil, autherr.ErrSessionNotFound
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	s, err := get(ctx, security.HashToken(token))
	if err != nil {
		return nil, autherr.Store(err)
	}
	if s == nil {
		return nil, autherr.ErrSessionNotFound
	}
	return s, nil
}

// Deactivate marks one session inactive. Deactivating an inactive or unknown session succeeds.
func (r *Registry) Deactivate(ctx context.Context, sessionID string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	_, err := r.repo.Deactivate(ctx, sessionID, r.now().UTC())
	return autherr.Store(err)
}

// DeactivateAllForPrincipal deactivates every active session of the principal and returns how
// many were flipped. Repeating the call returns zero.
func (r *Registry) DeactivateAllForPrincipal(ctx context.Context, principalID string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	unlock, err := r.locks.Lock(ctx, lockKey(principalID))
	if err != nil {
		return 0, autherr.Store(err)
	}
	defer unlock()
	n, err := r.repo.DeactivateAllForPrincipal(ctx, principalID, r.now().UTC())
	if err != nil {
		return 0, autherr.Store(err)
	}
	return n, nil
}

// ListActive returns the principal's live sessions, most recently used first.
func (r *Registry) ListActive(ctx context.Context, principalID string) ([]*domain.Session, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	list, err := r.repo.ListActiveByPrincipal(ctx, principalID, r.now().UTC())
	if err != nil {
		return nil, autherr.Store(err)
	}
	return list, nil
}

// Revoke deactivates one session of the principal and returns it as it was before the call,
// along with whether it was active. Sessions of other principals are reported as not found.
func (r *Registry) Revoke(ctx context.Context, principalID, sessionID string) (*domain.Session, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	unlock, err := r.locks.Lock(ctx, lockKey(principalID))
	if err != nil {
		return nil, false, autherr.Store(err)
	}
	defer unlock()
	s, err := r.repo.GetByID(ctx, sessionID)
	if err != nil {
		return nil, false, autherr.Store(err)
	}
	if s == nil || s.PrincipalID != principalID {
		return nil, false, autherr.ErrSessionNotFound
	}
	wasActive, err := r.repo.Deactivate(ctx, sessionID, r.now().UTC())
	if err != nil {
		return nil, false, autherr.Store(err)
	}
	return s, wasActive, nil
}

// Rotate swaps the session's token pair if OldRefreshToken is still current. A caller that lost
// a rotation race, or whose session was revoked meanwhile, gets ErrSessionInactive.
func (r *Registry) Rotate(ctx context.Context, p RotateParams) (*domain.Session, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	s, err := r.repo.Rotate(ctx, repository.Rotation{
		SessionID:        p.SessionID,
		OldRefreshHash:   security.HashToken(p.OldRefreshToken),
		AccessHash:       security.HashToken(p.AccessToken),
		RefreshHash:      security.HashToken(p.RefreshToken),
		AccessExpiresAt:  p.AccessExpiresAt.UTC(),
		RefreshExpiresAt: p.RefreshExpiresAt.UTC(),
		At:               r.now().UTC(),
	})
	switch {
	case errors.Is(err, repository.ErrRotationConflict):
		return nil, autherr.New(autherr.KindSessionInactive, err)
	case errors.Is(err, repository.ErrDuplicate):
		return nil, autherr.New(autherr.KindInternal, err)
	case err != nil:
		return nil, autherr.Store(err)
	}
	return s, nil
}

// Touch stamps LastAccessedAt.
func (r *Registry) Touch(ctx context.Context, sessionID string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return autherr.Store(r.repo.Touch(ctx, sessionID, r.now().UTC()))
}

// SweepExpired deletes inactive sessions and sessions whose refresh expiry is before now.
// It does not take the store timeout; the caller's ctx carries the sweep deadline.
func (r *Registry) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	n, err := r.repo.DeleteReapable(ctx, now.UTC())
	if err != nil {
		return 0, autherr.Store(err)
	}
	return n, nil
}

func lockKey(principalID string) string { return "sessions:" + principalID }
