package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"nexabank-auth/backend/internal/session/domain"
)

// MemoryRepository keeps sessions in process. One mutex makes every method atomic, which gives
// Create and Rotate the same guarantees the Postgres transaction gives.
type MemoryRepository struct {
	mu        sync.RWMutex
	byID      map[string]*domain.Session
	byAccess  map[string]string
	byRefresh map[string]string
}

// NewMemoryRepository returns an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byID:      make(map[string]*domain.Session),
		byAccess:  make(map[string]string),
		byRefresh: make(map[string]string),
	}
}

func (r *MemoryRepository) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byID[id].Clone(), nil
}

func (r *MemoryRepository) GetByAccessHash(ctx context.Context, hash string) (*domain.Session, error) {
	return r.lookup(ctx, r.byAccess, hash)
}

func (r *MemoryRepository) GetByRefreshHash(ctx context.Context, hash string) (*domain.Session, error) {
	return r.lookup(ctx, r.byRefresh, hash)
}

func (r *MemoryRepository) lookup(ctx context.Context, index map[string]string, hash string) (*domain.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := index[hash]
	if !ok {
		return nil, nil
	}
	return r.byID[id].Clone(), nil
}

func (r *MemoryRepository) Create(ctx context.Context, s *domain.Session, exclusive bool) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.byID[s.ID]; dup {
		return 0, ErrDuplicate
	}
	if _, dup := r.byAccess[s.AccessTokenHash]; dup {
		return 0, ErrDuplicate
	}
	if _, dup := r.byRefresh[s.RefreshTokenHash]; dup {
		return 0, ErrDuplicate
	}
	var n int64
	if exclusive {
		n = r.deactivatePrincipalLocked(s.PrincipalID, s.CreatedAt)
	}
	c := s.Clone()
	r.byID[c.ID] = c
	r.byAccess[c.AccessTokenHash] = c.ID
	r.byRefresh[c.RefreshTokenHash] = c.ID
	return n, nil
}

func (r *MemoryRepository) Deactivate(ctx context.Context, id string, at time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[id]
	if !ok || !s.Active {
		return false, nil
	}
	deactivate(s, at)
	return true, nil
}

func (r *MemoryRepository) DeactivateAllForPrincipal(ctx context.Context, principalID string, at time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.deactivatePrincipalLocked(principalID, at), nil
}

func (r *MemoryRepository) deactivatePrincipalLocked(principalID string, at time.Time) int64 {
	var n int64
	for _, s := range r.byID {
		if s.PrincipalID == principalID && s.Active {
			deactivate(s, at)
			n++
		}
	}
	return n
}

func (r *MemoryRepository) Rotate(ctx context.Context, rot Rotation) (*domain.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[rot.SessionID]
	if !ok || s.RefreshTokenHash != rot.OldRefreshHash || !s.RefreshValid(rot.At) {
		return nil, ErrRotationConflict
	}
	if _, dup := r.byAccess[rot.AccessHash]; dup {
		return nil, ErrDuplicate
	}
	if _, dup := r.byRefresh[rot.RefreshHash]; dup {
		return nil, ErrDuplicate
	}
	delete(r.byAccess, s.AccessTokenHash)
	delete(r.byRefresh, s.RefreshTokenHash)
	s.AccessTokenHash = rot.AccessHash
	s.RefreshTokenHash = rot.RefreshHash
	s.AccessExpiresAt = rot.AccessExpiresAt
	s.RefreshExpiresAt = rot.RefreshExpiresAt
	at := rot.At
	s.RotatedAt = &at
	r.byAccess[s.AccessTokenHash] = s.ID
	r.byRefresh[s.RefreshTokenHash] = s.ID
	return s.Clone(), nil
}

func (r *MemoryRepository) Touch(ctx context.Context, id string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.byID[id]; ok {
		t := at
		s.LastAccessedAt = &t
	}
	return nil
}

func (r *MemoryRepository) ListActiveByPrincipal(ctx context.Context, principalID string, now time.Time) ([]*domain.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domain.Session
	for _, s := range r.byID {
		if s.PrincipalID == principalID && s.RefreshValid(now) {
			out = append(out, s.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := lastUsed(out[i]), lastUsed(out[j])
		if !a.Equal(b) {
			return a.After(b)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func lastUsed(s *domain.Session) time.Time {
	if s.LastAccessedAt != nil {
		return *s.LastAccessedAt
	}
	return s.CreatedAt
}

func (r *MemoryRepository) DeleteReapable(ctx context.Context, now time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, s := range r.byID {
		if s.Reapable(now) {
			delete(r.byAccess, s.AccessTokenHash)
			delete(r.byRefresh, s.RefreshTokenHash)
			delete(r.byID, id)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored sessions, active or not.
func (r *MemoryRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

func deactivate(s *domain.Session, at time.Time) {
	t := at
	s.Active = false
	s.DeactivatedAt = &t
}
