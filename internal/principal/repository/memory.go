package repository

import (
	"context"
	"sync"

	"nexabank-auth/backend/internal/principal/domain"
)

// MemoryRepository is an in-process credential store used by tests and local runs.
type MemoryRepository struct {
	mu       sync.RWMutex
	byID     map[string]*domain.Principal
	byHandle map[string]string
}

// NewMemoryRepository returns an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byID:     make(map[string]*domain.Principal),
		byHandle: make(map[string]string),
	}
}

func (r *MemoryRepository) GetByID(ctx context.Context, id string) (*domain.Principal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byID[id].Clone(), nil
}

func (r *MemoryRepository) GetByHandle(ctx context.Context, handle string) (*domain.Principal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byHandle[domain.NormalizeHandle(handle)]
	if !ok {
		return nil, nil
	}
	return r.byID[id].Clone(), nil
}

func (r *MemoryRepository) Create(ctx context.Context, p *domain.Principal) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.Validate(); err != nil {
		return err
	}
	handle := domain.NormalizeHandle(p.Handle)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.byHandle[handle]; taken {
		return ErrHandleTaken
	}
	p.Handle = handle
	p.Version = 1
	r.byID[p.ID] = p.Clone()
	r.byHandle[handle] = p.ID
	return nil
}

func (r *MemoryRepository) Save(ctx context.Context, p *domain.Principal) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.byID[p.ID]
	if !ok || cur.Version != p.Version {
		return ErrVersionConflict
	}
	next := p.Clone()
	next.Handle = cur.Handle
	next.CreatedAt = cur.CreatedAt
	next.Version = cur.Version + 1
	r.byID[p.ID] = next
	p.Version = next.Version
	return nil
}
