package repository

import (
	"context"
	"sort"
	"sync"

	"nexabank-auth/backend/internal/audit/domain"
)

// MemoryRepository keeps audit logs in process memory. Used by tests and single-node development.
type MemoryRepository struct {
	mu      sync.Mutex
	entries []*domain.AuditLog
}

// NewMemoryRepository returns an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

func (r *MemoryRepository) Create(_ context.Context, a *domain.AuditLog) error {
	cp := *a
	if a.Metadata != nil {
		cp.Metadata = make(map[string]string, len(a.Metadata))
		for k, v := range a.Metadata {
			cp.Metadata[k] = v
		}
	}
	r.mu.Lock()
	r.entries = append(r.entries, &cp)
	r.mu.Unlock()
	return nil
}

func (r *MemoryRepository) ListByPrincipal(_ context.Context, principalID string, limit int) ([]*domain.AuditLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.AuditLog
	for _, e := range r.entries {
		if e.PrincipalID == principalID {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
