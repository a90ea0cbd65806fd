package denylist

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// Memory is a process-local denylist. Entries expire on their own; Start runs the janitor.
type Memory struct {
	cache *ttlcache.Cache[string, struct{}]
}

// NewMemory returns an empty Memory denylist. Call Start to begin evicting expired entries and
// Stop on shutdown.
func NewMemory() *Memory {
	return &Memory{
		cache: ttlcache.New(ttlcache.WithDisableTouchOnHit[string, struct{}]()),
	}
}

// Start runs expired-entry eviction until Stop is called. It blocks.
func (m *Memory) Start() { m.cache.Start() }

// Stop ends the eviction loop started by Start.
func (m *Memory) Stop() { m.cache.Stop() }

func (m *Memory) Add(_ context.Context, tokenHash string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	m.cache.Set(tokenHash, struct{}{}, ttl)
	return nil
}

func (m *Memory) Contains(_ context.Context, tokenHash string) (bool, error) {
	return m.cache.Get(tokenHash) != nil, nil
}

// Len returns the number of entries, including any not yet evicted.
func (m *Memory) Len() int { return m.cache.Len() }
