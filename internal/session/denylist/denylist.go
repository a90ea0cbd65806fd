// Package denylist records revoked access tokens until they would have expired anyway. It only
// short-circuits rejections; the session registry stays authoritative.
package denylist

import (
	"context"
	"time"
)

// Denylist is keyed by token hash (see security.HashToken), never by raw token.
type Denylist interface {
	// Add denies tokenHash for ttl. Non-positive ttl is a no-op.
	Add(ctx context.Context, tokenHash string, ttl time.Duration) error
	Contains(ctx context.Context, tokenHash string) (bool, error)
}

// Noop never denies anything.
type Noop struct{}

func (Noop) Add(context.Context, string, time.Duration) error { return nil }
func (Noop) Contains(context.Context, string) (bool, error)   { return false, nil }
