// Package lockout counts failed logins per principal and locks the account once a threshold is hit.
package lockout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"nexabank-auth/backend/internal/platform/keylock"
	"nexabank-auth/backend/internal/principal/domain"
	"nexabank-auth/backend/internal/principal/repository"
)

const (
	DefaultThreshold = 5
	DefaultDuration  = 10 * time.Minute

	// maxSaveAttempts bounds re-read/retry on optimistic version conflicts.
	maxSaveAttempts = 5
)

// ErrPrincipalNotFound is returned when the principal vanished between lookup and update.
var ErrPrincipalNotFound = errors.New("lockout: principal not found")

// Store is the subset of the credential store the policy needs.
type Store interface {
	GetByID(ctx context.Context, id string) (*domain.Principal, error)
	Save(ctx context.Context, p *domain.Principal) error
}

// Config holds policy parameters. Zero values select the defaults.
type Config struct {
	Threshold int
	Duration  time.Duration
	// Timeout bounds each read-modify-write, including waiting for the per-principal lock.
	Timeout time.Duration
}

// Decision is the outcome of a lockout check.
type Decision struct {
	Allowed   bool
	Remaining time.Duration // time until the lock lifts; meaningful when !Allowed
	Tripped   bool          // set by RecordFailure when this failure engaged the lock
}

// RemainingSeconds rounds Remaining up to whole seconds, never below zero.
func (d Decision) RemainingSeconds() int64 {
	if d.Remaining <= 0 {
		return 0
	}
	return int64((d.Remaining + time.Second - 1) / time.Second)
}

// Policy applies the lockout rules. Updates to one principal are serialized through a keyed
// mutex and committed with a version check in the store.
type Policy struct {
	store     Store
	locks     *keylock.Locker
	threshold int
	duration  time.Duration
	timeout   time.Duration
	now       func() time.Time
	log       zerolog.Logger
}

// New returns a Policy. locks may be shared with other components that mutate principals.
func New(store Store, locks *keylock.Locker, cfg Config, log zerolog.Logger) *Policy {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.Duration <= 0 {
		cfg.Duration = DefaultDuration
	}
	if locks == nil {
		locks = keylock.New()
	}
	return &Policy{
		store:     store,
		locks:     locks,
		threshold: cfg.Threshold,
		duration:  cfg.Duration,
		timeout:   cfg.Timeout,
		now:       time.Now,
		log:       log.With().Str("component", "lockout").Logger(),
	}
}

// WithClock replaces the policy clock. Intended for tests.
func (p *Policy) WithClock(now func() time.Time) *Policy {
	p.now = now
	return p
}

// Threshold returns the configured failure threshold.
func (p *Policy) Threshold() int { return p.threshold }

// Check reports whether pr may attempt to authenticate at now. An expired lock reads as unlocked.
func (p *Policy) Check(pr *domain.Principal, now time.Time) Decision {
	if pr.EffectiveStatus(now) != domain.StatusLocked {
		return Decision{Allowed: true}
	}
	if pr.LockedUntil == nil {
		return Decision{Allowed: false}
	}
	return Decision{Allowed: false, Remaining: pr.LockedUntil.Sub(now)}
}

// RecordFailure counts one failed attempt. When the count reaches the threshold the account is
// locked for the configured duration, starting now. The returned decision reflects the state
// after this failure.
func (p *Policy) RecordFailure(ctx context.Context, principalID string) (Decision, error) {
	var d Decision
	err := p.update(ctx, principalID, func(pr *domain.Principal, now time.Time) bool {
		if pr.LockExpired(now) {
			clearLock(pr)
			pr.FailedAttempts = 0
		}
		if pr.EffectiveStatus(now) == domain.StatusLocked {
			d = p.Check(pr, now)
			return false
		}
		pr.FailedAttempts++
		d = Decision{Allowed: true}
		if pr.FailedAttempts >= p.threshold && pr.Status == domain.StatusActive {
			until := now.Add(p.duration)
			pr.Status = domain.StatusLocked
			pr.LockedUntil = &until
			d = Decision{Allowed: false, Remaining: p.duration, Tripped: true}
		}
		return true
	})
	if err != nil {
		return Decision{}, err
	}
	if d.Tripped {
		p.log.Warn().Str("principal_id", principalID).Dur("duration", p.duration).Msg("account locked after repeated failures")
	}
	return d, nil
}

// RecordSuccess resets the failure counter, clears an expired lock and stamps LastLoginAt.
// Returns the principal as stored.
func (p *Policy) RecordSuccess(ctx context.Context, principalID string) (*domain.Principal, error) {
	var out *domain.Principal
	err := p.update(ctx, principalID, func(pr *domain.Principal, now time.Time) bool {
		if pr.LockExpired(now) {
			clearLock(pr)
		}
		pr.FailedAttempts = 0
		at := now
		pr.LastLoginAt = &at
		out = pr
		return true
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// update runs mutate on a fresh copy of the principal under the per-principal lock and saves it.
// mutate returns false to skip the write.
func (p *Policy) update(ctx context.Context, principalID string, mutate func(*domain.Principal, time.Time) bool) error {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	unlock, err := p.locks.Lock(ctx, principalID)
	if err != nil {
		return err
	}
	defer unlock()

	for attempt := 1; ; attempt++ {
		pr, err := p.store.GetByID(ctx, principalID)
		if err != nil {
			return err
		}
		if pr == nil {
			return ErrPrincipalNotFound
		}
		now := p.now().UTC()
		if !mutate(pr, now) {
			return nil
		}
		pr.UpdatedAt = now
		err = p.store.Save(ctx, pr)
		if err == nil {
			return nil
		}
		if !errors.Is(err, repository.ErrVersionConflict) || attempt >= maxSaveAttempts {
			return fmt.Errorf("lockout: save principal: %w", err)
		}
		p.log.Debug().Str("principal_id", principalID).Int("attempt", attempt).Msg("version conflict, retrying")
	}
}

func clearLock(pr *domain.Principal) {
	pr.Status = domain.StatusActive
	pr.LockedUntil = nil
}
