package domain

import (
	"errors"
	"strings"
	"time"
)

// Status is the stored account status of a principal.
type Status string

const (
	StatusActive    Status = "active"
	StatusInactive  Status = "inactive"
	StatusLocked    Status = "locked"
	StatusSuspended Status = "suspended"
	StatusPending   Status = "pending"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusInactive, StatusLocked, StatusSuspended, StatusPending:
		return true
	}
	return false
}

// Principal is an authenticating identity (a bank customer). SecretHash never leaves the service.
type Principal struct {
	ID             string
	Handle         string // lower-cased email
	SecretHash     string
	Status         Status
	FailedAttempts int
	LockedUntil    *time.Time // set only while Status is locked
	LastLoginAt    *time.Time
	Roles          []string
	Profile        map[string]string
	Version        int64 // optimistic concurrency; bumped by every Save
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// NormalizeHandle lower-cases and trims an email handle.
func NormalizeHandle(h string) string {
	return strings.ToLower(strings.TrimSpace(h))
}

// EffectiveStatus returns the status as of now. A lock whose LockedUntil has passed reads as active;
// a locked row without LockedUntil stays locked.
func (p *Principal) EffectiveStatus(now time.Time) Status {
	if p.Status != StatusLocked {
		return p.Status
	}
	if p.LockedUntil != nil && !now.Before(*p.LockedUntil) {
		return StatusActive
	}
	return StatusLocked
}

// LockExpired reports whether p carries a lock that has run out as of now.
func (p *Principal) LockExpired(now time.Time) bool {
	return p.Status == StatusLocked && p.LockedUntil != nil && !now.Before(*p.LockedUntil)
}

// Clone returns a deep copy so callers can mutate without racing other readers.
func (p *Principal) Clone() *Principal {
	if p == nil {
		return nil
	}
	c := *p
	if p.LockedUntil != nil {
		t := *p.LockedUntil
		c.LockedUntil = &t
	}
	if p.LastLoginAt != nil {
		t := *p.LastLoginAt
		c.LastLoginAt = &t
	}
	if p.Roles != nil {
		c.Roles = append([]string(nil), p.Roles...)
	}
	if p.Profile != nil {
		c.Profile = make(map[string]string, len(p.Profile))
		for k, v := range p.Profile {
			c.Profile[k] = v
		}
	}
	return &c
}

// Validate validates the principal for persistence. Returns an error describing the first validation failure.
func (p *Principal) Validate() error {
	if p.ID == "" {
		return errors.New("id is required")
	}
	if p.Handle == "" || !strings.Contains(p.Handle, "@") {
		return errors.New("handle must be an email address")
	}
	if p.SecretHash == "" {
		return errors.New("secret hash is required")
	}
	if p.Status == "" {
		p.Status = StatusActive
	}
	if !p.Status.Valid() {
		return errors.New("unknown status " + string(p.Status))
	}
	return nil
}

// PublicInfo is the subset of a principal returned to callers.
type PublicInfo struct {
	ID          string
	Handle      string
	Status      Status
	Roles       []string
	LastLoginAt *time.Time
}

// Public returns the caller-visible view of p as of now.
func (p *Principal) Public(now time.Time) PublicInfo {
	return PublicInfo{
		ID:          p.ID,
		Handle:      p.Handle,
		Status:      p.EffectiveStatus(now),
		Roles:       append([]string(nil), p.Roles...),
		LastLoginAt: p.LastLoginAt,
	}
}
