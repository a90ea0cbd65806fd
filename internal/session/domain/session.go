package domain

import "time"

// Metadata describes the client that opened a session.
type Metadata struct {
	IPAddress  string
	UserAgent  string
	DeviceInfo string
}

// Session is one login of a principal. Tokens are referenced only by their SHA-256 hex digests.
type Session struct {
	ID               string // ULID
	PrincipalID      string
	AccessTokenHash  string
	RefreshTokenHash string
	CreatedAt        time.Time
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	Active           bool
	LastAccessedAt   *time.Time
	RotatedAt        *time.Time
	DeactivatedAt    *time.Time // nil while active
	Metadata         Metadata
}

// AccessValid reports whether the session still honours its access token at now.
func (s *Session) AccessValid(now time.Time) bool {
	return s.Active && now.Before(s.AccessExpiresAt)
}

// RefreshValid reports whether the session still honours its refresh token at now.
func (s *Session) RefreshValid(now time.Time) bool {
	return s.Active && now.Before(s.RefreshExpiresAt)
}

// Reapable reports whether the reaper may delete the session at now.
func (s *Session) Reapable(now time.Time) bool {
	return !s.Active || s.RefreshExpiresAt.Before(now)
}

// Clone returns a copy that shares no pointers with s.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.LastAccessedAt = copyTime(s.LastAccessedAt)
	c.RotatedAt = copyTime(s.RotatedAt)
	c.DeactivatedAt = copyTime(s.DeactivatedAt)
	return &c
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
