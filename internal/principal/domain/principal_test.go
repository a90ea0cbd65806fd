package domain

import (
	"testing"
	"time"
)

func TestPrincipal_EffectiveStatus(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	past, future := now.Add(-time.Second), now.Add(time.Minute)

	testCases := []struct {
		name        string
		status      Status
		lockedUntil *time.Time
		want        Status
	}{
		{"active", StatusActive, nil, StatusActive},
		{"suspended", StatusSuspended, nil, StatusSuspended},
		{"locked in future", StatusLocked, &future, StatusLocked},
		{"lock expired", StatusLocked, &past, StatusActive},
		{"lock expires exactly now", StatusLocked, &now, StatusActive},
		{"locked without expiry", StatusLocked, nil, StatusLocked},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			p := &Principal{Status: tc.status, LockedUntil: tc.lockedUntil}
			if got := p.EffectiveStatus(now); got != tc.want {
				t.Errorf("EffectiveStatus: want %q, got %q", tc.want, got)
			}
		})
	}
}

func TestPrincipal_Validate(t *testing.T) {
	p := &Principal{ID: "id", Handle: "a@nexabank.test", SecretHash: "h"}
	if err := p.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if p.Status != StatusActive {
		t.Errorf("empty status should default to active, got %q", p.Status)
	}

	bad := []*Principal{
		{Handle: "a@nexabank.test", SecretHash: "h"},
		{ID: "id", Handle: "not-an-email", SecretHash: "h"},
		{ID: "id", Handle: "a@nexabank.test"},
		{ID: "id", Handle: "a@nexabank.test", SecretHash: "h", Status: "frozen"},
	}
	for i, p := range bad {
		if err := p.Validate(); err == nil {
			t.Errorf("case %d: want validation error", i)
		}
	}
}

func TestPrincipal_CloneIsDeep(t *testing.T) {
	until := time.Now()
	p := &Principal{Roles: []string{"customer"}, Profile: map[string]string{"name": "A"}, LockedUntil: &until}
	c := p.Clone()
	c.Roles[0] = "admin"
	c.Profile["name"] = "B"
	*c.LockedUntil = until.Add(time.Hour)
	if p.Roles[0] != "customer" || p.Profile["name"] != "A" || !p.LockedUntil.Equal(until) {
		t.Error("Clone shares state with the original")
	}
}

func TestNormalizeHandle(t *testing.T) {
	if got := NormalizeHandle("  Alice@NexaBank.Test "); got != "alice@nexabank.test" {
		t.Errorf("NormalizeHandle: got %q", got)
	}
}
