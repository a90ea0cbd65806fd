package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"nexabank-auth/backend/internal/audit/domain"
	auditrepo "nexabank-auth/backend/internal/audit/repository"
	"nexabank-auth/backend/internal/telemetry"
)

type failingRepo struct{}

func (failingRepo) Create(context.Context, *domain.AuditLog) error {
	return errors.New("connection refused")
}

func (failingRepo) ListByPrincipal(context.Context, string, int) ([]*domain.AuditLog, error) {
	return nil, nil
}

func TestLogger_Emit(t *testing.T) {
	repo := auditrepo.NewMemoryRepository()
	at := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

	err := NewLogger(repo).Emit(context.Background(), telemetry.Event{
		Type:        telemetry.EventLoginSucceeded,
		PrincipalID: "p-1",
		SessionID:   "s-1",
		Attributes:  map[string]string{"ip_address": "198.51.100.7", "remember_me": "true"},
		At:          at,
	})
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}

	entries, _ := repo.ListByPrincipal(context.Background(), "p-1", 0)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	entry := entries[0]
	if entry.ID == "" {
		t.Error("entry ID should be set")
	}
	if entry.Action != "login_success" || entry.Resource != "principal" {
		t.Errorf("action/resource = %q/%q", entry.Action, entry.Resource)
	}
	if entry.SessionID != "s-1" {
		t.Errorf("session_id = %q, want s-1", entry.SessionID)
	}
	if entry.IP != "198.51.100.7" {
		t.Errorf("ip = %q, want 198.51.100.7", entry.IP)
	}
	if _, ok := entry.Metadata["ip_address"]; ok {
		t.Error("ip_address should not be duplicated in metadata")
	}
	if entry.Metadata["remember_me"] != "true" {
		t.Errorf("metadata = %v", entry.Metadata)
	}
	if !entry.CreatedAt.Equal(at) {
		t.Errorf("created_at = %v, want %v", entry.CreatedAt, at)
	}
}

func TestLogger_Emit_DefaultsIPAndTime(t *testing.T) {
	repo := auditrepo.NewMemoryRepository()
	l := NewLogger(repo)
	fixed := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return fixed }

	if err := l.Emit(context.Background(), telemetry.Event{Type: telemetry.EventLoginFailed, PrincipalID: "p-2", Reason: "invalid_credentials"}); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	entries, _ := repo.ListByPrincipal(context.Background(), "p-2", 0)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].IP != "unknown" {
		t.Errorf("ip = %q, want unknown", entries[0].IP)
	}
	if entries[0].Reason != "invalid_credentials" {
		t.Errorf("reason = %q", entries[0].Reason)
	}
	if !entries[0].CreatedAt.Equal(fixed) {
		t.Errorf("created_at = %v, want %v", entries[0].CreatedAt, fixed)
	}
	if entries[0].Metadata != nil {
		t.Errorf("metadata = %v, want nil", entries[0].Metadata)
	}
}

func TestLogger_Emit_RepoError(t *testing.T) {
	err := NewLogger(failingRepo{}).Emit(context.Background(), telemetry.Event{Type: telemetry.EventLogout})
	if err == nil {
		t.Fatal("Emit should return the repository error")
	}
}

func TestLogger_Emit_NilRepo(t *testing.T) {
	if err := NewLogger(nil).Emit(context.Background(), telemetry.Event{Type: telemetry.EventLogout}); err == nil {
		t.Fatal("Emit without a repository should fail")
	}
}
