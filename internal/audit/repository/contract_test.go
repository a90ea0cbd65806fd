package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"nexabank-auth/backend/internal/audit/domain"
)

func runContract(t *testing.T, repo Repository) {
	ctx := context.Background()
	principalID := uuid.NewString()
	other := uuid.NewString()
	base := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

	for i, action := range []string{"login_failure", "login_success", "logout"} {
		err := repo.Create(ctx, &domain.AuditLog{
			ID:          uuid.NewString(),
			PrincipalID: principalID,
			Action:      action,
			Resource:    "principal",
			IP:          "198.51.100.7",
			Metadata:    map[string]string{"seq": string(rune('a' + i))},
			CreatedAt:   base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("Create %s: %v", action, err)
		}
	}
	if err := repo.Create(ctx, &domain.AuditLog{ID: uuid.NewString(), PrincipalID: other, Action: "logout", Resource: "session", CreatedAt: base}); err != nil {
		t.Fatalf("Create other: %v", err)
	}
	if err := repo.Create(ctx, &domain.AuditLog{ID: uuid.NewString(), Action: "login_failure", Resource: "principal", CreatedAt: base}); err != nil {
		t.Fatalf("Create without principal: %v", err)
	}

	got, err := repo.ListByPrincipal(ctx, principalID, 2)
	if err != nil {
		t.Fatalf("ListByPrincipal: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Action != "logout" || got[1].Action != "login_success" {
		t.Errorf("order = %s, %s; want newest first", got[0].Action, got[1].Action)
	}
	if got[0].Metadata["seq"] != "c" {
		t.Errorf("metadata = %v", got[0].Metadata)
	}

	all, err := repo.ListByPrincipal(ctx, principalID, 0)
	if err != nil {
		t.Fatalf("ListByPrincipal: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("len = %d, want 3", len(all))
	}
}

func TestMemoryRepository_Contract(t *testing.T) {
	runContract(t, NewMemoryRepository())
}

func TestMemoryRepository_CopiesEntries(t *testing.T) {
	repo := NewMemoryRepository()
	entry := &domain.AuditLog{ID: "a-1", PrincipalID: "p-1", Metadata: map[string]string{"k": "v"}}
	if err := repo.Create(context.Background(), entry); err != nil {
		t.Fatalf("Create: %v", err)
	}
	entry.Metadata["k"] = "mutated"

	got, _ := repo.ListByPrincipal(context.Background(), "p-1", 0)
	if got[0].Metadata["k"] != "v" {
		t.Errorf("stored entry changed through caller's map: %v", got[0].Metadata)
	}
}
