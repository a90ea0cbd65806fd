package repository

import (
	"context"
	"os"
	"testing"

	"nexabank-auth/backend/internal/db"
	"nexabank-auth/backend/internal/db/migrate"
)

func TestPostgresRepository_Contract(t *testing.T) {
	// Requires a disposable database; skipped unless TEST_DATABASE_URL is set.
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping integration test")
	}
	if err := migrate.Run(dsn, migrate.Up); err != nil {
		t.Fatalf("migrate up: %v", err)
	}
	conn, err := db.Open(context.Background(), dsn)
	if err != nil {
		t.Fatalf("db.Open: %v", err)
	}
	defer conn.Close()

	runContract(t, NewPostgresRepository(conn))
}
