// seed inserts development principals for local testing.
// Idempotent: principals whose handle already exists are skipped.
package main

import (
	"context"
	"log"
	"time"

	"nexabank-auth/backend/internal/config"
	"nexabank-auth/backend/internal/db"
	"nexabank-auth/backend/internal/principal/domain"
	principalrepo "nexabank-auth/backend/internal/principal/repository"
	"nexabank-auth/backend/internal/security"
)

const devSecret = "Dev-Passw0rd!"

var devPrincipals = []struct {
	id      string
	handle  string
	status  domain.Status
	roles   []string
	profile map[string]string
}{
	{
		id:      "0b6f1d8e-3c2a-4f7e-9a51-6d2c8e4b1a01",
		handle:  "dev@nexabank.test",
		status:  domain.StatusActive,
		roles:   []string{"customer"},
		profile: map[string]string{"first_name": "Dev", "last_name": "Customer"},
	},
	{
		id:      "0b6f1d8e-3c2a-4f7e-9a51-6d2c8e4b1a02",
		handle:  "teller@nexabank.test",
		status:  domain.StatusActive,
		roles:   []string{"customer", "teller"},
		profile: map[string]string{"first_name": "Tess", "last_name": "Teller"},
	},
	{
		id:      "0b6f1d8e-3c2a-4f7e-9a51-6d2c8e4b1a03",
		handle:  "suspended@nexabank.test",
		status:  domain.StatusSuspended,
		roles:   []string{"customer"},
		profile: map[string]string{"first_name": "Sam"},
	},
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	conn, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer conn.Close()

	repo := principalrepo.NewPostgresRepository(conn)
	hasher := security.NewHasher(cfg.BcryptCost)
	hash, err := hasher.Hash([]byte(devSecret))
	if err != nil {
		log.Fatalf("hash secret: %v", err)
	}

	now := time.Now().UTC()
	for _, dp := range devPrincipals {
		existing, err := repo.GetByHandle(ctx, dp.handle)
		if err != nil {
			log.Fatalf("seed check %s: %v", dp.handle, err)
		}
		if existing != nil {
			log.Printf("%s exists. Skipping.", dp.handle)
			continue
		}
		p := &domain.Principal{
			ID:         dp.id,
			Handle:     dp.handle,
			SecretHash: hash,
			Status:     dp.status,
			Roles:      dp.roles,
			Profile:    dp.profile,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := repo.Create(ctx, p); err != nil {
			log.Fatalf("create %s: %v", dp.handle, err)
		}
		log.Printf("created %s (%s)", dp.handle, dp.status)
	}
	log.Printf("Seed complete. Sign in with any active handle and secret %q.", devSecret)
}
