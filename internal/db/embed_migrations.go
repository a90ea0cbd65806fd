package db

import "embed"

// MigrationFS embeds the principals, sessions and audit_logs schema from internal/db/migrations.
// Applied by cmd/migrate and, when MIGRATE_ON_START is set, by cmd/server at boot.
//
//go:embed migrations/*.sql
var MigrationFS embed.FS
