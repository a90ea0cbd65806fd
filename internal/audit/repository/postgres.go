package repository

import (
	"context"
	"database/sql"
	"encoding/json"

	"nexabank-auth/backend/internal/audit/domain"
)

// DefaultListLimit caps ListByPrincipal when limit is not positive.
const DefaultListLimit = 100

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns an audit log repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts the audit log. The audit log must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, a *domain.AuditLog) error {
	meta, err := json.Marshal(a.Metadata)
	if err != nil {
		return err
	}
	if a.Metadata == nil {
		meta = []byte("{}")
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, principal_id, session_id, action, resource, reason, ip, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		a.ID, nullString(a.PrincipalID), nullString(a.SessionID), a.Action, a.Resource,
		nullString(a.Reason), nullString(a.IP), meta, a.CreatedAt)
	return err
}

// ListByPrincipal returns audit logs for the principal, newest first.
// Returns (nil, error) only on database errors.
func (r *PostgresRepository) ListByPrincipal(ctx context.Context, principalID string, limit int) ([]*domain.AuditLog, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, principal_id, session_id, action, resource, reason, ip, metadata, created_at
		FROM audit_logs
		WHERE principal_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, principalID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.AuditLog
	for rows.Next() {
		var (
			a                              domain.AuditLog
			principal, session, reason, ip sql.NullString
			meta                           []byte
		)
		if err := rows.Scan(&a.ID, &principal, &session, &a.Action, &a.Resource, &reason, &ip, &meta, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.PrincipalID, a.SessionID, a.Reason, a.IP = principal.String, session.String, reason.String, ip.String
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &a.Metadata); err != nil {
				return nil, err
			}
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
