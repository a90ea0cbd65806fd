package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"nexabank-auth/backend/internal/principal/domain"
)

const pgUniqueViolation = "23505"

const principalColumns = `id, handle, secret_hash, status, failed_attempts, locked_until, last_login_at,
	roles, profile, version, created_at, updated_at`

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a credential store that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetByID returns the principal for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Principal, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+principalColumns+` FROM principals WHERE id = $1`, id)
	return scanPrincipal(row)
}

// GetByHandle returns the principal with the given handle, or nil if not found.
func (r *PostgresRepository) GetByHandle(ctx context.Context, handle string) (*domain.Principal, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+principalColumns+` FROM principals WHERE handle = $1`,
		domain.NormalizeHandle(handle))
	return scanPrincipal(row)
}

// Create inserts p with version 1. The principal must have ID set; it is not assigned by this method.
func (r *PostgresRepository) Create(ctx context.Context, p *domain.Principal) error {
	if err := p.Validate(); err != nil {
		return err
	}
	roles, profile, err := encodeExtras(p)
	if err != nil {
		return err
	}
	p.Handle = domain.NormalizeHandle(p.Handle)
	_, err = r.db.ExecContext(ctx, `INSERT INTO principals (`+principalColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 1, $10, $11)`,
		p.ID, p.Handle, p.SecretHash, string(p.Status), p.FailedAttempts,
		timeToNullTime(p.LockedUntil), timeToNullTime(p.LastLoginAt),
		roles, profile, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ErrHandleTaken
		}
		return err
	}
	p.Version = 1
	return nil
}

// Save performs a compare-and-swap on version. Zero rows affected means another writer won.
func (r *PostgresRepository) Save(ctx context.Context, p *domain.Principal) error {
	roles, profile, err := encodeExtras(p)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `UPDATE principals
		SET secret_hash = $3, status = $4, failed_attempts = $5, locked_until = $6, last_login_at = $7,
			roles = $8, profile = $9, updated_at = $10, version = version + 1
		WHERE id = $1 AND version = $2`,
		p.ID, p.Version, p.SecretHash, string(p.Status), p.FailedAttempts,
		timeToNullTime(p.LockedUntil), timeToNullTime(p.LastLoginAt),
		roles, profile, p.UpdatedAt)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrVersionConflict
	}
	p.Version++
	return nil
}

func encodeExtras(p *domain.Principal) ([]byte, []byte, error) {
	roles := p.Roles
	if roles == nil {
		roles = []string{}
	}
	rb, err := json.Marshal(roles)
	if err != nil {
		return nil, nil, err
	}
	profile := p.Profile
	if profile == nil {
		profile = map[string]string{}
	}
	pb, err := json.Marshal(profile)
	if err != nil {
		return nil, nil, err
	}
	return rb, pb, nil
}

func scanPrincipal(row *sql.Row) (*domain.Principal, error) {
	var (
		p                   domain.Principal
		status              string
		lockedUntil, lastAt sql.NullTime
		roles, profile      []byte
	)
	err := row.Scan(&p.ID, &p.Handle, &p.SecretHash, &status, &p.FailedAttempts, &lockedUntil, &lastAt,
		&roles, &profile, &p.Version, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	p.Status = domain.Status(status)
	p.LockedUntil = nullTimeToPtr(lockedUntil)
	p.LastLoginAt = nullTimeToPtr(lastAt)
	if len(roles) > 0 {
		if err := json.Unmarshal(roles, &p.Roles); err != nil {
			return nil, err
		}
	}
	if len(profile) > 0 {
		if err := json.Unmarshal(profile, &p.Profile); err != nil {
			return nil, err
		}
	}
	return &p, nil
}

func timeToNullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullTimeToPtr(n sql.NullTime) *time.Time {
	if !n.Valid {
		return nil
	}
	t := n.Time.UTC()
	return &t
}
