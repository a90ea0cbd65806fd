package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"nexabank-auth/backend/internal/session/domain"
)

const pgUniqueViolation = "23505"

const sessionColumns = `id, principal_id, access_token_hash, refresh_token_hash, created_at, access_expires_at,
	refresh_expires_at, active, last_accessed_at, rotated_at, deactivated_at, ip_address, user_agent, device_info`

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a session repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetByID returns the session for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	return r.getOne(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id)
}

// GetByAccessHash returns the session whose current access token hashes to hash, or nil.
func (r *PostgresRepository) GetByAccessHash(ctx context.Context, hash string) (*domain.Session, error) {
	return r.getOne(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE access_token_hash = $1`, hash)
}

// GetByRefreshHash returns the session whose current refresh token hashes to hash, or nil.
func (r *PostgresRepository) GetByRefreshHash(ctx context.Context, hash string) (*domain.Session, error) {
	return r.getOne(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE refresh_token_hash = $1`, hash)
}

func (r *PostgresRepository) getOne(ctx context.Context, query, arg string) (*domain.Session, error) {
	s, err := scanSession(r.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return s, nil
}

// Create inserts the session. With exclusive set it first takes a transaction-scoped advisory lock
// on the principal and deactivates its other active sessions, so two concurrent exclusive logins
// on different replicas cannot both stay active.
func (r *PostgresRepository) Create(ctx context.Context, s *domain.Session, exclusive bool) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	var n int64
	if exclusive {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, s.PrincipalID); err != nil {
			return 0, fmt.Errorf("lock principal sessions: %w", err)
		}
		res, err := tx.ExecContext(ctx, `UPDATE sessions SET active = FALSE, deactivated_at = $2
			WHERE principal_id = $1 AND active`, s.PrincipalID, s.CreatedAt)
		if err != nil {
			return 0, err
		}
		if n, err = res.RowsAffected(); err != nil {
			return 0, err
		}
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO sessions (`+sessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		s.ID, s.PrincipalID, s.AccessTokenHash, s.RefreshTokenHash, s.CreatedAt, s.AccessExpiresAt,
		s.RefreshExpiresAt, s.Active, timeToNullTime(s.LastAccessedAt), timeToNullTime(s.RotatedAt),
		timeToNullTime(s.DeactivatedAt), nullString(s.Metadata.IPAddress), nullString(s.Metadata.UserAgent),
		nullString(s.Metadata.DeviceInfo))
	if err != nil {
		if isUniqueViolation(err) {
			return 0, ErrDuplicate
		}
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return n, nil
}

// Deactivate marks the session inactive. Reports false when it was already inactive or missing.
func (r *PostgresRepository) Deactivate(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE sessions SET active = FALSE, deactivated_at = $2
		WHERE id = $1 AND active`, id, at)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// DeactivateAllForPrincipal marks every active session of the principal inactive.
func (r *PostgresRepository) DeactivateAllForPrincipal(ctx context.Context, principalID string, at time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE sessions SET active = FALSE, deactivated_at = $2
		WHERE principal_id = $1 AND active`, principalID, at)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Rotate swaps both token hashes in one conditional UPDATE keyed on the presented refresh hash.
func (r *PostgresRepository) Rotate(ctx context.Context, rot Rotation) (*domain.Session, error) {
	row := r.db.QueryRowContext(ctx, `UPDATE sessions
		SET access_token_hash = $3, refresh_token_hash = $4, access_expires_at = $5,
			refresh_expires_at = $6, rotated_at = $7
		WHERE id = $1 AND refresh_token_hash = $2 AND active AND refresh_expires_at > $7
		RETURNING `+sessionColumns,
		rot.SessionID, rot.OldRefreshHash, rot.AccessHash, rot.RefreshHash,
		rot.AccessExpiresAt, rot.RefreshExpiresAt, rot.At)
	s, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRotationConflict
		}
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return s, nil
}

// Touch records the last time the session authorized a request. Missing sessions are ignored.
func (r *PostgresRepository) Touch(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE sessions SET last_accessed_at = $2 WHERE id = $1`, id, at)
	return err
}

// ListActiveByPrincipal returns the principal's active, refreshable sessions, most recently used first.
func (r *PostgresRepository) ListActiveByPrincipal(ctx context.Context, principalID string, now time.Time) ([]*domain.Session, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+sessionColumns+` FROM sessions
		WHERE principal_id = $1 AND active AND refresh_expires_at > $2
		ORDER BY COALESCE(last_accessed_at, created_at) DESC, id DESC`, principalID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// DeleteReapable deletes inactive sessions and sessions whose refresh token expired before now.
func (r *PostgresRepository) DeleteReapable(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE refresh_expires_at < $1 OR NOT active`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (*domain.Session, error) {
	var (
		s                         domain.Session
		lastAt, rotAt, deactAt    sql.NullTime
		ip, userAgent, deviceInfo sql.NullString
	)
	err := row.Scan(&s.ID, &s.PrincipalID, &s.AccessTokenHash, &s.RefreshTokenHash, &s.CreatedAt,
		&s.AccessExpiresAt, &s.RefreshExpiresAt, &s.Active, &lastAt, &rotAt, &deactAt,
		&ip, &userAgent, &deviceInfo)
	if err != nil {
		return nil, err
	}
	s.CreatedAt = s.CreatedAt.UTC()
	s.AccessExpiresAt = s.AccessExpiresAt.UTC()
	s.RefreshExpiresAt = s.RefreshExpiresAt.UTC()
	s.LastAccessedAt = nullTimeToPtr(lastAt)
	s.RotatedAt = nullTimeToPtr(rotAt)
	s.DeactivatedAt = nullTimeToPtr(deactAt)
	s.Metadata = domain.Metadata{IPAddress: ip.String, UserAgent: userAgent.String, DeviceInfo: deviceInfo.String}
	return &s, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
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
