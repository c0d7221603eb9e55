package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"auth-session-core/backend/internal/session/domain"
)

const sessionColumns = `id, user_id, access_jti, refresh_jti, refresh_token_hash, token_family,
	ip_address, user_agent, device_fingerprint, risk_score, is_active,
	last_activity_at, expires_at, revoked_at, revoked_reason, created_at`

// PostgresRepository persists sessions in the sessions table.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a session repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create persists the session. The session must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, s *domain.Session) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sessions (`+sessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		s.ID, s.UserID, s.AccessJTI, s.RefreshJTI, s.RefreshTokenHash, s.TokenFamily,
		s.IPAddress, s.UserAgent, s.DeviceFingerprint, s.RiskScore, s.IsActive,
		s.LastActivityAt, s.ExpiresAt, timeToNullTime(s.RevokedAt), nullStr(s.RevokedReason), s.CreatedAt)
	return err
}

// GetByID returns the session for id, or nil if not found.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id)
	return scanSession(row)
}

// FindByRefreshJTI returns the session whose current refresh jti is jti, or
// nil. The unique index on refresh_jti guarantees at most one row.
func (r *PostgresRepository) FindByRefreshJTI(ctx context.Context, jti string) (*domain.Session, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE refresh_jti = $1`, jti)
	return scanSession(row)
}

// ListActiveByUser returns the user's active sessions, newest first.
func (r *PostgresRepository) ListActiveByUser(ctx context.Context, userID string) ([]*domain.Session, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE user_id = $1 AND is_active AND revoked_at IS NULL
		ORDER BY created_at DESC`, userID)
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

// Rotate swaps the session's jtis iff presentedJTI is still current and the
// session is active. One conditional UPDATE: concurrent presentations of the
// same refresh token commit exactly once, the loser gets ErrRotationConflict.
func (r *PostgresRepository) Rotate(ctx context.Context, sessionID, presentedJTI string, rot domain.Rotation) (*domain.Session, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE sessions
		SET access_jti = $3, refresh_jti = $4, refresh_token_hash = $5, risk_score = $6, last_activity_at = $7
		WHERE id = $1 AND refresh_jti = $2 AND is_active AND revoked_at IS NULL
		RETURNING `+sessionColumns,
		sessionID, presentedJTI, rot.AccessJTI, rot.RefreshJTI, rot.RefreshTokenHash, rot.RiskScore, rot.At)
	s, err := scanSession(row)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, ErrRotationConflict
	}
	return s, nil
}

// Revoke marks the session revoked with the given reason. Terminal.
func (r *PostgresRepository) Revoke(ctx context.Context, id, reason string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET is_active = FALSE, revoked_at = $2, revoked_reason = $3
		WHERE id = $1 AND revoked_at IS NULL`, id, at, reason)
	return err
}

// RevokeFamily revokes every active session in the token family.
func (r *PostgresRepository) RevokeFamily(ctx context.Context, family, reason string, at time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET is_active = FALSE, revoked_at = $2, revoked_reason = $3
		WHERE token_family = $1 AND revoked_at IS NULL`, family, at, reason)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// ExpireSweep revokes active sessions whose expiry has passed and reports
// how many each user lost.
func (r *PostgresRepository) ExpireSweep(ctx context.Context, now time.Time) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx, `
		UPDATE sessions SET is_active = FALSE, revoked_at = $1, revoked_reason = $2
		WHERE is_active AND revoked_at IS NULL AND expires_at < $1
		RETURNING user_id`, now, domain.ReasonExpired)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	swept := make(map[string]int)
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, err
		}
		swept[userID]++
	}
	return swept, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*domain.Session, error) {
	var s domain.Session
	var revokedAt sql.NullTime
	var revokedReason, refreshHash, ip, ua, fp sql.NullString
	err := row.Scan(&s.ID, &s.UserID, &s.AccessJTI, &s.RefreshJTI, &refreshHash, &s.TokenFamily,
		&ip, &ua, &fp, &s.RiskScore, &s.IsActive,
		&s.LastActivityAt, &s.ExpiresAt, &revokedAt, &revokedReason, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if revokedAt.Valid {
		s.RevokedAt = &revokedAt.Time
	}
	s.RevokedReason = revokedReason.String
	s.RefreshTokenHash = refreshHash.String
	s.IPAddress = ip.String
	s.UserAgent = ua.String
	s.DeviceFingerprint = fp.String
	return &s, nil
}

func timeToNullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
