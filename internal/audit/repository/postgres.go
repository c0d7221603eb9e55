package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"auth-session-core/backend/internal/audit/domain"
)

const eventColumns = `id, sequence, user_id, session_id, event_type, severity, ip_address, user_agent, result, metadata, risk_indicators, event_hash, previous_event_hash, created_at`

// PostgresRepository stores audit events in Postgres. Metadata and risk
// indicators are kept as JSONB columns.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a Postgres-backed audit event repository.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Append(ctx context.Context, e *domain.Event) error {
	meta, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	indicators, err := json.Marshal(e.RiskIndicators)
	if err != nil {
		return fmt.Errorf("marshal risk indicators: %w", err)
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO audit_events (`+eventColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		e.ID, e.Sequence, e.UserID, e.SessionID, e.EventType, e.Severity,
		e.IPAddress, e.UserAgent, e.Result, meta, indicators,
		e.EventHash, e.PreviousEventHash, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Last(ctx context.Context) (*domain.Event, error) {
	e, err := scanEvent(r.db.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM audit_events ORDER BY sequence DESC LIMIT 1`))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return e, err
}

func (r *PostgresRepository) ListRange(ctx context.Context, from, to int64) ([]*domain.Event, error) {
	return r.list(ctx,
		`SELECT `+eventColumns+` FROM audit_events WHERE sequence >= $1 AND sequence <= $2 ORDER BY sequence`,
		from, to)
}

func (r *PostgresRepository) ListByUser(ctx context.Context, userID string, limit, offset int32) ([]*domain.Event, error) {
	return r.list(ctx,
		`SELECT `+eventColumns+` FROM audit_events WHERE user_id = $1 ORDER BY sequence DESC LIMIT $2 OFFSET $3`,
		userID, limit, offset)
}

func (r *PostgresRepository) ListByType(ctx context.Context, eventType string, limit, offset int32) ([]*domain.Event, error) {
	return r.list(ctx,
		`SELECT `+eventColumns+` FROM audit_events WHERE event_type = $1 ORDER BY sequence DESC LIMIT $2 OFFSET $3`,
		eventType, limit, offset)
}

func (r *PostgresRepository) ListByTimeRange(ctx context.Context, from, to time.Time) ([]*domain.Event, error) {
	return r.list(ctx,
		`SELECT `+eventColumns+` FROM audit_events WHERE created_at >= $1 AND created_at < $2 ORDER BY sequence`,
		from, to)
}

func (r *PostgresRepository) list(ctx context.Context, query string, args ...interface{}) ([]*domain.Event, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	var out []*domain.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEvent(row rowScanner) (*domain.Event, error) {
	var e domain.Event
	var meta, indicators []byte
	err := row.Scan(&e.ID, &e.Sequence, &e.UserID, &e.SessionID, &e.EventType,
		&e.Severity, &e.IPAddress, &e.UserAgent, &e.Result, &meta, &indicators,
		&e.EventHash, &e.PreviousEventHash, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &e.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	if len(indicators) > 0 {
		if err := json.Unmarshal(indicators, &e.RiskIndicators); err != nil {
			return nil, fmt.Errorf("unmarshal risk indicators: %w", err)
		}
	}
	return &e, nil
}
