package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"auth-session-core/backend/internal/policy/domain"
)

const policyColumns = `id, resource, action, required_security_level, conditions, enabled, created_at, updated_at`

// PostgresRepository stores policy rules in Postgres.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a Postgres-backed policy repository.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) ListEnabled(ctx context.Context) ([]domain.Policy, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+policyColumns+` FROM policies WHERE enabled ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list enabled policies: %w", err)
	}
	defer rows.Close()

	var out []domain.Policy
	for rows.Next() {
		var p domain.Policy
		if err := rows.Scan(&p.ID, &p.Resource, &p.Action, &p.RequiredSecurityLevel,
			&p.Conditions, &p.Enabled, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan policy: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) Create(ctx context.Context, p *domain.Policy) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO policies (`+policyColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		p.ID, p.Resource, p.Action, p.RequiredSecurityLevel, p.Conditions, p.Enabled, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create policy: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Policy, error) {
	var p domain.Policy
	err := r.db.QueryRowContext(ctx,
		`SELECT `+policyColumns+` FROM policies WHERE id = $1`, id).
		Scan(&p.ID, &p.Resource, &p.Action, &p.RequiredSecurityLevel,
			&p.Conditions, &p.Enabled, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get policy: %w", err)
	}
	return &p, nil
}

func (r *PostgresRepository) SetEnabled(ctx context.Context, id string, enabled bool) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE policies SET enabled = $2, updated_at = $3 WHERE id = $1`,
		id, enabled, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set policy enabled: %w", err)
	}
	return nil
}
