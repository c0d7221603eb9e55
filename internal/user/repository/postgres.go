package repository

import (
	"context"
	"database/sql"
	"errors"

	"auth-session-core/backend/internal/user/domain"
)

const userColumns = `id, email, name, password_hash, security_level, status, created_at, updated_at`

// PostgresRepository persists users in the users table.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a user repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetByID returns the user for id, or nil if not found.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

// GetByEmail returns the user for email, or nil if not found.
func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
	return scanUser(row)
}

// Create persists the user. The user must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, u *domain.User) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		u.ID, u.Email, u.Name, u.PasswordHash, u.SecurityLevel, string(u.Status), u.CreatedAt, u.UpdatedAt)
	return err
}

func scanUser(row *sql.Row) (*domain.User, error) {
	var u domain.User
	var status string
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.SecurityLevel, &status, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	u.Status = domain.UserStatus(status)
	return &u, nil
}
