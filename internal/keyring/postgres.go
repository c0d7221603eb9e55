package keyring

import (
	"context"
	"database/sql"
	"time"
)

// PostgresRepository persists signing keys in the signing_keys table.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a signing-key repository that uses the given db.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// ListUsable returns active and retiring keys ordered by creation time.
func (r *PostgresRepository) ListUsable(ctx context.Context) ([]*StoredKey, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT kid, algorithm, status, private_pem, not_before, not_after, created_at
		FROM signing_keys
		WHERE status IN ('active', 'retiring')
		ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*StoredKey
	for rows.Next() {
		var k StoredKey
		var notAfter sql.NullTime
		if err := rows.Scan(&k.KID, &k.Algorithm, &k.Status, &k.PrivatePEM, &k.NotBefore, &notAfter, &k.CreatedAt); err != nil {
			return nil, err
		}
		if notAfter.Valid {
			k.NotAfter = notAfter.Time
		}
		out = append(out, &k)
	}
	return out, rows.Err()
}

// Save inserts the key row.
func (r *PostgresRepository) Save(ctx context.Context, k *StoredKey) error {
	var notAfter sql.NullTime
	if !k.NotAfter.IsZero() {
		notAfter = sql.NullTime{Time: k.NotAfter, Valid: true}
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO signing_keys (kid, algorithm, status, private_pem, not_before, not_after, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		k.KID, k.Algorithm, k.Status, k.PrivatePEM, k.NotBefore, notAfter, k.CreatedAt)
	return err
}

// UpdateStatus sets the key's status and notAfter (retiring cutoff or revocation time).
func (r *PostgresRepository) UpdateStatus(ctx context.Context, kid, status string, notAfter time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE signing_keys SET status = $2, not_after = $3 WHERE kid = $1`,
		kid, status, notAfter)
	return err
}
