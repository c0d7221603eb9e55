package repository

import (
	"context"

	"auth-session-core/backend/internal/policy/domain"
)

// Repository provides access to policy rules.
type Repository interface {
	// ListEnabled returns all enabled policy rules.
	ListEnabled(ctx context.Context) ([]domain.Policy, error)
	// Create inserts a new policy rule.
	Create(ctx context.Context, p *domain.Policy) error
	// GetByID returns a policy by ID, or (nil, nil) when not found.
	GetByID(ctx context.Context, id string) (*domain.Policy, error)
	// SetEnabled toggles a rule without deleting it.
	SetEnabled(ctx context.Context, id string, enabled bool) error
}
