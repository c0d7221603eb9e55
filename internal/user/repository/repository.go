// Package repository defines user persistence. Lookups return (nil, nil) for
// missing rows; errors are database failures only.
package repository

import (
	"context"

	"auth-session-core/backend/internal/user/domain"
)

// Repository persists users.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	Create(ctx context.Context, u *domain.User) error
}
