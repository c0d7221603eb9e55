package repository

import (
	"context"
	"strings"
	"sync"

	"auth-session-core/backend/internal/user/domain"
)

// MemoryRepository is an in-memory user repository for tests.
type MemoryRepository struct {
	mu    sync.Mutex
	users map[string]domain.User
}

// NewMemoryRepository returns an empty in-memory user repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{users: make(map[string]domain.User)}
}

func (r *MemoryRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, nil
	}
	cp := u
	return &cp, nil
}

func (r *MemoryRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	email = strings.ToLower(email)
	for _, u := range r.users {
		if u.Email == email {
			cp := u
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *MemoryRepository) Create(ctx context.Context, u *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[u.ID] = *u
	return nil
}
