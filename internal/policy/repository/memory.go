package repository

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"auth-session-core/backend/internal/policy/domain"
)

// MemoryRepository is an in-memory policy repository for tests.
type MemoryRepository struct {
	mu       sync.Mutex
	policies map[string]domain.Policy
}

// NewMemoryRepository returns an empty in-memory policy repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{policies: make(map[string]domain.Policy)}
}

func (r *MemoryRepository) ListEnabled(ctx context.Context) ([]domain.Policy, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Policy
	for _, p := range r.policies {
		if p.Enabled {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *MemoryRepository) Create(ctx context.Context, p *domain.Policy) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	r.policies[p.ID] = *p
	return nil
}

func (r *MemoryRepository) GetByID(ctx context.Context, id string) (*domain.Policy, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.policies[id]
	if !ok {
		return nil, nil
	}
	cp := p
	return &cp, nil
}

func (r *MemoryRepository) SetEnabled(ctx context.Context, id string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.policies[id]; ok {
		p.Enabled = enabled
		p.UpdatedAt = time.Now().UTC()
		r.policies[id] = p
	}
	return nil
}
