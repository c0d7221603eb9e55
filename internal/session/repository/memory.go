package repository

import (
	"context"
	"sync"
	"time"

	"auth-session-core/backend/internal/session/domain"
)

// MemoryRepository is an in-memory Repository with the same CAS semantics as
// the Postgres implementation. Used by tests and single-process dev runs.
type MemoryRepository struct {
	mu       sync.Mutex
	sessions map[string]*domain.Session
}

// NewMemoryRepository returns an empty in-memory session repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{sessions: make(map[string]*domain.Session)}
}

func (r *MemoryRepository) Create(ctx context.Context, s *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *s
	r.sessions[s.ID] = &cp
	return nil
}

func (r *MemoryRepository) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (r *MemoryRepository) FindByRefreshJTI(ctx context.Context, jti string) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		if s.RefreshJTI == jti {
			cp := *s
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *MemoryRepository) ListActiveByUser(ctx context.Context, userID string) ([]*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Session
	for _, s := range r.sessions {
		if s.UserID == userID && s.IsActive && s.RevokedAt == nil {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

// Rotate holds the lock across check-and-set, which makes the swap atomic
// the same way the single UPDATE is in Postgres.
func (r *MemoryRepository) Rotate(ctx context.Context, sessionID, presentedJTI string, rot domain.Rotation) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok || !s.IsActive || s.RevokedAt != nil || s.RefreshJTI != presentedJTI {
		return nil, ErrRotationConflict
	}
	s.AccessJTI = rot.AccessJTI
	s.RefreshJTI = rot.RefreshJTI
	s.RefreshTokenHash = rot.RefreshTokenHash
	s.RiskScore = rot.RiskScore
	s.LastActivityAt = rot.At
	cp := *s
	return &cp, nil
}

func (r *MemoryRepository) Revoke(ctx context.Context, id, reason string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok || s.RevokedAt != nil {
		return nil
	}
	s.IsActive = false
	at2 := at
	s.RevokedAt = &at2
	s.RevokedReason = reason
	return nil
}

func (r *MemoryRepository) RevokeFamily(ctx context.Context, family, reason string, at time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.sessions {
		if s.TokenFamily == family && s.RevokedAt == nil {
			s.IsActive = false
			at2 := at
			s.RevokedAt = &at2
			s.RevokedReason = reason
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepository) ExpireSweep(ctx context.Context, now time.Time) (map[string]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	swept := make(map[string]int)
	for _, s := range r.sessions {
		if s.IsActive && s.RevokedAt == nil && now.After(s.ExpiresAt) {
			s.IsActive = false
			at := now
			s.RevokedAt = &at
			s.RevokedReason = domain.ReasonExpired
			swept[s.UserID]++
		}
	}
	return swept, nil
}
