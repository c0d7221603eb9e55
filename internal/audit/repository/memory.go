package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"auth-session-core/backend/internal/audit/domain"
)

// MemoryRepository is an in-memory audit event repository for tests. Events
// are stored by value so callers cannot mutate persisted rows; tests that
// need to tamper with history use Mutate.
type MemoryRepository struct {
	mu     sync.Mutex
	events []domain.Event
}

// NewMemoryRepository returns an empty in-memory audit repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

func (r *MemoryRepository) Append(ctx context.Context, e *domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.events {
		if r.events[i].Sequence == e.Sequence {
			return fmt.Errorf("duplicate sequence %d", e.Sequence)
		}
	}
	r.events = append(r.events, *e)
	return nil
}

func (r *MemoryRepository) Last(ctx context.Context) (*domain.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return nil, nil
	}
	last := r.events[0]
	for _, e := range r.events[1:] {
		if e.Sequence > last.Sequence {
			last = e
		}
	}
	return &last, nil
}

func (r *MemoryRepository) ListRange(ctx context.Context, from, to int64) ([]*domain.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Event
	for i := range r.events {
		if r.events[i].Sequence >= from && r.events[i].Sequence <= to {
			e := r.events[i]
			out = append(out, &e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}

func (r *MemoryRepository) ListByUser(ctx context.Context, userID string, limit, offset int32) ([]*domain.Event, error) {
	return r.filter(func(e *domain.Event) bool { return e.UserID == userID }, limit, offset), nil
}

func (r *MemoryRepository) ListByType(ctx context.Context, eventType string, limit, offset int32) ([]*domain.Event, error) {
	return r.filter(func(e *domain.Event) bool { return e.EventType == eventType }, limit, offset), nil
}

func (r *MemoryRepository) ListByTimeRange(ctx context.Context, from, to time.Time) ([]*domain.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Event
	for i := range r.events {
		if !r.events[i].CreatedAt.Before(from) && r.events[i].CreatedAt.Before(to) {
			e := r.events[i]
			out = append(out, &e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}

// Mutate edits a stored event in place. Tests use it to simulate tampering.
func (r *MemoryRepository) Mutate(sequence int64, fn func(*domain.Event)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.events {
		if r.events[i].Sequence == sequence {
			fn(&r.events[i])
			return true
		}
	}
	return false
}

func (r *MemoryRepository) filter(keep func(*domain.Event) bool, limit, offset int32) []*domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var matched []*domain.Event
	for i := range r.events {
		if keep(&r.events[i]) {
			e := r.events[i]
			matched = append(matched, &e)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Sequence > matched[j].Sequence })
	if int(offset) >= len(matched) {
		return nil
	}
	matched = matched[offset:]
	if int(limit) > 0 && int(limit) < len(matched) {
		matched = matched[:limit]
	}
	return matched
}
