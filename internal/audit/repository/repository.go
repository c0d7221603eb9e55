package repository

import (
	"context"
	"time"

	"auth-session-core/backend/internal/audit/domain"
)

// Repository defines persistence for audit events. Implementations only ever
// insert and read; there is no update or delete.
type Repository interface {
	// Append inserts the event. The sequence number must be unique.
	Append(ctx context.Context, e *domain.Event) error
	// Last returns the highest-sequence event, or (nil, nil) on an empty log.
	Last(ctx context.Context) (*domain.Event, error)
	// ListRange returns events with from <= sequence <= to, ascending.
	ListRange(ctx context.Context, from, to int64) ([]*domain.Event, error)
	// ListByUser returns a user's events, newest first.
	ListByUser(ctx context.Context, userID string, limit, offset int32) ([]*domain.Event, error)
	// ListByType returns events of one type, newest first.
	ListByType(ctx context.Context, eventType string, limit, offset int32) ([]*domain.Event, error)
	// ListByTimeRange returns events created within [from, to), ascending.
	ListByTimeRange(ctx context.Context, from, to time.Time) ([]*domain.Event, error)
}
