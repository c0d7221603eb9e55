// Package repository defines session persistence. Lookups return (nil, nil)
// for missing rows; errors are database failures only.
package repository

import (
	"context"
	"errors"
	"time"

	"auth-session-core/backend/internal/session/domain"
)

// ErrRotationConflict is returned by Rotate when the conditional update
// matched no row: the presented refresh jti is no longer the session's
// current one (or the session was revoked meanwhile). The refresh protocol
// interprets this as reuse, never as a generic conflict.
var ErrRotationConflict = errors.New("session already rotated")

// Repository persists sessions. Rotate, FindByRefreshJTI, and Revoke on the
// same session must be linearizable; Rotate is a single compare-and-swap on
// the stored refresh jti so two concurrent refreshes with the same token
// produce exactly one success.
type Repository interface {
	Create(ctx context.Context, s *domain.Session) error
	GetByID(ctx context.Context, id string) (*domain.Session, error)
	FindByRefreshJTI(ctx context.Context, jti string) (*domain.Session, error)
	ListActiveByUser(ctx context.Context, userID string) ([]*domain.Session, error)
	// Rotate applies rot iff the session is active and its current refresh
	// jti equals presentedJTI. Returns the updated session, or
	// ErrRotationConflict when the swap lost.
	Rotate(ctx context.Context, sessionID, presentedJTI string, rot domain.Rotation) (*domain.Session, error)
	Revoke(ctx context.Context, id, reason string, at time.Time) error
	// RevokeFamily revokes every active session in the token family and
	// returns how many were revoked.
	RevokeFamily(ctx context.Context, family, reason string, at time.Time) (int, error)
	// ExpireSweep marks every active session past its expiry as revoked with
	// reason "expired" and returns the swept count per user, so callers can
	// reconcile per-user session counters.
	ExpireSweep(ctx context.Context, now time.Time) (map[string]int, error)
}
