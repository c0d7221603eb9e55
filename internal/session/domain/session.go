// Package domain holds the session entity and its lifecycle vocabulary.
package domain

import "time"

// Revocation reasons recorded on terminated sessions.
const (
	ReasonLogout     = "logout"
	ReasonExpired    = "expired"
	ReasonReuse      = "token_reuse_attack"
	ReasonTerminated = "terminated_by_user"
)

// Session is one logical login. TokenFamily is stable across rotations;
// AccessJTI/RefreshJTI change on every rotation. At most one row with a
// given RefreshJTI is ever active and unconsumed.
type Session struct {
	ID                string
	UserID            string
	AccessJTI         string
	RefreshJTI        string
	RefreshTokenHash  string // SHA-256 binding of the current raw refresh token
	TokenFamily       string
	IPAddress         string
	UserAgent         string
	DeviceFingerprint string
	RiskScore         int
	IsActive          bool
	LastActivityAt    time.Time
	ExpiresAt         time.Time
	RevokedAt         *time.Time // nil when not revoked
	RevokedReason     string
	CreatedAt         time.Time
}

// Expired reports whether the session's refresh window has passed.
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Revoked reports whether the session reached its terminal state.
func (s *Session) Revoked() bool {
	return s.RevokedAt != nil || !s.IsActive
}

// Rotation carries the new token identifiers and the refresh-time risk score
// applied to a session when a refresh commits. The store applies it as one
// atomic conditional write.
type Rotation struct {
	AccessJTI        string
	RefreshJTI       string
	RefreshTokenHash string
	RiskScore        int
	At               time.Time
}
