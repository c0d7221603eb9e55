package domain

import "time"

// Event types recorded by the chain.
const (
	TypeUserRegistered    = "user_registered"
	TypeLoginSuccess      = "login_success"
	TypeLoginFailure      = "login_failure"
	TypeLoginBlocked      = "login_blocked"
	TypeTokenRefresh      = "token_refresh"
	TypeTokenReuseAttack  = "token_reuse_attack"
	TypeLogout            = "logout"
	TypeSessionTerminated = "session_terminated"
	TypeSessionExpired    = "session_expired"
	TypeAccessDenied      = "access_denied"
	TypeKeyRotated        = "key_rotated"
)

// Event severities.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Event results.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultBlocked = "blocked"
)

// MetaHighRiskAccess marks events whose risk score crossed the step-up
// threshold while the operation was still allowed to proceed.
const MetaHighRiskAccess = "high_risk_access"

// Event is one entry in the hash-linked audit log. Sequence, EventHash and
// PreviousEventHash are assigned by the chain appender; everything else is
// supplied by the caller. Rows are never updated or deleted.
type Event struct {
	ID                string
	Sequence          int64
	UserID            string
	SessionID         string
	EventType         string
	Severity          string
	IPAddress         string
	UserAgent         string
	Result            string
	Metadata          map[string]string
	RiskIndicators    []string
	EventHash         string
	PreviousEventHash string
	CreatedAt         time.Time
}
