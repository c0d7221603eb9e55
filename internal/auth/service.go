// Package auth orchestrates login, refresh rotation, and logout over the
// token service, session store, risk engine, and audit chain. Decisions are
// made by the underlying components; this package sequences them and owns
// the refresh-reuse protocol.
package auth

import (
	"context"
	"errors"
	"log"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"auth-session-core/backend/internal/audit"
	auditdomain "auth-session-core/backend/internal/audit/domain"
	"auth-session-core/backend/internal/risk"
	"auth-session-core/backend/internal/security"
	sessiondomain "auth-session-core/backend/internal/session/domain"
	sessionrepo "auth-session-core/backend/internal/session/repository"
	"auth-session-core/backend/internal/token"
	userdomain "auth-session-core/backend/internal/user/domain"
	userrepo "auth-session-core/backend/internal/user/repository"
)

// Sentinel errors; the transport layer maps them to status codes.
var (
	ErrEmailAlreadyRegistered = errors.New("email already registered")
	ErrInvalidCredentials     = errors.New("invalid credentials")
	ErrLoginBlocked           = errors.New("login blocked by risk policy")
	ErrSessionNotFound        = errors.New("session not found")
	ErrSessionRevoked         = errors.New("session revoked")
	ErrSessionExpired         = errors.New("session expired")
	// ErrSecurityViolation means refresh-token reuse was detected and the
	// whole token family has been revoked. Never downgraded to a plain
	// credential failure.
	ErrSecurityViolation = errors.New("security violation: token reuse detected")
)

// Device carries the request attributes scored and recorded per attempt.
type Device struct {
	IP          string
	UserAgent   string
	Fingerprint string
}

// Result is the outcome of a successful login or refresh.
type Result struct {
	User           *userdomain.User
	Session        *sessiondomain.Session
	Pair           *token.Pair
	RiskScore      int
	RiskIndicators []string
	StepUpRequired bool
}

// Service wires the security components together.
type Service struct {
	users    userrepo.Repository
	sessions sessionrepo.Repository
	tokens   *token.Service
	hasher   *security.Hasher
	risk     *risk.Engine
	recorder risk.Recorder
	chain    *audit.Chain

	blockThreshold  int
	stepUpThreshold int
	refreshTTL      time.Duration
	now             func() time.Time
}

// NewService returns an auth service. recorder may be risk.NoopSource{} when
// no signal store is configured.
func NewService(
	users userrepo.Repository,
	sessions sessionrepo.Repository,
	tokens *token.Service,
	hasher *security.Hasher,
	riskEngine *risk.Engine,
	recorder risk.Recorder,
	chain *audit.Chain,
	blockThreshold, stepUpThreshold int,
	refreshTTL time.Duration,
) *Service {
	if recorder == nil {
		recorder = risk.NoopSource{}
	}
	return &Service{
		users:           users,
		sessions:        sessions,
		tokens:          tokens,
		hasher:          hasher,
		risk:            riskEngine,
		recorder:        recorder,
		chain:           chain,
		blockThreshold:  blockThreshold,
		stepUpThreshold: stepUpThreshold,
		refreshTTL:      refreshTTL,
		now:             time.Now,
	}
}

// Register creates a user with a hashed credential.
func (s *Service) Register(ctx context.Context, email, password, name string) (*userdomain.User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	if err := validatePassword(password); err != nil {
		return nil, err
	}
	existing, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrEmailAlreadyRegistered
	}
	hash, err := s.hasher.Hash([]byte(password))
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	user := &userdomain.User{
		ID:            uuid.NewString(),
		Email:         email,
		Name:          strings.TrimSpace(name),
		PasswordHash:  hash,
		SecurityLevel: 1,
		Status:        userdomain.UserStatusActive,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := user.Validate(); err != nil {
		return nil, err
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}
	s.chain.Append(ctx, &auditdomain.Event{
		UserID:    user.ID,
		EventType: auditdomain.TypeUserRegistered,
		Severity:  auditdomain.SeverityInfo,
		Result:    auditdomain.ResultSuccess,
	})
	return user, nil
}

// Login authenticates the credential, scores the attempt, and when allowed
// mints a token pair and opens a session. A score at or above the block
// threshold denies the login outright; at or above the step-up threshold the
// login proceeds flagged for step-up verification.
func (s *Service) Login(ctx context.Context, email, password string, dev Device) (*Result, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if user == nil || user.Status != userdomain.UserStatusActive {
		s.auditLoginFailure(ctx, "", dev, "unknown_or_disabled_user")
		return nil, ErrInvalidCredentials
	}
	rc := risk.Context{
		UserID:            user.ID,
		IP:                dev.IP,
		UserAgent:         dev.UserAgent,
		DeviceFingerprint: dev.Fingerprint,
		At:                s.now().UTC(),
	}
	if err := s.hasher.Compare(user.PasswordHash, []byte(password)); err != nil {
		s.recorder.RecordFailure(ctx, rc)
		s.auditLoginFailure(ctx, user.ID, dev, "bad_password")
		return nil, ErrInvalidCredentials
	}

	scored := s.risk.Score(ctx, rc)
	if scored.Score >= s.blockThreshold {
		s.chain.Append(ctx, &auditdomain.Event{
			UserID:         user.ID,
			EventType:      auditdomain.TypeLoginBlocked,
			Severity:       auditdomain.SeverityCritical,
			IPAddress:      dev.IP,
			UserAgent:      dev.UserAgent,
			Result:         auditdomain.ResultBlocked,
			Metadata:       map[string]string{"risk_score": strconv.Itoa(scored.Score)},
			RiskIndicators: scored.Indicators,
		})
		return nil, ErrLoginBlocked
	}

	now := s.now().UTC()
	sessionID := uuid.NewString()
	family := uuid.NewString()
	pair, err := s.tokens.IssuePair(user.ID, user.Email, sessionID, family)
	if err != nil {
		return nil, err
	}
	sess := &sessiondomain.Session{
		ID:                sessionID,
		UserID:            user.ID,
		AccessJTI:         pair.AccessJTI,
		RefreshJTI:        pair.RefreshJTI,
		RefreshTokenHash:  security.RefreshBindingHash(pair.RefreshToken),
		TokenFamily:       family,
		IPAddress:         dev.IP,
		UserAgent:         dev.UserAgent,
		DeviceFingerprint: dev.Fingerprint,
		RiskScore:         scored.Score,
		IsActive:          true,
		LastActivityAt:    now,
		ExpiresAt:         pair.RefreshExpiresAt,
		CreatedAt:         now,
	}
	if err := s.sessions.Create(ctx, sess); err != nil {
		return nil, err
	}
	s.recorder.RecordSuccess(ctx, rc)

	stepUp := scored.Score >= s.stepUpThreshold
	meta := map[string]string{"risk_score": strconv.Itoa(scored.Score)}
	if stepUp {
		meta[auditdomain.MetaHighRiskAccess] = "true"
	}
	s.chain.Append(ctx, &auditdomain.Event{
		UserID:         user.ID,
		SessionID:      sessionID,
		EventType:      auditdomain.TypeLoginSuccess,
		Severity:       auditdomain.SeverityInfo,
		IPAddress:      dev.IP,
		UserAgent:      dev.UserAgent,
		Result:         auditdomain.ResultSuccess,
		Metadata:       meta,
		RiskIndicators: scored.Indicators,
	})
	return &Result{
		User:           user,
		Session:        sess,
		Pair:           pair,
		RiskScore:      scored.Score,
		RiskIndicators: scored.Indicators,
		StepUpRequired: stepUp,
	}, nil
}

// Refresh rotates a refresh token, scoring the attempt like a login does.
// Presenting a superseded or revoked token revokes the whole token family and
// fails with ErrSecurityViolation; a score at or above the block threshold
// denies the rotation; concurrent presentations of the same token yield
// exactly one new pair.
func (s *Service) Refresh(ctx context.Context, refreshToken string, dev Device) (*Result, error) {
	claims, err := s.tokens.VerifyRefresh(refreshToken)
	if err != nil {
		s.auditRefreshRejected(ctx, refreshToken, dev, err)
		return nil, err
	}
	sess, err := s.sessions.GetByID(ctx, claims.SessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		s.auditRefreshRejected(ctx, refreshToken, dev, ErrSessionNotFound)
		return nil, ErrSessionNotFound
	}

	// A structurally valid token against a revoked session, a superseded
	// jti, or a binding-hash mismatch all mean the token was replayed.
	if sess.Revoked() || sess.RefreshJTI != claims.JTI() ||
		(sess.RefreshTokenHash != "" && !security.RefreshBindingEqual(refreshToken, sess.RefreshTokenHash)) {
		return nil, s.handleReuse(ctx, sess, claims.UserID(), dev)
	}

	now := s.now().UTC()
	if sess.Expired(now) {
		s.chain.Append(ctx, &auditdomain.Event{
			UserID:    claims.UserID(),
			SessionID: sess.ID,
			EventType: auditdomain.TypeSessionExpired,
			Severity:  auditdomain.SeverityInfo,
			IPAddress: dev.IP,
			UserAgent: dev.UserAgent,
			Result:    auditdomain.ResultFailure,
		})
		return nil, ErrSessionExpired
	}

	// Everything fallible happens before the CAS: the user lookup, so a read
	// error cannot strand a committed rotation, and the risk scoring, whose
	// signal fetches must not sit inside the session mutation.
	user, err := s.users.GetByID(ctx, claims.UserID())
	if err != nil {
		return nil, err
	}
	if user == nil {
		s.auditRefreshRejected(ctx, refreshToken, dev, ErrSessionNotFound)
		return nil, ErrSessionNotFound
	}

	rc := risk.Context{
		UserID:            user.ID,
		IP:                dev.IP,
		UserAgent:         dev.UserAgent,
		DeviceFingerprint: dev.Fingerprint,
		At:                now,
	}
	scored := s.risk.Score(ctx, rc)
	if scored.Score >= s.blockThreshold {
		s.chain.Append(ctx, &auditdomain.Event{
			UserID:         user.ID,
			SessionID:      sess.ID,
			EventType:      auditdomain.TypeTokenRefresh,
			Severity:       auditdomain.SeverityCritical,
			IPAddress:      dev.IP,
			UserAgent:      dev.UserAgent,
			Result:         auditdomain.ResultBlocked,
			Metadata:       map[string]string{"risk_score": strconv.Itoa(scored.Score)},
			RiskIndicators: scored.Indicators,
		})
		return nil, ErrLoginBlocked
	}

	pair, err := s.tokens.IssuePair(user.ID, user.Email, sess.ID, sess.TokenFamily)
	if err != nil {
		return nil, err
	}
	rotated, err := s.sessions.Rotate(ctx, sess.ID, claims.JTI(), sessiondomain.Rotation{
		AccessJTI:        pair.AccessJTI,
		RefreshJTI:       pair.RefreshJTI,
		RefreshTokenHash: security.RefreshBindingHash(pair.RefreshToken),
		RiskScore:        scored.Score,
		At:               now,
	})
	if errors.Is(err, sessionrepo.ErrRotationConflict) {
		// Lost the swap: someone else consumed this jti first.
		return nil, s.handleReuse(ctx, sess, claims.UserID(), dev)
	}
	if err != nil {
		return nil, err
	}

	stepUp := scored.Score >= s.stepUpThreshold
	meta := map[string]string{"risk_score": strconv.Itoa(scored.Score)}
	if stepUp {
		meta[auditdomain.MetaHighRiskAccess] = "true"
	}
	s.chain.Append(ctx, &auditdomain.Event{
		UserID:         user.ID,
		SessionID:      sess.ID,
		EventType:      auditdomain.TypeTokenRefresh,
		Severity:       auditdomain.SeverityInfo,
		IPAddress:      dev.IP,
		UserAgent:      dev.UserAgent,
		Result:         auditdomain.ResultSuccess,
		Metadata:       meta,
		RiskIndicators: scored.Indicators,
	})
	return &Result{
		User:           user,
		Session:        rotated,
		Pair:           pair,
		RiskScore:      scored.Score,
		RiskIndicators: scored.Indicators,
		StepUpRequired: stepUp,
	}, nil
}

// Logout revokes the session the refresh token belongs to. Invalid tokens are
// a no-op; logout never fails the caller for a token that is already dead.
func (s *Service) Logout(ctx context.Context, refreshToken string, dev Device) error {
	claims, err := s.tokens.VerifyRefresh(refreshToken)
	if err != nil {
		return nil
	}
	sess, err := s.sessions.GetByID(ctx, claims.SessionID)
	if err != nil {
		return err
	}
	if sess == nil || sess.Revoked() {
		return nil
	}
	now := s.now().UTC()
	if err := s.sessions.Revoke(ctx, sess.ID, sessiondomain.ReasonLogout, now); err != nil {
		return err
	}
	s.recorder.RecordSessionClosed(ctx, sess.UserID)
	s.chain.Append(ctx, &auditdomain.Event{
		UserID:    sess.UserID,
		SessionID: sess.ID,
		EventType: auditdomain.TypeLogout,
		Severity:  auditdomain.SeverityInfo,
		IPAddress: dev.IP,
		UserAgent: dev.UserAgent,
		Result:    auditdomain.ResultSuccess,
	})
	return nil
}

// ListSessions returns the user's active sessions.
func (s *Service) ListSessions(ctx context.Context, userID string) ([]*sessiondomain.Session, error) {
	return s.sessions.ListActiveByUser(ctx, userID)
}

// TerminateSession revokes one session by id on the user's behalf.
func (s *Service) TerminateSession(ctx context.Context, sessionID string) error {
	sess, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess == nil {
		return ErrSessionNotFound
	}
	if sess.Revoked() {
		return ErrSessionRevoked
	}
	now := s.now().UTC()
	if err := s.sessions.Revoke(ctx, sessionID, sessiondomain.ReasonTerminated, now); err != nil {
		return err
	}
	s.recorder.RecordSessionClosed(ctx, sess.UserID)
	s.chain.Append(ctx, &auditdomain.Event{
		UserID:    sess.UserID,
		SessionID: sessionID,
		EventType: auditdomain.TypeSessionTerminated,
		Severity:  auditdomain.SeverityInfo,
		Result:    auditdomain.ResultSuccess,
	})
	return nil
}

func (s *Service) handleReuse(ctx context.Context, sess *sessiondomain.Session, userID string, dev Device) error {
	now := s.now().UTC()
	revoked, err := s.sessions.RevokeFamily(ctx, sess.TokenFamily, sessiondomain.ReasonReuse, now)
	if err != nil {
		log.Printf("auth: revoking family %s after reuse failed: %v", sess.TokenFamily, err)
	}
	// Keep the signal store's active-session counter in step with the kill.
	for i := 0; i < revoked; i++ {
		s.recorder.RecordSessionClosed(ctx, sess.UserID)
	}
	s.chain.Append(ctx, &auditdomain.Event{
		UserID:    userID,
		SessionID: sess.ID,
		EventType: auditdomain.TypeTokenReuseAttack,
		Severity:  auditdomain.SeverityCritical,
		IPAddress: dev.IP,
		UserAgent: dev.UserAgent,
		Result:    auditdomain.ResultBlocked,
		Metadata: map[string]string{
			"token_family":     sess.TokenFamily,
			"sessions_revoked": strconv.Itoa(revoked),
		},
	})
	return ErrSecurityViolation
}

func (s *Service) auditLoginFailure(ctx context.Context, userID string, dev Device, reason string) {
	s.chain.Append(ctx, &auditdomain.Event{
		UserID:    userID,
		EventType: auditdomain.TypeLoginFailure,
		Severity:  auditdomain.SeverityWarning,
		IPAddress: dev.IP,
		UserAgent: dev.UserAgent,
		Result:    auditdomain.ResultFailure,
		Metadata:  map[string]string{"reason": reason},
	})
}

// auditRefreshRejected logs a failed refresh. The rejected token's subject is
// recovered with DecodeUnsafe for attribution only, never for authorization.
func (s *Service) auditRefreshRejected(ctx context.Context, tokenString string, dev Device, cause error) {
	var userID, sessionID string
	if claims := s.tokens.DecodeUnsafe(tokenString); claims != nil {
		userID = claims.UserID()
		sessionID = claims.SessionID
	}
	s.chain.Append(ctx, &auditdomain.Event{
		UserID:    userID,
		SessionID: sessionID,
		EventType: auditdomain.TypeTokenRefresh,
		Severity:  auditdomain.SeverityWarning,
		IPAddress: dev.IP,
		UserAgent: dev.UserAgent,
		Result:    auditdomain.ResultFailure,
		Metadata:  map[string]string{"reason": cause.Error()},
	})
}

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

func validateEmail(email string) error {
	if email == "" {
		return errors.New("email is required")
	}
	if !emailPattern.MatchString(email) {
		return errors.New("invalid email format")
	}
	return nil
}

func validatePassword(password string) error {
	if len(password) < 12 {
		return errors.New("password must be at least 12 characters")
	}
	var hasUpper, hasLower, hasNumber, hasSymbol bool
	for _, r := range password {
		switch {
		case r >= 'A' && r <= 'Z':
			hasUpper = true
		case r >= 'a' && r <= 'z':
			hasLower = true
		case r >= '0' && r <= '9':
			hasNumber = true
		default:
			hasSymbol = true
		}
	}
	if !hasUpper || !hasLower || !hasNumber || !hasSymbol {
		return errors.New("password must contain upper, lower, number, and symbol characters")
	}
	return nil
}
