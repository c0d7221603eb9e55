package auth

import (
	"context"
	"errors"

	auditdomain "auth-session-core/backend/internal/audit/domain"
	"auth-session-core/backend/internal/policy/engine"
)

// Authorization failures distinguishable by the caller.
var (
	ErrInsufficientSecurityLevel = errors.New("insufficient security level")
	ErrPermissionDenied          = errors.New("permission denied")
	ErrPolicyEvaluation          = errors.New("policy evaluation failed")
)

// Authorizer guards protected routes: verify the access token, confirm the
// session is still live, then ask the policy decision point. Denials and
// high-risk accesses are audited; allows are not.
type Authorizer struct {
	svc *Service
	pdp *engine.PDP
}

// NewAuthorizer returns an authorizer over the auth service and PDP.
func NewAuthorizer(svc *Service, pdp *engine.PDP) *Authorizer {
	return &Authorizer{svc: svc, pdp: pdp}
}

// Authorize checks accessToken against (resource, action). On deny the error
// identifies why: a token/session error, ErrInsufficientSecurityLevel,
// ErrPolicyEvaluation, or ErrPermissionDenied.
func (a *Authorizer) Authorize(ctx context.Context, accessToken, resource, action string, reqCtx map[string]interface{}) (engine.Decision, error) {
	claims, err := a.svc.tokens.VerifyAccess(accessToken)
	if err != nil {
		return engine.Decision{}, err
	}
	sess, err := a.svc.sessions.GetByID(ctx, claims.SessionID)
	if err != nil {
		return engine.Decision{}, err
	}
	if sess == nil {
		return engine.Decision{}, ErrSessionNotFound
	}
	if sess.Revoked() {
		return engine.Decision{}, ErrSessionRevoked
	}
	if sess.Expired(a.svc.now().UTC()) {
		return engine.Decision{}, ErrSessionExpired
	}
	user, err := a.svc.users.GetByID(ctx, claims.UserID())
	if err != nil {
		return engine.Decision{}, err
	}
	if user == nil {
		return engine.Decision{}, ErrSessionNotFound
	}

	dec := a.pdp.Evaluate(ctx, engine.Request{
		UserID:        user.ID,
		SecurityLevel: user.SecurityLevel,
		Resource:      resource,
		Action:        action,
		Context:       reqCtx,
	})
	if dec.Allowed {
		return dec, nil
	}

	a.svc.chain.Append(ctx, &auditdomain.Event{
		UserID:    user.ID,
		SessionID: sess.ID,
		EventType: auditdomain.TypeAccessDenied,
		Severity:  auditdomain.SeverityWarning,
		IPAddress: sess.IPAddress,
		UserAgent: sess.UserAgent,
		Result:    auditdomain.ResultFailure,
		Metadata: map[string]string{
			"resource": resource,
			"action":   action,
			"reason":   dec.Reason,
		},
	})
	switch dec.Reason {
	case engine.ReasonInsufficientSecurityLevel:
		return dec, ErrInsufficientSecurityLevel
	case engine.ReasonEvaluationError:
		return dec, ErrPolicyEvaluation
	default:
		return dec, ErrPermissionDenied
	}
}
