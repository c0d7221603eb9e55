package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	auditdomain "auth-session-core/backend/internal/audit/domain"
	policydomain "auth-session-core/backend/internal/policy/domain"
	"auth-session-core/backend/internal/policy/engine"
	policyrepo "auth-session-core/backend/internal/policy/repository"
)

func newAuthorizer(t *testing.T, f *fixture, rules ...policydomain.Policy) *Authorizer {
	t.Helper()
	repo := policyrepo.NewMemoryRepository()
	for i := range rules {
		rules[i].Enabled = true
		if err := repo.Create(context.Background(), &rules[i]); err != nil {
			t.Fatalf("seed policy: %v", err)
		}
	}
	return NewAuthorizer(f.svc, engine.NewPDP(repo, time.Minute))
}

func TestAuthorize_AllowsMatchingRule(t *testing.T) {
	f := newFixture(t, nil)
	f.register(t, "a@example.com")
	res := f.login(t, "a@example.com", Device{})
	az := newAuthorizer(t, f, policydomain.Policy{Resource: "documents", Action: "read", RequiredSecurityLevel: 1})

	dec, err := az.Authorize(context.Background(), res.Pair.AccessToken, "documents", "read", nil)
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if !dec.Allowed {
		t.Errorf("decision = %+v, want allow", dec)
	}
}

func TestAuthorize_DeniesWithoutRule(t *testing.T) {
	f := newFixture(t, nil)
	f.register(t, "a@example.com")
	res := f.login(t, "a@example.com", Device{})
	az := newAuthorizer(t, f)

	_, err := az.Authorize(context.Background(), res.Pair.AccessToken, "documents", "read", nil)
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("err = %v, want ErrPermissionDenied", err)
	}
	ev := f.lastEventOfType(t, auditdomain.TypeAccessDenied)
	if ev.Metadata["reason"] != engine.ReasonNoMatchingPolicy {
		t.Errorf("audit reason = %q, want no_matching_policy", ev.Metadata["reason"])
	}
}

func TestAuthorize_InsufficientLevel(t *testing.T) {
	f := newFixture(t, nil)
	f.register(t, "a@example.com")
	res := f.login(t, "a@example.com", Device{})
	az := newAuthorizer(t, f, policydomain.Policy{Resource: "admin", Action: "*", RequiredSecurityLevel: 5})

	_, err := az.Authorize(context.Background(), res.Pair.AccessToken, "admin", "write", nil)
	if !errors.Is(err, ErrInsufficientSecurityLevel) {
		t.Fatalf("err = %v, want ErrInsufficientSecurityLevel", err)
	}
}

func TestAuthorize_RevokedSession(t *testing.T) {
	f := newFixture(t, nil)
	f.register(t, "a@example.com")
	res := f.login(t, "a@example.com", Device{})
	az := newAuthorizer(t, f, policydomain.Policy{Resource: "*", Action: "*"})

	if err := f.svc.TerminateSession(context.Background(), res.Session.ID); err != nil {
		t.Fatalf("TerminateSession: %v", err)
	}
	_, err := az.Authorize(context.Background(), res.Pair.AccessToken, "documents", "read", nil)
	if !errors.Is(err, ErrSessionRevoked) {
		t.Fatalf("err = %v, want ErrSessionRevoked", err)
	}
}

func TestAuthorize_RefreshTokenRejected(t *testing.T) {
	f := newFixture(t, nil)
	f.register(t, "a@example.com")
	res := f.login(t, "a@example.com", Device{})
	az := newAuthorizer(t, f, policydomain.Policy{Resource: "*", Action: "*"})

	_, err := az.Authorize(context.Background(), res.Pair.RefreshToken, "documents", "read", nil)
	if err == nil {
		t.Fatal("refresh token must not authorize a protected route")
	}
}
