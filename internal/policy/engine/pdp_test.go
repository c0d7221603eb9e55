package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"auth-session-core/backend/internal/policy/domain"
	"auth-session-core/backend/internal/policy/repository"
)

// failingRepo implements repository.Repository and fails every read.
type failingRepo struct{}

var _ repository.Repository = (*failingRepo)(nil)

func (failingRepo) ListEnabled(ctx context.Context) ([]domain.Policy, error) {
	return nil, errors.New("db down")
}
func (failingRepo) Create(ctx context.Context, p *domain.Policy) error     { return nil }
func (failingRepo) GetByID(ctx context.Context, id string) (*domain.Policy, error) {
	return nil, nil
}
func (failingRepo) SetEnabled(ctx context.Context, id string, enabled bool) error { return nil }

func seedRepo(t *testing.T, rules ...domain.Policy) *repository.MemoryRepository {
	t.Helper()
	repo := repository.NewMemoryRepository()
	for i := range rules {
		if err := repo.Create(context.Background(), &rules[i]); err != nil {
			t.Fatalf("seed policy: %v", err)
		}
	}
	return repo
}

func TestEvaluate_DenyByDefault(t *testing.T) {
	pdp := NewPDP(seedRepo(t), time.Minute)

	d := pdp.Evaluate(context.Background(), Request{
		UserID: "u1", SecurityLevel: 3, Resource: "documents", Action: "read",
	})
	if d.Allowed {
		t.Fatal("expected deny with no rules")
	}
	if d.Reason != ReasonNoMatchingPolicy {
		t.Errorf("reason = %q, want %q", d.Reason, ReasonNoMatchingPolicy)
	}
}

func TestEvaluate_ExactMatchBeatsWildcards(t *testing.T) {
	repo := seedRepo(t,
		domain.Policy{ID: "catch-all", Resource: "*", Action: "*", RequiredSecurityLevel: 5, Enabled: true},
		domain.Policy{ID: "docs-any", Resource: "documents", Action: "*", RequiredSecurityLevel: 3, Enabled: true},
		domain.Policy{ID: "docs-read", Resource: "documents", Action: "read", RequiredSecurityLevel: 1, Enabled: true},
	)
	pdp := NewPDP(repo, time.Minute)

	d := pdp.Evaluate(context.Background(), Request{
		UserID: "u1", SecurityLevel: 1, Resource: "documents", Action: "read",
	})
	if !d.Allowed {
		t.Fatalf("expected allow, got deny (%s)", d.Reason)
	}
	if d.PolicyID != "docs-read" {
		t.Errorf("matched rule = %q, want docs-read", d.PolicyID)
	}

	// "write" falls through to the resource wildcard, which requires level 3.
	d = pdp.Evaluate(context.Background(), Request{
		UserID: "u1", SecurityLevel: 1, Resource: "documents", Action: "write",
	})
	if d.Allowed || d.Reason != ReasonInsufficientSecurityLevel {
		t.Errorf("write decision = %+v, want insufficient_security_level deny", d)
	}
	if d.PolicyID != "docs-any" {
		t.Errorf("matched rule = %q, want docs-any", d.PolicyID)
	}
}

func TestEvaluate_SecurityLevelGate(t *testing.T) {
	repo := seedRepo(t,
		domain.Policy{Resource: "admin", Action: "delete", RequiredSecurityLevel: 4, Enabled: true},
	)
	pdp := NewPDP(repo, time.Minute)

	d := pdp.Evaluate(context.Background(), Request{
		UserID: "u1", SecurityLevel: 2, Resource: "admin", Action: "delete",
	})
	if d.Allowed || d.Reason != ReasonInsufficientSecurityLevel {
		t.Errorf("decision = %+v, want insufficient_security_level deny", d)
	}

	d = pdp.Evaluate(context.Background(), Request{
		UserID: "u1", SecurityLevel: 4, Resource: "admin", Action: "delete",
	})
	if !d.Allowed {
		t.Errorf("level 4 decision = %+v, want allow", d)
	}
}

func TestEvaluate_RegoConditions(t *testing.T) {
	conditions := `package authz

default allow = false

allow if {
	input.context.department == "engineering"
}
`
	repo := seedRepo(t,
		domain.Policy{ID: "eng-only", Resource: "repos", Action: "push", Conditions: conditions, Enabled: true},
	)
	pdp := NewPDP(repo, time.Minute)

	d := pdp.Evaluate(context.Background(), Request{
		UserID: "u1", SecurityLevel: 1, Resource: "repos", Action: "push",
		Context: map[string]interface{}{"department": "engineering"},
	})
	if !d.Allowed {
		t.Fatalf("expected allow for engineering, got %+v", d)
	}

	d = pdp.Evaluate(context.Background(), Request{
		UserID: "u2", SecurityLevel: 1, Resource: "repos", Action: "push",
		Context: map[string]interface{}{"department": "sales"},
	})
	if d.Allowed || d.Reason != ReasonConditionNotMet {
		t.Errorf("sales decision = %+v, want condition_not_met deny", d)
	}
}

func TestEvaluate_BadRegoFailsClosed(t *testing.T) {
	repo := seedRepo(t,
		domain.Policy{Resource: "repos", Action: "push", Conditions: "package authz\n\nallow if {", Enabled: true},
	)
	pdp := NewPDP(repo, time.Minute)

	d := pdp.Evaluate(context.Background(), Request{
		UserID: "u1", SecurityLevel: 1, Resource: "repos", Action: "push",
	})
	if d.Allowed || d.Reason != ReasonEvaluationError {
		t.Errorf("decision = %+v, want policy_evaluation_error deny", d)
	}
}

func TestEvaluate_RepoErrorFailsClosed(t *testing.T) {
	pdp := NewPDP(failingRepo{}, time.Minute)

	d := pdp.Evaluate(context.Background(), Request{
		UserID: "u1", SecurityLevel: 5, Resource: "documents", Action: "read",
	})
	if d.Allowed || d.Reason != ReasonEvaluationError {
		t.Errorf("decision = %+v, want policy_evaluation_error deny", d)
	}
}

func TestEvaluate_DisabledRulesIgnored(t *testing.T) {
	repo := seedRepo(t,
		domain.Policy{Resource: "documents", Action: "read", Enabled: false},
	)
	pdp := NewPDP(repo, time.Minute)

	d := pdp.Evaluate(context.Background(), Request{
		UserID: "u1", SecurityLevel: 5, Resource: "documents", Action: "read",
	})
	if d.Allowed || d.Reason != ReasonNoMatchingPolicy {
		t.Errorf("decision = %+v, want no_matching_policy deny", d)
	}
}

func TestEvaluate_StoreOutageDeniesOnceCacheLapses(t *testing.T) {
	repo := seedRepo(t,
		domain.Policy{ID: "r1", Resource: "documents", Action: "read", Enabled: true},
	)
	pdp := NewPDP(repo, time.Minute)

	d := pdp.Evaluate(context.Background(), Request{UserID: "u1", Resource: "documents", Action: "read"})
	if !d.Allowed {
		t.Fatalf("warm-up decision = %+v, want allow", d)
	}

	// Store goes down. Within the TTL the cached rules still serve.
	pdp.repo = failingRepo{}
	d = pdp.Evaluate(context.Background(), Request{UserID: "u1", Resource: "documents", Action: "read"})
	if !d.Allowed {
		t.Fatalf("within-TTL decision = %+v, want allow", d)
	}

	// Past the TTL a since-revoked rule must not keep granting access, so the
	// lapsed cache is not served: the outage denies.
	pdp.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	d = pdp.Evaluate(context.Background(), Request{UserID: "u1", Resource: "documents", Action: "read"})
	if d.Allowed || d.Reason != ReasonEvaluationError {
		t.Errorf("lapsed-cache decision = %+v, want policy_evaluation_error deny", d)
	}
}
