package engine

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"

	"auth-session-core/backend/internal/policy/domain"
	"auth-session-core/backend/internal/policy/repository"
)

// Decision reasons. Every denial names why.
const (
	ReasonAllowed                   = "allowed"
	ReasonNoMatchingPolicy          = "no_matching_policy"
	ReasonInsufficientSecurityLevel = "insufficient_security_level"
	ReasonConditionNotMet           = "condition_not_met"
	ReasonEvaluationError           = "policy_evaluation_error"
)

const conditionQuery = "data.authz.allow"

// Request describes an access attempt to be decided.
type Request struct {
	UserID        string
	SecurityLevel int
	Resource      string
	Action        string
	Context       map[string]interface{}
}

// Decision is the outcome of a policy evaluation.
type Decision struct {
	Allowed  bool
	Reason   string
	PolicyID string
}

// PDP is the policy decision point. It matches requests against stored rules,
// most specific first, and denies by default. Any internal failure denies.
type PDP struct {
	repo     repository.Repository
	cacheTTL time.Duration
	now      func() time.Time

	mu       sync.Mutex
	cached   []domain.Policy
	cachedAt time.Time
}

// NewPDP returns a decision point over the given rule repository. Rules are
// cached for cacheTTL between repository reads.
func NewPDP(repo repository.Repository, cacheTTL time.Duration) *PDP {
	return &PDP{repo: repo, cacheTTL: cacheTTL, now: time.Now}
}

// Evaluate decides whether the request is allowed. It never returns an error:
// evaluation failures deny with ReasonEvaluationError.
func (p *PDP) Evaluate(ctx context.Context, req Request) Decision {
	rules, err := p.rules(ctx)
	if err != nil {
		log.Printf("policy: loading rules failed: %v", err)
		return Decision{Allowed: false, Reason: ReasonEvaluationError}
	}

	rule := mostSpecific(rules, req.Resource, req.Action)
	if rule == nil {
		return Decision{Allowed: false, Reason: ReasonNoMatchingPolicy}
	}

	if req.SecurityLevel < rule.RequiredSecurityLevel {
		return Decision{Allowed: false, Reason: ReasonInsufficientSecurityLevel, PolicyID: rule.ID}
	}

	if rule.Conditions != "" {
		ok, err := p.evalCondition(ctx, rule.Conditions, req)
		if err != nil {
			log.Printf("policy: condition evaluation failed for rule %s: %v", rule.ID, err)
			return Decision{Allowed: false, Reason: ReasonEvaluationError, PolicyID: rule.ID}
		}
		if !ok {
			return Decision{Allowed: false, Reason: ReasonConditionNotMet, PolicyID: rule.ID}
		}
	}

	return Decision{Allowed: true, Reason: ReasonAllowed, PolicyID: rule.ID}
}

// Invalidate drops the rule cache so the next Evaluate rereads the repository.
func (p *PDP) Invalidate() {
	p.mu.Lock()
	p.cached = nil
	p.cachedAt = time.Time{}
	p.mu.Unlock()
}

func (p *PDP) rules(ctx context.Context) ([]domain.Policy, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cached != nil && p.now().Sub(p.cachedAt) < p.cacheTTL {
		return p.cached, nil
	}

	// A lapsed cache is never served past its TTL: a since-revoked rule must
	// not keep granting access while the store is down, so refresh failures
	// surface and the caller denies.
	rules, err := p.repo.ListEnabled(ctx)
	if err != nil {
		return nil, err
	}
	if rules == nil {
		rules = []domain.Policy{}
	}
	p.cached = rules
	p.cachedAt = p.now()
	return rules, nil
}

// mostSpecific picks the applicable rule, preferring exact matches over
// (resource, "*") over ("*", "*"). Returns nil when nothing matches.
func mostSpecific(rules []domain.Policy, resource, action string) *domain.Policy {
	var best *domain.Policy
	for i := range rules {
		r := &rules[i]
		if !r.Matches(resource, action) {
			continue
		}
		if best == nil || r.Specificity() > best.Specificity() {
			best = r
		}
	}
	return best
}

func (p *PDP) evalCondition(ctx context.Context, module string, req Request) (bool, error) {
	compiler, err := ast.CompileModules(map[string]string{"conditions.rego": module})
	if err != nil {
		return false, fmt.Errorf("compile conditions: %w", err)
	}

	input := map[string]interface{}{
		"subject": map[string]interface{}{
			"id":             req.UserID,
			"security_level": req.SecurityLevel,
		},
		"resource": req.Resource,
		"action":   req.Action,
		"context":  req.Context,
	}

	q := rego.New(
		rego.Query(conditionQuery),
		rego.Compiler(compiler),
		rego.Input(input),
	)
	rs, err := q.Eval(ctx)
	if err != nil {
		return false, fmt.Errorf("eval conditions: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return false, nil
	}
	v, ok := rs[0].Expressions[0].Value.(bool)
	return ok && v, nil
}
