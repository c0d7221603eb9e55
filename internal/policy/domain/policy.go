package domain

import "time"

// Wildcard matches any resource or action in a policy rule.
const Wildcard = "*"

// Policy is an access rule for a (resource, action) pair. Conditions, when
// non-empty, holds a Rego module that must evaluate data.authz.allow to true
// for the request to pass.
type Policy struct {
	ID                    string
	Resource              string
	Action                string
	RequiredSecurityLevel int
	Conditions            string
	Enabled               bool
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Matches reports whether the rule applies to the given resource and action,
// treating "*" as a wildcard on either field.
func (p Policy) Matches(resource, action string) bool {
	if p.Resource != Wildcard && p.Resource != resource {
		return false
	}
	if p.Action != Wildcard && p.Action != action {
		return false
	}
	return true
}

// Specificity orders candidate rules: exact matches beat resource wildcards,
// which beat the catch-all. Higher is more specific.
func (p Policy) Specificity() int {
	s := 0
	if p.Resource != Wildcard {
		s += 2
	}
	if p.Action != Wildcard {
		s++
	}
	return s
}
