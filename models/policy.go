package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// RuleEffect represents the outcome a rule produces when it matches
type RuleEffect string

const (
	EffectAllow RuleEffect = "allow"
	EffectDeny  RuleEffect = "deny"
)

// Valid reports whether the effect is one of the two recognized literals
func (e RuleEffect) Valid() bool {
	return e == EffectAllow || e == EffectDeny
}

// ScopeType identifies what kind of entity a binding attaches a policy to
type ScopeType string

const (
	ScopeAgent      ScopeType = "agent"
	ScopeTool       ScopeType = "tool"
	ScopeResourceNS ScopeType = "resource_ns"
	ScopeEnv        ScopeType = "env"
	ScopeOrg        ScopeType = "org"
)

// Valid reports whether the scope type is a recognized literal
func (s ScopeType) Valid() bool {
	switch s {
	case ScopeAgent, ScopeTool, ScopeResourceNS, ScopeEnv, ScopeOrg:
		return true
	}
	return false
}

// Policy represents a tenant-scoped named container of rules
type Policy struct {
	ID          uuid.UUID  `json:"id" db:"id"`
	OrgID       uuid.UUID  `json:"org_id" db:"org_id"`
	EnvID       *uuid.UUID `json:"env_id,omitempty" db:"env_id"` // Null if org-wide
	Name        string     `json:"name" db:"name"`
	Description string     `json:"description,omitempty" db:"description"`
	Active      bool       `json:"active" db:"active"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
}

// TableName returns the table name for the Policy model
func (Policy) TableName() string {
	return "policies"
}

// NewPolicy creates a new active Policy instance
func NewPolicy(orgID uuid.UUID, name string) *Policy {
	now := time.Now()
	return &Policy{
		ID:        uuid.New(),
		OrgID:     orgID,
		Name:      name,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// PolicyRule represents a single allow/deny rule owned by a policy.
// Target is a glob pattern over the action's target string
// (e.g. "tool:pdf/*"). Conditions is a JSONB map of predicate-name to
// predicate-value evaluated against the request context.
type PolicyRule struct {
	ID         uuid.UUID       `json:"id" db:"id"`
	PolicyID   uuid.UUID       `json:"policy_id" db:"policy_id"`
	Action     string          `json:"action" db:"action"`
	Target     string          `json:"target" db:"target"`
	Effect     RuleEffect      `json:"effect" db:"effect"`
	Conditions json.RawMessage `json:"conditions,omitempty" db:"conditions"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
}

// TableName returns the table name for the PolicyRule model
func (PolicyRule) TableName() string {
	return "policy_rules"
}

// NewPolicyRule creates a new PolicyRule instance
func NewPolicyRule(policyID uuid.UUID, action, target string, effect RuleEffect) *PolicyRule {
	return &PolicyRule{
		ID:        uuid.New(),
		PolicyID:  policyID,
		Action:    action,
		Target:    target,
		Effect:    effect,
		CreatedAt: time.Now(),
	}
}

// PolicyBinding attaches a policy to a scope. Lower priority values are
// evaluated first within the binding's scope group. The scope type is
// immutable once the binding is referenced by evaluation.
type PolicyBinding struct {
	ID        uuid.UUID `json:"id" db:"id"`
	PolicyID  uuid.UUID `json:"policy_id" db:"policy_id"`
	ScopeType ScopeType `json:"scope_type" db:"scope_type"`
	ScopeID   string    `json:"scope_id" db:"scope_id"`
	Priority  int       `json:"priority" db:"priority"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// TableName returns the table name for the PolicyBinding model
func (PolicyBinding) TableName() string {
	return "policy_bindings"
}

// NewPolicyBinding creates a new PolicyBinding instance
func NewPolicyBinding(policyID uuid.UUID, scopeType ScopeType, scopeID string, priority int) *PolicyBinding {
	return &PolicyBinding{
		ID:        uuid.New(),
		PolicyID:  policyID,
		ScopeType: scopeType,
		ScopeID:   scopeID,
		Priority:  priority,
		CreatedAt: time.Now(),
	}
}
