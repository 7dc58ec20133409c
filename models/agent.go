package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Agent represents a tenant-scoped agent identity. It is the subject of
// policy evaluation and the unit of session lock.
type Agent struct {
	ID               uuid.UUID      `json:"id" db:"id"`
	OrgID            uuid.UUID      `json:"org_id" db:"org_id"`
	EnvID            *uuid.UUID     `json:"env_id,omitempty" db:"env_id"`
	ServiceAccountID *uuid.UUID     `json:"service_account_id,omitempty" db:"service_account_id"`
	Name             string         `json:"name" db:"name"`
	Enabled          bool           `json:"enabled" db:"enabled"`
	Tags             pq.StringArray `json:"tags,omitempty" db:"tags"`

	// Delegation defaults for agent-to-agent calls
	MaxDelegationDepth int   `json:"max_delegation_depth" db:"max_delegation_depth"`
	BudgetCents        int64 `json:"budget_cents" db:"budget_cents"`
	TTLSeconds         int   `json:"ttl_seconds" db:"ttl_seconds"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// TableName returns the table name for the Agent model
func (Agent) TableName() string {
	return "agents"
}

// NewAgent creates a new enabled Agent instance
func NewAgent(orgID uuid.UUID, name string) *Agent {
	now := time.Now()
	return &Agent{
		ID:        uuid.New(),
		OrgID:     orgID,
		Name:      name,
		Enabled:   true,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// InEnv reports whether the agent belongs to the given environment.
// An agent without an environment belongs to every environment of its org.
func (a *Agent) InEnv(envID uuid.UUID) bool {
	return a.EnvID == nil || *a.EnvID == envID
}
