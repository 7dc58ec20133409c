package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// ServiceAccount maps a bearer credential to an agent identity. The
// (subject, issuer) pair is unique and is the only trusted mapping from a
// token to an agent; an agent_id claim is never trusted directly.
type ServiceAccount struct {
	ID             uuid.UUID      `json:"id" db:"id"`
	OrgID          uuid.UUID      `json:"org_id" db:"org_id"`
	EnvID          *uuid.UUID     `json:"env_id,omitempty" db:"env_id"`
	Subject        string         `json:"subject" db:"subject"`
	Issuer         string         `json:"issuer" db:"issuer"`
	Audience       string         `json:"audience" db:"audience"`
	Enabled        bool           `json:"enabled" db:"enabled"`
	ScopeAllowlist pq.StringArray `json:"scope_allowlist,omitempty" db:"scope_allowlist"`
	CreatedAt      time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at" db:"updated_at"`
}

// TableName returns the table name for the ServiceAccount model
func (ServiceAccount) TableName() string {
	return "service_accounts"
}

// NewServiceAccount creates a new enabled ServiceAccount instance
func NewServiceAccount(orgID uuid.UUID, subject, issuer, audience string) *ServiceAccount {
	now := time.Now()
	return &ServiceAccount{
		ID:        uuid.New(),
		OrgID:     orgID,
		Subject:   subject,
		Issuer:    issuer,
		Audience:  audience,
		Enabled:   true,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// InEnv reports whether the service account is valid for the given
// environment. An account without an environment is org-wide.
func (s *ServiceAccount) InEnv(envID uuid.UUID) bool {
	return s.EnvID == nil || *s.EnvID == envID
}

// AllowsScope reports whether the given scope passes the allowlist.
// An empty allowlist permits every scope.
func (s *ServiceAccount) AllowsScope(scope string) bool {
	if len(s.ScopeAllowlist) == 0 {
		return true
	}
	for _, allowed := range s.ScopeAllowlist {
		if allowed == scope {
			return true
		}
	}
	return false
}
