package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AuditAction represents the type of action being audited
type AuditAction string

const (
	AuditActionToolInvoke     AuditAction = "tool.invoke"
	AuditActionAgentInvoke    AuditAction = "agent.invoke"
	AuditActionTokenRejected  AuditAction = "token.rejected"
	AuditActionPolicyCreated  AuditAction = "policy_created"
	AuditActionPolicyUpdated  AuditAction = "policy_updated"
	AuditActionPolicyDeleted  AuditAction = "policy_deleted"
	AuditActionBindingCreated AuditAction = "binding_created"
	AuditActionBindingDeleted AuditAction = "binding_deleted"
)

// AuditLog represents an audit trail entry. One entry is written per
// authorization decision, carrying the identifiers needed to correlate the
// decision with request logs.
type AuditLog struct {
	ID           uuid.UUID       `json:"id" db:"id"`
	OrgID        uuid.UUID       `json:"org_id" db:"org_id"`
	EnvID        *uuid.UUID      `json:"env_id,omitempty" db:"env_id"`
	AgentID      *uuid.UUID      `json:"agent_id,omitempty" db:"agent_id"`
	Action       AuditAction     `json:"action" db:"action"`
	Target       string          `json:"target" db:"target"`
	Decision     string          `json:"decision" db:"decision"` // allow or deny
	Reason       *string         `json:"reason,omitempty" db:"reason"`
	RuleID       *uuid.UUID      `json:"rule_id,omitempty" db:"rule_id"`
	Details      json.RawMessage `json:"details,omitempty" db:"details"` // JSONB for flexible metadata
	JTI          string          `json:"jti,omitempty" db:"jti"`
	ClientIP     string          `json:"client_ip,omitempty" db:"client_ip"`
	RequestID    string          `json:"request_id,omitempty" db:"request_id"`
	Timestamp    time.Time       `json:"timestamp" db:"timestamp"`
}

// TableName returns the table name for the AuditLog model
func (AuditLog) TableName() string {
	return "audit_logs"
}

// NewAuditLog creates a new AuditLog instance
func NewAuditLog(orgID uuid.UUID, action AuditAction, target, decision string) *AuditLog {
	return &AuditLog{
		ID:        uuid.New(),
		OrgID:     orgID,
		Action:    action,
		Target:    target,
		Decision:  decision,
		Timestamp: time.Now(),
	}
}

// WithEnv sets the environment ID
func (a *AuditLog) WithEnv(envID uuid.UUID) *AuditLog {
	a.EnvID = &envID
	return a
}

// WithAgent sets the agent ID
func (a *AuditLog) WithAgent(agentID uuid.UUID) *AuditLog {
	a.AgentID = &agentID
	return a
}

// WithRule sets the matched rule ID
func (a *AuditLog) WithRule(ruleID uuid.UUID) *AuditLog {
	a.RuleID = &ruleID
	return a
}

// WithReason sets the decision reason
func (a *AuditLog) WithReason(reason string) *AuditLog {
	a.Reason = &reason
	return a
}

// WithDetails sets the details
func (a *AuditLog) WithDetails(details interface{}) *AuditLog {
	if data, err := json.Marshal(details); err == nil {
		a.Details = data
	}
	return a
}

// WithForensics sets forensic request metadata
func (a *AuditLog) WithForensics(jti, clientIP, requestID string) *AuditLog {
	a.JTI = jti
	a.ClientIP = clientIP
	a.RequestID = requestID
	return a
}
