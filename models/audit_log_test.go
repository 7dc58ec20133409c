package models

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAuditLog(t *testing.T) {
	orgID := uuid.New()
	log := NewAuditLog(orgID, AuditActionToolInvoke, "tool:pdf/read", "deny")

	assert.NotEqual(t, uuid.Nil, log.ID)
	assert.Equal(t, orgID, log.OrgID)
	assert.Equal(t, AuditActionToolInvoke, log.Action)
	assert.Equal(t, "tool:pdf/read", log.Target)
	assert.Equal(t, "deny", log.Decision)
	assert.False(t, log.Timestamp.IsZero())
	assert.Nil(t, log.AgentID)
	assert.Nil(t, log.Reason)
}

func TestAuditLogBuilders(t *testing.T) {
	orgID := uuid.New()
	envID := uuid.New()
	agentID := uuid.New()
	ruleID := uuid.New()

	log := NewAuditLog(orgID, AuditActionAgentInvoke, "agent:"+agentID.String(), "allow").
		WithEnv(envID).
		WithAgent(agentID).
		WithRule(ruleID).
		WithReason("allow by agent scope rule").
		WithDetails(map[string]interface{}{"depth": 1}).
		WithForensics("jti-1", "10.0.0.1", "req-1")

	require.NotNil(t, log.EnvID)
	assert.Equal(t, envID, *log.EnvID)
	require.NotNil(t, log.AgentID)
	assert.Equal(t, agentID, *log.AgentID)
	require.NotNil(t, log.RuleID)
	assert.Equal(t, ruleID, *log.RuleID)
	require.NotNil(t, log.Reason)
	assert.Equal(t, "allow by agent scope rule", *log.Reason)
	assert.Equal(t, "jti-1", log.JTI)
	assert.Equal(t, "10.0.0.1", log.ClientIP)
	assert.Equal(t, "req-1", log.RequestID)

	var details map[string]interface{}
	require.NoError(t, json.Unmarshal(log.Details, &details))
	assert.Equal(t, float64(1), details["depth"])
}
