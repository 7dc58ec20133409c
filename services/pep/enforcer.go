package pep

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/alparn/agentxsuite-sub000/models"
	"github.com/alparn/agentxsuite-sub000/repositories"
	"github.com/alparn/agentxsuite-sub000/services"
	"github.com/alparn/agentxsuite-sub000/services/pdp"
)

// Recorder writes one audit record per decision
type Recorder interface {
	Record(ctx context.Context, log *models.AuditLog) error
}

// ToolCallRequest describes an agent's attempt to invoke a tool
type ToolCallRequest struct {
	AgentID    uuid.UUID
	OrgID      uuid.UUID
	EnvID      *uuid.UUID
	Tool       string
	ResourceNS string
	Subject    string
	Context    map[string]interface{}
	Explain    bool
	JTI        string
	ClientIP   string
	RequestID  string
}

// AgentCallRequest describes an agent's attempt to delegate to another agent
type AgentCallRequest struct {
	CallerAgentID uuid.UUID
	TargetAgentID uuid.UUID
	OrgID         uuid.UUID
	EnvID         *uuid.UUID
	Context       map[string]interface{}
	Explain       bool
	JTI           string
	ClientIP      string
	RequestID     string
}

// CheckResult is the enforcement outcome returned to the transport layer
type CheckResult struct {
	Allowed bool
	Reason  string
	RuleID  *uuid.UUID
	Explain *pdp.Explanation
}

// Enforcer is the policy enforcement point. It gathers decision context,
// invokes the evaluator, and records exactly one audit entry per check,
// synchronously, before returning.
type Enforcer struct {
	agents    repositories.AgentRepository
	accounts  repositories.ServiceAccountRepository
	evaluator *pdp.Evaluator
	recorder  Recorder
	logger    *zap.Logger
}

// NewEnforcer creates a new Enforcer instance
func NewEnforcer(agents repositories.AgentRepository, accounts repositories.ServiceAccountRepository, evaluator *pdp.Evaluator, recorder Recorder, logger *zap.Logger) *Enforcer {
	return &Enforcer{
		agents:    agents,
		accounts:  accounts,
		evaluator: evaluator,
		recorder:  recorder,
		logger:    logger,
	}
}

// CheckToolCall decides whether the agent may invoke the named tool.
// Every path, including early denies and evaluation failures, writes an
// audit record before returning; an audit write failure is logged but
// never changes the decision already computed.
func (e *Enforcer) CheckToolCall(ctx context.Context, req ToolCallRequest) (*CheckResult, error) {
	target := "tool:" + req.Tool

	agent, deny, loadErr := e.loadAgent(ctx, req.AgentID, req.OrgID, req.EnvID)
	if deny != "" {
		result := &CheckResult{Allowed: false, Reason: deny}
		e.audit(ctx, models.AuditActionToolInvoke, target, req.OrgID, req.EnvID, req.AgentID, result, forensics{req.JTI, req.ClientIP, req.RequestID}, nil)
		return result, loadErr
	}

	subject := req.Subject
	if subject == "" {
		subject = e.deriveSubject(ctx, agent)
	}

	evalCtx := e.mergeContext(req.Context, agent, req.EnvID)
	evalCtx["tool"] = req.Tool
	if req.ResourceNS != "" {
		evalCtx["resource_ns"] = req.ResourceNS
	}

	decision, evalErr := e.evaluator.Evaluate(ctx, pdp.EvaluationRequest{
		Action:     string(models.AuditActionToolInvoke),
		Target:     target,
		OrgID:      req.OrgID,
		EnvID:      req.EnvID,
		AgentID:    agent.ID,
		Tool:       req.Tool,
		ResourceNS: req.ResourceNS,
		Context:    evalCtx,
		Explain:    req.Explain,
	})

	result := e.resultFromDecision(decision)
	details := map[string]interface{}{"tool": req.Tool, "subject": subject}
	if req.ResourceNS != "" {
		details["resource_ns"] = req.ResourceNS
	}
	e.audit(ctx, models.AuditActionToolInvoke, target, req.OrgID, req.EnvID, agent.ID, result, forensics{req.JTI, req.ClientIP, req.RequestID}, details)

	e.logDecision("tool call checked", target, req.OrgID, agent.ID, result, req.RequestID)
	return result, evalErr
}

// CheckAgentCall decides whether the caller agent may delegate to the
// target agent. Delegation bounds (depth against the target's configured
// maximum, non-negative budget, TTL validity) are checked before the
// evaluator is consulted.
func (e *Enforcer) CheckAgentCall(ctx context.Context, req AgentCallRequest) (*CheckResult, error) {
	target := "agent:" + req.TargetAgentID.String()

	caller, deny, loadErr := e.loadAgent(ctx, req.CallerAgentID, req.OrgID, req.EnvID)
	if deny != "" {
		result := &CheckResult{Allowed: false, Reason: "caller " + deny}
		e.audit(ctx, models.AuditActionAgentInvoke, target, req.OrgID, req.EnvID, req.CallerAgentID, result, forensics{req.JTI, req.ClientIP, req.RequestID}, nil)
		return result, loadErr
	}

	targetAgent, deny, loadErr := e.loadAgent(ctx, req.TargetAgentID, req.OrgID, req.EnvID)
	if deny != "" {
		result := &CheckResult{Allowed: false, Reason: "target " + deny}
		e.audit(ctx, models.AuditActionAgentInvoke, target, req.OrgID, req.EnvID, caller.ID, result, forensics{req.JTI, req.ClientIP, req.RequestID}, nil)
		return result, loadErr
	}

	if reason := e.delegationDeny(req.Context, targetAgent); reason != "" {
		result := &CheckResult{Allowed: false, Reason: reason}
		e.audit(ctx, models.AuditActionAgentInvoke, target, req.OrgID, req.EnvID, caller.ID, result, forensics{req.JTI, req.ClientIP, req.RequestID}, nil)
		e.logDecision("agent call checked", target, req.OrgID, caller.ID, result, req.RequestID)
		return result, nil
	}

	evalCtx := e.mergeContext(req.Context, caller, req.EnvID)

	decision, evalErr := e.evaluator.Evaluate(ctx, pdp.EvaluationRequest{
		Action:  string(models.AuditActionAgentInvoke),
		Target:  target,
		OrgID:   req.OrgID,
		EnvID:   req.EnvID,
		AgentID: caller.ID,
		Context: evalCtx,
		Explain: req.Explain,
	})

	result := e.resultFromDecision(decision)
	details := map[string]interface{}{"target_agent_id": req.TargetAgentID}
	e.audit(ctx, models.AuditActionAgentInvoke, target, req.OrgID, req.EnvID, caller.ID, result, forensics{req.JTI, req.ClientIP, req.RequestID}, details)

	e.logDecision("agent call checked", target, req.OrgID, caller.ID, result, req.RequestID)
	return result, evalErr
}

// loadAgent loads an agent and validates it against the request tenant.
// Returns a deny reason string, empty when the agent is usable. A store
// failure still denies, and additionally carries ErrServiceUnavailable so
// the transport maps it to 503 instead of a policy deny.
func (e *Enforcer) loadAgent(ctx context.Context, agentID, orgID uuid.UUID, envID *uuid.UUID) (*models.Agent, string, error) {
	agent, err := e.agents.GetByID(ctx, agentID)
	if err != nil {
		if errors.Is(err, services.ErrAgentNotFound) {
			return nil, "agent not found", nil
		}
		e.logger.Error("failed to load agent",
			zap.Error(err),
			zap.String("agent_id", agentID.String()))
		return nil, "agent lookup unavailable", services.ErrServiceUnavailable.Withf("agent lookup").WithCause(err)
	}
	if !agent.Enabled {
		return nil, "agent disabled", nil
	}
	if agent.OrgID != orgID {
		return nil, "agent belongs to another organization", nil
	}
	if envID != nil && !agent.InEnv(*envID) {
		return nil, "agent not available in environment", nil
	}
	return agent, "", nil
}

// deriveSubject resolves the audit subject from the agent's service
// account. Best effort: a lookup failure leaves the subject empty.
func (e *Enforcer) deriveSubject(ctx context.Context, agent *models.Agent) string {
	if agent.ServiceAccountID == nil {
		return ""
	}
	account, err := e.accounts.GetByID(ctx, *agent.ServiceAccountID)
	if err != nil {
		e.logger.Warn("failed to derive subject from service account",
			zap.Error(err),
			zap.String("agent_id", agent.ID.String()))
		return ""
	}
	return account.Subject
}

// mergeContext copies the caller-supplied context and overlays the
// server-derived tenant and agent attributes, which always win
func (e *Enforcer) mergeContext(callerCtx map[string]interface{}, agent *models.Agent, envID *uuid.UUID) map[string]interface{} {
	merged := make(map[string]interface{}, len(callerCtx)+3)
	for k, v := range callerCtx {
		merged[k] = v
	}
	if envID != nil {
		merged["env_id"] = envID.String()
	}
	merged["tags"] = []string(agent.Tags)
	return merged
}

// delegationDeny checks the delegation bounds against the target agent's
// configured limits. Returns a deny reason, empty when all bounds hold.
func (e *Enforcer) delegationDeny(callerCtx map[string]interface{}, target *models.Agent) string {
	evalCtx := pdp.Context{Values: callerCtx}

	if depth := evalCtx.Number("depth"); depth > float64(target.MaxDelegationDepth) {
		return "delegation depth exceeds target agent maximum"
	}
	if budget := evalCtx.Number("budget_left_cents"); budget < 0 {
		return "delegation budget exhausted"
	}
	if raw, ok := callerCtx["ttl_valid"]; ok {
		if valid, isBool := raw.(bool); isBool && !valid {
			return "delegation ttl expired"
		}
	}
	return ""
}

// resultFromDecision converts an evaluator decision to a check result
func (e *Enforcer) resultFromDecision(decision *pdp.Decision) *CheckResult {
	result := &CheckResult{
		Allowed: decision.Allowed(),
		RuleID:  decision.RuleID,
		Explain: decision.Explain,
	}
	if !result.Allowed {
		result.Reason = decision.Reason
	}
	return result
}

type forensics struct {
	jti       string
	clientIP  string
	requestID string
}

// audit writes the decision record. Exactly one record per check.
func (e *Enforcer) audit(ctx context.Context, action models.AuditAction, target string, orgID uuid.UUID, envID *uuid.UUID, agentID uuid.UUID, result *CheckResult, f forensics, details map[string]interface{}) {
	decision := "deny"
	if result.Allowed {
		decision = "allow"
	}

	log := models.NewAuditLog(orgID, action, target, decision)
	if envID != nil {
		log.WithEnv(*envID)
	}
	if agentID != uuid.Nil {
		log.WithAgent(agentID)
	}
	if result.RuleID != nil {
		log.WithRule(*result.RuleID)
	}
	if result.Reason != "" {
		log.WithReason(result.Reason)
	}
	if details != nil {
		log.WithDetails(details)
	}
	log.WithForensics(f.jti, f.clientIP, f.requestID)

	if err := e.recorder.Record(ctx, log); err != nil {
		e.logger.Error("failed to write audit record",
			zap.Error(err),
			zap.String("action", string(action)),
			zap.String("target", target),
			zap.String("org_id", orgID.String()),
			zap.String("request_id", f.requestID))
	}
}

// logDecision emits the structured decision log, carrying the same
// identifiers as the audit record
func (e *Enforcer) logDecision(msg, target string, orgID, agentID uuid.UUID, result *CheckResult, requestID string) {
	fields := []zap.Field{
		zap.String("target", target),
		zap.String("org_id", orgID.String()),
		zap.String("agent_id", agentID.String()),
		zap.Bool("allowed", result.Allowed),
		zap.String("request_id", requestID),
	}
	if result.Reason != "" {
		fields = append(fields, zap.String("reason", result.Reason))
	}
	if result.RuleID != nil {
		fields = append(fields, zap.String("rule_id", result.RuleID.String()))
	}
	e.logger.Info(msg, fields...)
}
