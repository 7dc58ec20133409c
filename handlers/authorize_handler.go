package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/alparn/agentxsuite-sub000/middleware"
	"github.com/alparn/agentxsuite-sub000/models"
	"github.com/alparn/agentxsuite-sub000/services/pdp"
	"github.com/alparn/agentxsuite-sub000/services/pep"
	"github.com/alparn/agentxsuite-sub000/utils"
)

// ToolAuthorizeRequest represents a tool invocation authorization request
type ToolAuthorizeRequest struct {
	Tool       string                 `json:"tool" validate:"required"`
	ResourceNS string                 `json:"resource_ns,omitempty"`
	Context    map[string]interface{} `json:"context,omitempty"`
	Explain    bool                   `json:"explain,omitempty"`
}

// AgentAuthorizeRequest represents an agent delegation authorization request
type AgentAuthorizeRequest struct {
	TargetAgentID uuid.UUID              `json:"target_agent_id" validate:"required"`
	Context       map[string]interface{} `json:"context,omitempty"`
	Explain       bool                   `json:"explain,omitempty"`
}

// AuthorizeResponse represents an authorization decision in API responses
type AuthorizeResponse struct {
	Allowed bool             `json:"allowed"`
	Code    string           `json:"code,omitempty"`
	Reason  string           `json:"reason,omitempty"`
	RuleID  *uuid.UUID       `json:"rule_id,omitempty"`
	Explain *ExplainResponse `json:"explain,omitempty"`
}

// ExplainResponse reports what the decision point considered
type ExplainResponse struct {
	Bindings     []ExplainBinding `json:"bindings"`
	MatchedRules []ExplainRule    `json:"matched_rules"`
}

// ExplainBinding is one binding the decision point considered
type ExplainBinding struct {
	ID        uuid.UUID        `json:"id"`
	PolicyID  uuid.UUID        `json:"policy_id"`
	ScopeType models.ScopeType `json:"scope_type"`
	ScopeID   string           `json:"scope_id"`
	Priority  int              `json:"priority"`
}

// ExplainRule is one rule whose target matched the request
type ExplainRule struct {
	RuleID        uuid.UUID         `json:"rule_id"`
	PolicyID      uuid.UUID         `json:"policy_id"`
	BindingID     uuid.UUID         `json:"binding_id"`
	ScopeType     models.ScopeType  `json:"scope_type"`
	Target        string            `json:"target"`
	Effect        models.RuleEffect `json:"effect"`
	ConditionsMet bool              `json:"conditions_met"`
	Deciding      bool              `json:"deciding"`
}

// ToolEnforcer decides tool invocation checks
type ToolEnforcer interface {
	CheckToolCall(ctx context.Context, req pep.ToolCallRequest) (*pep.CheckResult, error)
	CheckAgentCall(ctx context.Context, req pep.AgentCallRequest) (*pep.CheckResult, error)
}

// AuthorizeHandler handles authorization check HTTP requests
type AuthorizeHandler struct {
	enforcer    ToolEnforcer
	metadataURL string
	logger      *zap.Logger
}

// NewAuthorizeHandler creates a new AuthorizeHandler
func NewAuthorizeHandler(enforcer ToolEnforcer, metadataURL string, logger *zap.Logger) *AuthorizeHandler {
	return &AuthorizeHandler{
		enforcer:    enforcer,
		metadataURL: metadataURL,
		logger:      logger,
	}
}

// HandleAuthorizeTool handles POST /api/v1/authorize/tool
func (h *AuthorizeHandler) HandleAuthorizeTool(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	agent := middleware.GetAgentFromContext(ctx)
	claims := middleware.GetClaimsFromContext(ctx)
	if agent == nil || claims == nil {
		h.logger.Error("agent or claims missing from context",
			zap.String("request_id", requestID))
		_ = utils.WriteUnauthorizedChallenge(w, "missing_token", "Authentication required", h.metadataURL)
		return
	}

	var req ToolAuthorizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("failed to parse request body",
			zap.String("request_id", requestID),
			zap.Error(err))
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}

	if err := utils.ValidateStruct(&req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	result, err := h.enforcer.CheckToolCall(ctx, pep.ToolCallRequest{
		AgentID:    agent.ID,
		OrgID:      agent.OrgID,
		EnvID:      middleware.GetEnvIDFromContext(ctx),
		Tool:       req.Tool,
		ResourceNS: req.ResourceNS,
		Context:    req.Context,
		Explain:    req.Explain,
		JTI:        claims.JTI(),
		ClientIP:   r.RemoteAddr,
		RequestID:  requestID,
	})
	if err != nil {
		HandleServiceError(w, err, h.metadataURL, h.logger)
		return
	}

	h.writeDecision(w, result)
}

// HandleAuthorizeAgent handles POST /api/v1/authorize/agent
func (h *AuthorizeHandler) HandleAuthorizeAgent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	agent := middleware.GetAgentFromContext(ctx)
	claims := middleware.GetClaimsFromContext(ctx)
	if agent == nil || claims == nil {
		h.logger.Error("agent or claims missing from context",
			zap.String("request_id", requestID))
		_ = utils.WriteUnauthorizedChallenge(w, "missing_token", "Authentication required", h.metadataURL)
		return
	}

	var req AgentAuthorizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("failed to parse request body",
			zap.String("request_id", requestID),
			zap.Error(err))
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}

	if err := utils.ValidateStruct(&req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}
	if req.TargetAgentID == uuid.Nil {
		_ = utils.WriteBadRequest(w, "target_agent_id is required", nil)
		return
	}

	result, err := h.enforcer.CheckAgentCall(ctx, pep.AgentCallRequest{
		CallerAgentID: agent.ID,
		TargetAgentID: req.TargetAgentID,
		OrgID:         agent.OrgID,
		EnvID:         middleware.GetEnvIDFromContext(ctx),
		Context:       req.Context,
		Explain:       req.Explain,
		JTI:           claims.JTI(),
		ClientIP:      r.RemoteAddr,
		RequestID:     requestID,
	})
	if err != nil {
		HandleServiceError(w, err, h.metadataURL, h.logger)
		return
	}

	h.writeDecision(w, result)
}

// writeDecision writes the check result. Allows are 200; denies are 403
// with the stable policy_denied code and the full decision payload.
func (h *AuthorizeHandler) writeDecision(w http.ResponseWriter, result *pep.CheckResult) {
	response := AuthorizeResponse{
		Allowed: result.Allowed,
		Reason:  result.Reason,
		RuleID:  result.RuleID,
		Explain: explainToResponse(result.Explain),
	}

	if result.Allowed {
		_ = utils.WriteJSON(w, http.StatusOK, response)
		return
	}

	response.Code = "policy_denied"
	_ = utils.WriteJSON(w, http.StatusForbidden, response)
}

// explainToResponse converts evaluator explain output to the API shape
func explainToResponse(explain *pdp.Explanation) *ExplainResponse {
	if explain == nil {
		return nil
	}

	response := &ExplainResponse{
		Bindings:     make([]ExplainBinding, 0, len(explain.Bindings)),
		MatchedRules: make([]ExplainRule, 0, len(explain.MatchedRules)),
	}
	for _, b := range explain.Bindings {
		response.Bindings = append(response.Bindings, ExplainBinding{
			ID:        b.ID,
			PolicyID:  b.PolicyID,
			ScopeType: b.ScopeType,
			ScopeID:   b.ScopeID,
			Priority:  b.Priority,
		})
	}
	for _, m := range explain.MatchedRules {
		response.MatchedRules = append(response.MatchedRules, ExplainRule{
			RuleID:        m.Rule.ID,
			PolicyID:      m.Rule.PolicyID,
			BindingID:     m.BindingID,
			ScopeType:     m.ScopeType,
			Target:        m.Rule.Target,
			Effect:        m.Rule.Effect,
			ConditionsMet: m.Conditions,
			Deciding:      m.Deciding,
		})
	}
	return response
}
