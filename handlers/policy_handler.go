package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/alparn/agentxsuite-sub000/middleware"
	"github.com/alparn/agentxsuite-sub000/models"
	"github.com/alparn/agentxsuite-sub000/repositories"
	"github.com/alparn/agentxsuite-sub000/services/audit"
	"github.com/alparn/agentxsuite-sub000/services/pdp"
	"github.com/alparn/agentxsuite-sub000/utils"
)

// CreatePolicyRequest represents a request to create a policy
type CreatePolicyRequest struct {
	Name        string     `json:"name" validate:"required,max=255"`
	Description string     `json:"description,omitempty"`
	EnvID       *uuid.UUID `json:"env_id,omitempty"`
	Active      *bool      `json:"active,omitempty"`
}

// UpdatePolicyRequest represents a request to update a policy
type UpdatePolicyRequest struct {
	Name        *string `json:"name,omitempty" validate:"omitempty,max=255"`
	Description *string `json:"description,omitempty"`
	Active      *bool   `json:"active,omitempty"`
}

// CreateRuleRequest represents a request to add a rule to a policy
type CreateRuleRequest struct {
	Action     string            `json:"action" validate:"required"`
	Target     string            `json:"target" validate:"required"`
	Effect     models.RuleEffect `json:"effect" validate:"required"`
	Conditions json.RawMessage   `json:"conditions,omitempty"`
}

// PolicyResponse represents a policy in API responses
type PolicyResponse struct {
	ID          uuid.UUID      `json:"id"`
	OrgID       uuid.UUID      `json:"org_id"`
	EnvID       *uuid.UUID     `json:"env_id,omitempty"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Active      bool           `json:"active"`
	Rules       []RuleResponse `json:"rules,omitempty"`
	CreatedAt   string         `json:"created_at"`
	UpdatedAt   string         `json:"updated_at"`
}

// RuleResponse represents a policy rule in API responses
type RuleResponse struct {
	ID         uuid.UUID         `json:"id"`
	PolicyID   uuid.UUID         `json:"policy_id"`
	Action     string            `json:"action"`
	Target     string            `json:"target"`
	Effect     models.RuleEffect `json:"effect"`
	Conditions json.RawMessage   `json:"conditions,omitempty"`
	CreatedAt  string            `json:"created_at"`
}

// PolicyHandler handles policy management HTTP requests
type PolicyHandler struct {
	policyRepo repositories.PolicyRepository
	cache      *pdp.BindingCache
	auditSvc   *audit.AuditService
	logger     *zap.Logger
}

// NewPolicyHandler creates a new PolicyHandler. cache may be nil.
func NewPolicyHandler(policyRepo repositories.PolicyRepository, cache *pdp.BindingCache, auditSvc *audit.AuditService, logger *zap.Logger) *PolicyHandler {
	return &PolicyHandler{
		policyRepo: policyRepo,
		cache:      cache,
		auditSvc:   auditSvc,
		logger:     logger,
	}
}

// HandleListPolicies handles GET /api/v1/policies
func (h *PolicyHandler) HandleListPolicies(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	orgID := middleware.GetOrgIDFromContext(ctx)
	if orgID == uuid.Nil {
		h.logger.Error("missing org ID in context")
		_ = utils.WriteUnauthorized(w, "Missing organization information")
		return
	}

	policies, err := h.policyRepo.ListByOrg(ctx, orgID)
	if err != nil {
		h.logger.Error("failed to list policies",
			zap.String("request_id", requestID),
			zap.Error(err))
		_ = utils.WriteInternalServerError(w, "Failed to retrieve policies")
		return
	}

	responses := make([]PolicyResponse, len(policies))
	for i, p := range policies {
		responses[i] = policyToResponse(p, nil)
	}

	_ = utils.WriteOK(w, responses)
}

// HandleCreatePolicy handles POST /api/v1/policies
func (h *PolicyHandler) HandleCreatePolicy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	orgID := middleware.GetOrgIDFromContext(ctx)
	if orgID == uuid.Nil {
		h.logger.Error("missing org ID in context")
		_ = utils.WriteUnauthorized(w, "Missing organization information")
		return
	}

	var req CreatePolicyRequest
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

	policy := models.NewPolicy(orgID, req.Name)
	policy.Description = req.Description
	policy.EnvID = req.EnvID
	if req.Active != nil {
		policy.Active = *req.Active
	}

	if err := h.policyRepo.Create(ctx, policy); err != nil {
		h.logger.Error("failed to create policy",
			zap.String("request_id", requestID),
			zap.Error(err))
		_ = utils.WriteInternalServerError(w, "Failed to create policy")
		return
	}

	if err := h.auditSvc.LogPolicyCreated(policy); err != nil {
		h.logger.Warn("failed to queue policy audit event", zap.Error(err))
	}

	h.logger.Info("policy created",
		zap.String("request_id", requestID),
		zap.String("policy_id", policy.ID.String()))

	_ = utils.WriteCreated(w, policyToResponse(policy, nil))
}

// HandleGetPolicy handles GET /api/v1/policies/{id}
func (h *PolicyHandler) HandleGetPolicy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	policy, ok := h.ownedPolicy(w, r, "id")
	if !ok {
		return
	}

	rules, err := h.policyRepo.ListRules(ctx, policy.ID)
	if err != nil {
		h.logger.Error("failed to list policy rules",
			zap.String("request_id", requestID),
			zap.String("policy_id", policy.ID.String()),
			zap.Error(err))
		_ = utils.WriteInternalServerError(w, "Failed to retrieve policy rules")
		return
	}

	_ = utils.WriteOK(w, policyToResponse(policy, rules))
}

// HandleUpdatePolicy handles PATCH /api/v1/policies/{id}
func (h *PolicyHandler) HandleUpdatePolicy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	policy, ok := h.ownedPolicy(w, r, "id")
	if !ok {
		return
	}

	var req UpdatePolicyRequest
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

	changes := make(map[string]interface{})
	if req.Name != nil {
		policy.Name = *req.Name
		changes["name"] = *req.Name
	}
	if req.Description != nil {
		policy.Description = *req.Description
		changes["description"] = *req.Description
	}
	if req.Active != nil {
		policy.Active = *req.Active
		changes["active"] = *req.Active
	}

	if err := h.policyRepo.Update(ctx, policy); err != nil {
		h.logger.Error("failed to update policy",
			zap.String("request_id", requestID),
			zap.String("policy_id", policy.ID.String()),
			zap.Error(err))
		_ = utils.WriteInternalServerError(w, "Failed to update policy")
		return
	}

	h.invalidate(policy.ID)

	if err := h.auditSvc.LogPolicyUpdated(policy, changes); err != nil {
		h.logger.Warn("failed to queue policy audit event", zap.Error(err))
	}

	h.logger.Info("policy updated",
		zap.String("request_id", requestID),
		zap.String("policy_id", policy.ID.String()))

	_ = utils.WriteOK(w, policyToResponse(policy, nil))
}

// HandleDeletePolicy handles DELETE /api/v1/policies/{id}
func (h *PolicyHandler) HandleDeletePolicy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	policy, ok := h.ownedPolicy(w, r, "id")
	if !ok {
		return
	}

	if err := h.policyRepo.Delete(ctx, policy.ID); err != nil {
		h.logger.Error("failed to delete policy",
			zap.String("request_id", requestID),
			zap.String("policy_id", policy.ID.String()),
			zap.Error(err))
		_ = utils.WriteInternalServerError(w, "Failed to delete policy")
		return
	}

	h.invalidate(policy.ID)

	if err := h.auditSvc.LogPolicyDeleted(policy.OrgID, policy.ID); err != nil {
		h.logger.Warn("failed to queue policy audit event", zap.Error(err))
	}

	h.logger.Info("policy deleted",
		zap.String("request_id", requestID),
		zap.String("policy_id", policy.ID.String()))

	utils.WriteNoContent(w)
}

// HandleCreateRule handles POST /api/v1/policies/{id}/rules
func (h *PolicyHandler) HandleCreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	policy, ok := h.ownedPolicy(w, r, "id")
	if !ok {
		return
	}

	var req CreateRuleRequest
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

	if !req.Effect.Valid() {
		_ = utils.WriteBadRequest(w, "effect must be allow or deny", nil)
		return
	}

	// Reject unknown or malformed conditions at write time so the
	// decision path never encounters a predicate it cannot parse
	if _, err := pdp.ParseConditions(req.Conditions); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid conditions: "+err.Error(), nil)
		return
	}

	rule := models.NewPolicyRule(policy.ID, req.Action, req.Target, req.Effect)
	rule.Conditions = req.Conditions

	if err := h.policyRepo.CreateRule(ctx, rule); err != nil {
		h.logger.Error("failed to create rule",
			zap.String("request_id", requestID),
			zap.String("policy_id", policy.ID.String()),
			zap.Error(err))
		_ = utils.WriteInternalServerError(w, "Failed to create rule")
		return
	}

	h.invalidate(policy.ID)

	h.logger.Info("rule created",
		zap.String("request_id", requestID),
		zap.String("policy_id", policy.ID.String()),
		zap.String("rule_id", rule.ID.String()))

	_ = utils.WriteCreated(w, ruleToResponse(rule))
}

// HandleListRules handles GET /api/v1/policies/{id}/rules
func (h *PolicyHandler) HandleListRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	policy, ok := h.ownedPolicy(w, r, "id")
	if !ok {
		return
	}

	rules, err := h.policyRepo.ListRules(ctx, policy.ID)
	if err != nil {
		h.logger.Error("failed to list rules",
			zap.String("request_id", requestID),
			zap.String("policy_id", policy.ID.String()),
			zap.Error(err))
		_ = utils.WriteInternalServerError(w, "Failed to retrieve rules")
		return
	}

	responses := make([]RuleResponse, len(rules))
	for i, rule := range rules {
		responses[i] = ruleToResponse(rule)
	}

	_ = utils.WriteOK(w, responses)
}

// HandleDeleteRule handles DELETE /api/v1/policies/{id}/rules/{ruleID}
func (h *PolicyHandler) HandleDeleteRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	policy, ok := h.ownedPolicy(w, r, "id")
	if !ok {
		return
	}

	ruleID, err := uuid.Parse(chi.URLParam(r, "ruleID"))
	if err != nil {
		_ = utils.WriteBadRequest(w, "Invalid rule ID format", nil)
		return
	}

	if err := h.policyRepo.DeleteRule(ctx, ruleID); err != nil {
		h.logger.Error("failed to delete rule",
			zap.String("request_id", requestID),
			zap.String("rule_id", ruleID.String()),
			zap.Error(err))
		notFoundOrInternal(w, err, "rule", h.logger)
		return
	}

	h.invalidate(policy.ID)

	h.logger.Info("rule deleted",
		zap.String("request_id", requestID),
		zap.String("policy_id", policy.ID.String()),
		zap.String("rule_id", ruleID.String()))

	utils.WriteNoContent(w)
}

// ownedPolicy loads the policy named by the URL parameter and verifies it
// belongs to the caller's organization. Writes the response on failure.
func (h *PolicyHandler) ownedPolicy(w http.ResponseWriter, r *http.Request, param string) (*models.Policy, bool) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	orgID := middleware.GetOrgIDFromContext(ctx)
	if orgID == uuid.Nil {
		h.logger.Error("missing org ID in context")
		_ = utils.WriteUnauthorized(w, "Missing organization information")
		return nil, false
	}

	policyID, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		_ = utils.WriteBadRequest(w, "Invalid policy ID format", nil)
		return nil, false
	}

	policy, err := h.policyRepo.GetByID(ctx, policyID)
	if err != nil {
		h.logger.Warn("failed to fetch policy",
			zap.String("request_id", requestID),
			zap.String("policy_id", policyID.String()),
			zap.Error(err))
		notFoundOrInternal(w, err, "policy", h.logger)
		return nil, false
	}

	if policy.OrgID != orgID {
		h.logger.Warn("policy ownership mismatch",
			zap.String("request_id", requestID),
			zap.String("policy_id", policyID.String()),
			zap.String("expected_org_id", orgID.String()))
		_ = utils.WriteForbidden(w, "Access denied to this policy")
		return nil, false
	}

	return policy, true
}

// invalidate drops cached binding sets referencing the policy
func (h *PolicyHandler) invalidate(policyID uuid.UUID) {
	if h.cache != nil {
		h.cache.InvalidatePolicy(policyID)
	}
}

// policyToResponse converts a Policy model to a PolicyResponse
func policyToResponse(p *models.Policy, rules []*models.PolicyRule) PolicyResponse {
	response := PolicyResponse{
		ID:          p.ID,
		OrgID:       p.OrgID,
		EnvID:       p.EnvID,
		Name:        p.Name,
		Description: p.Description,
		Active:      p.Active,
		CreatedAt:   p.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		UpdatedAt:   p.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
	for _, rule := range rules {
		response.Rules = append(response.Rules, ruleToResponse(rule))
	}
	return response
}

// ruleToResponse converts a PolicyRule model to a RuleResponse
func ruleToResponse(rule *models.PolicyRule) RuleResponse {
	return RuleResponse{
		ID:         rule.ID,
		PolicyID:   rule.PolicyID,
		Action:     rule.Action,
		Target:     rule.Target,
		Effect:     rule.Effect,
		Conditions: rule.Conditions,
		CreatedAt:  rule.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}
