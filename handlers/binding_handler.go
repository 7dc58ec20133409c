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

// CreateBindingRequest represents a request to bind a policy to a scope
type CreateBindingRequest struct {
	ScopeType models.ScopeType `json:"scope_type" validate:"required"`
	ScopeID   string           `json:"scope_id" validate:"required"`
	Priority  int              `json:"priority" validate:"gte=0"`
}

// BindingResponse represents a policy binding in API responses
type BindingResponse struct {
	ID        uuid.UUID        `json:"id"`
	PolicyID  uuid.UUID        `json:"policy_id"`
	ScopeType models.ScopeType `json:"scope_type"`
	ScopeID   string           `json:"scope_id"`
	Priority  int              `json:"priority"`
	CreatedAt string           `json:"created_at"`
}

// BindingHandler handles policy binding HTTP requests
type BindingHandler struct {
	policyRepo  repositories.PolicyRepository
	bindingRepo repositories.BindingRepository
	cache       *pdp.BindingCache
	auditSvc    *audit.AuditService
	logger      *zap.Logger
}

// NewBindingHandler creates a new BindingHandler. cache may be nil.
func NewBindingHandler(policyRepo repositories.PolicyRepository, bindingRepo repositories.BindingRepository, cache *pdp.BindingCache, auditSvc *audit.AuditService, logger *zap.Logger) *BindingHandler {
	return &BindingHandler{
		policyRepo:  policyRepo,
		bindingRepo: bindingRepo,
		cache:       cache,
		auditSvc:    auditSvc,
		logger:      logger,
	}
}

// HandleCreateBinding handles POST /api/v1/policies/{id}/bindings
func (h *BindingHandler) HandleCreateBinding(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	policy, ok := h.ownedPolicy(w, r)
	if !ok {
		return
	}

	var req CreateBindingRequest
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

	if !req.ScopeType.Valid() {
		_ = utils.WriteBadRequest(w, "scope_type must be one of agent, tool, resource_ns, env, org", nil)
		return
	}

	binding := models.NewPolicyBinding(policy.ID, req.ScopeType, req.ScopeID, req.Priority)

	if err := h.bindingRepo.Create(ctx, binding); err != nil {
		h.logger.Error("failed to create binding",
			zap.String("request_id", requestID),
			zap.String("policy_id", policy.ID.String()),
			zap.Error(err))
		_ = utils.WriteInternalServerError(w, "Failed to create binding")
		return
	}

	// New bindings can change which cached scope sets are complete,
	// dropping everything is the safe move
	if h.cache != nil {
		h.cache.Clear()
	}

	if err := h.auditSvc.LogBindingCreated(policy.OrgID, binding); err != nil {
		h.logger.Warn("failed to queue binding audit event", zap.Error(err))
	}

	h.logger.Info("binding created",
		zap.String("request_id", requestID),
		zap.String("policy_id", policy.ID.String()),
		zap.String("binding_id", binding.ID.String()),
		zap.String("scope_type", string(binding.ScopeType)))

	_ = utils.WriteCreated(w, bindingToResponse(binding))
}

// HandleListBindings handles GET /api/v1/policies/{id}/bindings
func (h *BindingHandler) HandleListBindings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	policy, ok := h.ownedPolicy(w, r)
	if !ok {
		return
	}

	bindings, err := h.bindingRepo.ListByPolicy(ctx, policy.ID)
	if err != nil {
		h.logger.Error("failed to list bindings",
			zap.String("request_id", requestID),
			zap.String("policy_id", policy.ID.String()),
			zap.Error(err))
		_ = utils.WriteInternalServerError(w, "Failed to retrieve bindings")
		return
	}

	responses := make([]BindingResponse, len(bindings))
	for i, binding := range bindings {
		responses[i] = bindingToResponse(binding)
	}

	_ = utils.WriteOK(w, responses)
}

// HandleDeleteBinding handles DELETE /api/v1/policies/{id}/bindings/{bindingID}
func (h *BindingHandler) HandleDeleteBinding(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	policy, ok := h.ownedPolicy(w, r)
	if !ok {
		return
	}

	bindingID, err := uuid.Parse(chi.URLParam(r, "bindingID"))
	if err != nil {
		_ = utils.WriteBadRequest(w, "Invalid binding ID format", nil)
		return
	}

	binding, err := h.bindingRepo.GetByID(ctx, bindingID)
	if err != nil {
		notFoundOrInternal(w, err, "binding", h.logger)
		return
	}
	if binding.PolicyID != policy.ID {
		_ = utils.WriteNotFound(w, "binding not found")
		return
	}

	if err := h.bindingRepo.Delete(ctx, bindingID); err != nil {
		h.logger.Error("failed to delete binding",
			zap.String("request_id", requestID),
			zap.String("binding_id", bindingID.String()),
			zap.Error(err))
		notFoundOrInternal(w, err, "binding", h.logger)
		return
	}

	if h.cache != nil {
		h.cache.InvalidatePolicy(policy.ID)
	}

	if err := h.auditSvc.LogBindingDeleted(policy.OrgID, bindingID); err != nil {
		h.logger.Warn("failed to queue binding audit event", zap.Error(err))
	}

	h.logger.Info("binding deleted",
		zap.String("request_id", requestID),
		zap.String("policy_id", policy.ID.String()),
		zap.String("binding_id", bindingID.String()))

	utils.WriteNoContent(w)
}

// ownedPolicy loads the policy from the URL parameter and verifies org
// ownership, writing the response on failure
func (h *BindingHandler) ownedPolicy(w http.ResponseWriter, r *http.Request) (*models.Policy, bool) {
	ctx := r.Context()

	orgID := middleware.GetOrgIDFromContext(ctx)
	if orgID == uuid.Nil {
		h.logger.Error("missing org ID in context")
		_ = utils.WriteUnauthorized(w, "Missing organization information")
		return nil, false
	}

	policyID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		_ = utils.WriteBadRequest(w, "Invalid policy ID format", nil)
		return nil, false
	}

	policy, err := h.policyRepo.GetByID(ctx, policyID)
	if err != nil {
		notFoundOrInternal(w, err, "policy", h.logger)
		return nil, false
	}

	if policy.OrgID != orgID {
		_ = utils.WriteForbidden(w, "Access denied to this policy")
		return nil, false
	}

	return policy, true
}

// bindingToResponse converts a PolicyBinding model to a BindingResponse
func bindingToResponse(b *models.PolicyBinding) BindingResponse {
	return BindingResponse{
		ID:        b.ID,
		PolicyID:  b.PolicyID,
		ScopeType: b.ScopeType,
		ScopeID:   b.ScopeID,
		Priority:  b.Priority,
		CreatedAt: b.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}
