package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/alparn/agentxsuite-sub000/middleware"
	"github.com/alparn/agentxsuite-sub000/models"
	"github.com/alparn/agentxsuite-sub000/repositories"
	"github.com/alparn/agentxsuite-sub000/utils"
)

const (
	defaultAuditPageSize = 50
	maxAuditPageSize     = 500
)

// AuditHandler handles audit log HTTP requests
type AuditHandler struct {
	auditRepo repositories.AuditRepository
	logger    *zap.Logger
}

// NewAuditHandler creates a new AuditHandler
func NewAuditHandler(auditRepo repositories.AuditRepository, logger *zap.Logger) *AuditHandler {
	return &AuditHandler{
		auditRepo: auditRepo,
		logger:    logger,
	}
}

// HandleListAuditLogs handles GET /api/v1/audit-logs
// Supports agent_id, request_id, start, end (RFC3339), limit, offset filters.
func (h *AuditHandler) HandleListAuditLogs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	orgID := middleware.GetOrgIDFromContext(ctx)
	if orgID == uuid.Nil {
		h.logger.Error("missing org ID in context")
		_ = utils.WriteUnauthorized(w, "Missing organization information")
		return
	}

	limit, offset, err := parsePagination(r)
	if err != nil {
		_ = utils.WriteBadRequest(w, err.Error(), nil)
		return
	}

	var logs []*models.AuditLog

	switch {
	case r.URL.Query().Get("request_id") != "":
		logs, err = h.auditRepo.GetByRequestID(ctx, r.URL.Query().Get("request_id"))

	case r.URL.Query().Get("agent_id") != "":
		var agentID uuid.UUID
		agentID, err = uuid.Parse(r.URL.Query().Get("agent_id"))
		if err != nil {
			_ = utils.WriteBadRequest(w, "Invalid agent_id format", nil)
			return
		}
		logs, err = h.auditRepo.ListByAgent(ctx, agentID, limit, offset)

	case r.URL.Query().Get("start") != "" || r.URL.Query().Get("end") != "":
		var start, end time.Time
		start, end, err = parseDateRange(r)
		if err != nil {
			_ = utils.WriteBadRequest(w, err.Error(), nil)
			return
		}
		logs, err = h.auditRepo.ListByDateRange(ctx, orgID, start, end, limit, offset)

	default:
		logs, err = h.auditRepo.ListByOrg(ctx, orgID, limit, offset)
	}

	if err != nil {
		h.logger.Error("failed to list audit logs",
			zap.String("request_id", requestID),
			zap.String("org_id", orgID.String()),
			zap.Error(err))
		_ = utils.WriteInternalServerError(w, "Failed to retrieve audit logs")
		return
	}

	// Tenant isolation also applies to filtered lookups
	filtered := make([]*models.AuditLog, 0, len(logs))
	for _, log := range logs {
		if log.OrgID == orgID {
			filtered = append(filtered, log)
		}
	}

	_ = utils.WriteOK(w, filtered)
}

// HandleGetAuditLog handles GET /api/v1/audit-logs/{id}
func (h *AuditHandler) HandleGetAuditLog(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	orgID := middleware.GetOrgIDFromContext(ctx)
	if orgID == uuid.Nil {
		h.logger.Error("missing org ID in context")
		_ = utils.WriteUnauthorized(w, "Missing organization information")
		return
	}

	logID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		_ = utils.WriteBadRequest(w, "Invalid audit log ID format", nil)
		return
	}

	log, err := h.auditRepo.GetByID(ctx, logID)
	if err != nil {
		notFoundOrInternal(w, err, "audit log", h.logger)
		return
	}

	if log.OrgID != orgID {
		_ = utils.WriteNotFound(w, "audit log not found")
		return
	}

	_ = utils.WriteOK(w, log)
}

// parsePagination reads limit and offset query parameters
func parsePagination(r *http.Request) (limit, offset int, err error) {
	limit = defaultAuditPageSize
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > maxAuditPageSize {
			return 0, 0, fmt.Errorf("limit must be between 1 and %d", maxAuditPageSize)
		}
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		offset, err = strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return 0, 0, fmt.Errorf("offset must be a non-negative integer")
		}
	}
	return limit, offset, nil
}

// parseDateRange reads start and end query parameters, defaulting to the
// last 24 hours when one side is missing
func parseDateRange(r *http.Request) (start, end time.Time, err error) {
	end = time.Now()
	start = end.Add(-24 * time.Hour)

	if raw := r.URL.Query().Get("start"); raw != "" {
		start, err = time.Parse(time.RFC3339, raw)
		if err != nil {
			return start, end, err
		}
	}
	if raw := r.URL.Query().Get("end"); raw != "" {
		end, err = time.Parse(time.RFC3339, raw)
		if err != nil {
			return start, end, err
		}
	}
	return start, end, nil
}
