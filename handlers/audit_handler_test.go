package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/alparn/agentxsuite-sub000/middleware"
	"github.com/alparn/agentxsuite-sub000/models"
	"github.com/alparn/agentxsuite-sub000/repositories"
)

// MockAuditRepository is a mock implementation of AuditRepository
type MockAuditRepository struct {
	mock.Mock
}

func (m *MockAuditRepository) Insert(ctx context.Context, log *models.AuditLog) error {
	args := m.Called(ctx, log)
	return args.Error(0)
}

func (m *MockAuditRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.AuditLog, error) {
	args := m.Called(ctx, id)
	if log := args.Get(0); log != nil {
		return log.(*models.AuditLog), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockAuditRepository) ListByOrg(ctx context.Context, orgID uuid.UUID, limit, offset int) ([]*models.AuditLog, error) {
	args := m.Called(ctx, orgID, limit, offset)
	if logs := args.Get(0); logs != nil {
		return logs.([]*models.AuditLog), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockAuditRepository) ListByAgent(ctx context.Context, agentID uuid.UUID, limit, offset int) ([]*models.AuditLog, error) {
	args := m.Called(ctx, agentID, limit, offset)
	if logs := args.Get(0); logs != nil {
		return logs.([]*models.AuditLog), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockAuditRepository) ListByDateRange(ctx context.Context, orgID uuid.UUID, start, end time.Time, limit, offset int) ([]*models.AuditLog, error) {
	args := m.Called(ctx, orgID, start, end, limit, offset)
	if logs := args.Get(0); logs != nil {
		return logs.([]*models.AuditLog), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockAuditRepository) GetByRequestID(ctx context.Context, requestID string) ([]*models.AuditLog, error) {
	args := m.Called(ctx, requestID)
	if logs := args.Get(0); logs != nil {
		return logs.([]*models.AuditLog), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockAuditRepository) WithTx(tx repositories.Transaction) repositories.AuditRepository {
	args := m.Called(tx)
	return args.Get(0).(repositories.AuditRepository)
}

func auditRequest(orgID uuid.UUID, path string) *http.Request {
	ctx := middleware.WithOrgID(context.Background(), orgID)
	return httptest.NewRequest(http.MethodGet, path, nil).WithContext(ctx)
}

func withChiParam(r *http.Request, key, value string) *http.Request {
	routeCtx := chi.NewRouteContext()
	routeCtx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, routeCtx))
}

func decodeAuditList(t *testing.T, rec *httptest.ResponseRecorder) []models.AuditLog {
	t.Helper()
	var resp struct {
		Data []models.AuditLog `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Data
}

func TestHandleListAuditLogs_DefaultPagination(t *testing.T) {
	repo := new(MockAuditRepository)
	handler := NewAuditHandler(repo, zap.NewNop())

	orgID := uuid.New()
	repo.On("ListByOrg", mock.Anything, orgID, defaultAuditPageSize, 0).Return([]*models.AuditLog{
		models.NewAuditLog(orgID, models.AuditActionToolInvoke, "tool:search", "allow"),
	}, nil)

	rec := httptest.NewRecorder()
	handler.HandleListAuditLogs(rec, auditRequest(orgID, "/api/v1/audit-logs"))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeAuditList(t, rec), 1)
}

func TestHandleListAuditLogs_PaginationBounds(t *testing.T) {
	repo := new(MockAuditRepository)
	handler := NewAuditHandler(repo, zap.NewNop())

	orgID := uuid.New()
	for _, query := range []string{"?limit=0", "?limit=501", "?limit=abc", "?offset=-1"} {
		rec := httptest.NewRecorder()
		handler.HandleListAuditLogs(rec, auditRequest(orgID, "/api/v1/audit-logs"+query))
		assert.Equal(t, http.StatusBadRequest, rec.Code, "query %s", query)
	}
	repo.AssertNotCalled(t, "ListByOrg", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestHandleListAuditLogs_ByAgent(t *testing.T) {
	repo := new(MockAuditRepository)
	handler := NewAuditHandler(repo, zap.NewNop())

	orgID := uuid.New()
	agentID := uuid.New()
	log := models.NewAuditLog(orgID, models.AuditActionToolInvoke, "tool:search", "deny")
	log.WithAgent(agentID)
	repo.On("ListByAgent", mock.Anything, agentID, 10, 0).Return([]*models.AuditLog{log}, nil)

	rec := httptest.NewRecorder()
	handler.HandleListAuditLogs(rec, auditRequest(orgID,
		"/api/v1/audit-logs?agent_id="+agentID.String()+"&limit=10"))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeAuditList(t, rec), 1)
}

func TestHandleListAuditLogs_ByRequestIDFiltersForeignOrgs(t *testing.T) {
	repo := new(MockAuditRepository)
	handler := NewAuditHandler(repo, zap.NewNop())

	orgID := uuid.New()
	mine := models.NewAuditLog(orgID, models.AuditActionToolInvoke, "tool:search", "allow")
	foreign := models.NewAuditLog(uuid.New(), models.AuditActionToolInvoke, "tool:search", "allow")
	repo.On("GetByRequestID", mock.Anything, "req-1").Return([]*models.AuditLog{mine, foreign}, nil)

	rec := httptest.NewRecorder()
	handler.HandleListAuditLogs(rec, auditRequest(orgID, "/api/v1/audit-logs?request_id=req-1"))

	require.Equal(t, http.StatusOK, rec.Code)
	logs := decodeAuditList(t, rec)
	require.Len(t, logs, 1)
	assert.Equal(t, orgID, logs[0].OrgID)
}

func TestHandleListAuditLogs_DateRange(t *testing.T) {
	repo := new(MockAuditRepository)
	handler := NewAuditHandler(repo, zap.NewNop())

	orgID := uuid.New()
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	repo.On("ListByDateRange", mock.Anything, orgID, start, end, defaultAuditPageSize, 0).
		Return([]*models.AuditLog{}, nil)

	rec := httptest.NewRecorder()
	handler.HandleListAuditLogs(rec, auditRequest(orgID,
		"/api/v1/audit-logs?start="+start.Format(time.RFC3339)+"&end="+end.Format(time.RFC3339)))

	assert.Equal(t, http.StatusOK, rec.Code)
	repo.AssertExpectations(t)
}

func TestHandleListAuditLogs_BadDateRange(t *testing.T) {
	repo := new(MockAuditRepository)
	handler := NewAuditHandler(repo, zap.NewNop())

	rec := httptest.NewRecorder()
	handler.HandleListAuditLogs(rec, auditRequest(uuid.New(), "/api/v1/audit-logs?start=yesterday"))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleGetAuditLog(t *testing.T) {
	repo := new(MockAuditRepository)
	handler := NewAuditHandler(repo, zap.NewNop())

	orgID := uuid.New()
	log := models.NewAuditLog(orgID, models.AuditActionTokenRejected, "token", "deny")
	repo.On("GetByID", mock.Anything, log.ID).Return(log, nil)

	req := auditRequest(orgID, "/api/v1/audit-logs/"+log.ID.String())
	req = withChiParam(req, "id", log.ID.String())
	rec := httptest.NewRecorder()
	handler.HandleGetAuditLog(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleGetAuditLog_ForeignOrgReads404(t *testing.T) {
	repo := new(MockAuditRepository)
	handler := NewAuditHandler(repo, zap.NewNop())

	log := models.NewAuditLog(uuid.New(), models.AuditActionToolInvoke, "tool:search", "allow")
	repo.On("GetByID", mock.Anything, log.ID).Return(log, nil)

	req := auditRequest(uuid.New(), "/api/v1/audit-logs/"+log.ID.String())
	req = withChiParam(req, "id", log.ID.String())
	rec := httptest.NewRecorder()
	handler.HandleGetAuditLog(rec, req)

	// Existence of another tenant's record is never revealed
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
