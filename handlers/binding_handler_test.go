package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/alparn/agentxsuite-sub000/models"
	"github.com/alparn/agentxsuite-sub000/repositories"
	"github.com/alparn/agentxsuite-sub000/services/pdp"
)

// MockBindingRepository is a mock implementation of BindingRepository
type MockBindingRepository struct {
	mock.Mock
}

func (m *MockBindingRepository) Create(ctx context.Context, binding *models.PolicyBinding) error {
	args := m.Called(ctx, binding)
	return args.Error(0)
}

func (m *MockBindingRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.PolicyBinding, error) {
	args := m.Called(ctx, id)
	if binding := args.Get(0); binding != nil {
		return binding.(*models.PolicyBinding), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockBindingRepository) ListByPolicy(ctx context.Context, policyID uuid.UUID) ([]*models.PolicyBinding, error) {
	args := m.Called(ctx, policyID)
	if bindings := args.Get(0); bindings != nil {
		return bindings.([]*models.PolicyBinding), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockBindingRepository) ForScopes(ctx context.Context, refs []repositories.ScopeRef) ([]*models.PolicyBinding, error) {
	args := m.Called(ctx, refs)
	if bindings := args.Get(0); bindings != nil {
		return bindings.([]*models.PolicyBinding), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockBindingRepository) Delete(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockBindingRepository) WithTx(tx repositories.Transaction) repositories.BindingRepository {
	args := m.Called(tx)
	return args.Get(0).(repositories.BindingRepository)
}

type bindingFixture struct {
	policies *MockPolicyRepository
	bindings *MockBindingRepository
	cache    *pdp.BindingCache
	handler  *BindingHandler
	orgID    uuid.UUID
	policy   *models.Policy
}

func newBindingFixture(t *testing.T) *bindingFixture {
	policies := new(MockPolicyRepository)
	bindings := new(MockBindingRepository)
	cache := pdp.NewBindingCache(16, time.Minute)
	orgID := uuid.New()
	return &bindingFixture{
		policies: policies,
		bindings: bindings,
		cache:    cache,
		handler:  NewBindingHandler(policies, bindings, cache, testAuditService(t), zap.NewNop()),
		orgID:    orgID,
		policy:   models.NewPolicy(orgID, "pdf-access"),
	}
}

func (f *bindingFixture) request(t *testing.T, method, path string, body interface{}, params map[string]string) *http.Request {
	t.Helper()
	pf := &policyFixture{orgID: f.orgID}
	return pf.policyRequest(t, method, path, body, params)
}

func TestHandleCreateBinding(t *testing.T) {
	f := newBindingFixture(t)
	agentID := uuid.New()
	f.policies.On("GetByID", mock.Anything, f.policy.ID).Return(f.policy, nil)
	f.bindings.On("Create", mock.Anything, mock.MatchedBy(func(b *models.PolicyBinding) bool {
		return b.PolicyID == f.policy.ID && b.ScopeType == models.ScopeAgent && b.ScopeID == agentID.String() && b.Priority == 10
	})).Return(nil)

	// Prime the cache so successful creation observably clears it
	refs := []repositories.ScopeRef{{Type: models.ScopeOrg, ID: f.orgID.String()}}
	f.cache.Set(refs, []*models.PolicyBinding{})

	rec := httptest.NewRecorder()
	f.handler.HandleCreateBinding(rec, f.request(t, http.MethodPost,
		"/api/v1/policies/"+f.policy.ID.String()+"/bindings",
		CreateBindingRequest{ScopeType: models.ScopeAgent, ScopeID: agentID.String(), Priority: 10},
		map[string]string{"id": f.policy.ID.String()}))

	require.Equal(t, http.StatusCreated, rec.Code)
	f.bindings.AssertExpectations(t)

	_, ok := f.cache.Get(refs)
	assert.False(t, ok, "cached binding sets are dropped when a binding is added")
}

func TestHandleCreateBinding_RejectsUnknownScopeType(t *testing.T) {
	f := newBindingFixture(t)
	f.policies.On("GetByID", mock.Anything, f.policy.ID).Return(f.policy, nil)

	rec := httptest.NewRecorder()
	f.handler.HandleCreateBinding(rec, f.request(t, http.MethodPost,
		"/api/v1/policies/"+f.policy.ID.String()+"/bindings",
		CreateBindingRequest{ScopeType: models.ScopeType("galaxy"), ScopeID: "x"},
		map[string]string{"id": f.policy.ID.String()}))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	f.bindings.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestHandleCreateBinding_CrossOrgPolicy(t *testing.T) {
	f := newBindingFixture(t)
	foreign := models.NewPolicy(uuid.New(), "not-yours")
	f.policies.On("GetByID", mock.Anything, foreign.ID).Return(foreign, nil)

	rec := httptest.NewRecorder()
	f.handler.HandleCreateBinding(rec, f.request(t, http.MethodPost,
		"/api/v1/policies/"+foreign.ID.String()+"/bindings",
		CreateBindingRequest{ScopeType: models.ScopeOrg, ScopeID: f.orgID.String()},
		map[string]string{"id": foreign.ID.String()}))

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHandleListBindings(t *testing.T) {
	f := newBindingFixture(t)
	f.policies.On("GetByID", mock.Anything, f.policy.ID).Return(f.policy, nil)
	f.bindings.On("ListByPolicy", mock.Anything, f.policy.ID).Return([]*models.PolicyBinding{
		models.NewPolicyBinding(f.policy.ID, models.ScopeOrg, f.orgID.String(), 0),
		models.NewPolicyBinding(f.policy.ID, models.ScopeEnv, uuid.New().String(), 5),
	}, nil)

	rec := httptest.NewRecorder()
	f.handler.HandleListBindings(rec, f.request(t, http.MethodGet,
		"/api/v1/policies/"+f.policy.ID.String()+"/bindings", nil,
		map[string]string{"id": f.policy.ID.String()}))

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleDeleteBinding(t *testing.T) {
	f := newBindingFixture(t)
	binding := models.NewPolicyBinding(f.policy.ID, models.ScopeOrg, f.orgID.String(), 0)
	f.policies.On("GetByID", mock.Anything, f.policy.ID).Return(f.policy, nil)
	f.bindings.On("GetByID", mock.Anything, binding.ID).Return(binding, nil)
	f.bindings.On("Delete", mock.Anything, binding.ID).Return(nil)

	rec := httptest.NewRecorder()
	f.handler.HandleDeleteBinding(rec, f.request(t, http.MethodDelete,
		"/api/v1/policies/"+f.policy.ID.String()+"/bindings/"+binding.ID.String(), nil,
		map[string]string{"id": f.policy.ID.String(), "bindingID": binding.ID.String()}))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	f.bindings.AssertExpectations(t)
}

func TestHandleDeleteBinding_WrongPolicy(t *testing.T) {
	f := newBindingFixture(t)
	otherPolicy := models.NewPolicy(f.orgID, "other")
	binding := models.NewPolicyBinding(otherPolicy.ID, models.ScopeOrg, f.orgID.String(), 0)
	f.policies.On("GetByID", mock.Anything, f.policy.ID).Return(f.policy, nil)
	f.bindings.On("GetByID", mock.Anything, binding.ID).Return(binding, nil)

	rec := httptest.NewRecorder()
	f.handler.HandleDeleteBinding(rec, f.request(t, http.MethodDelete,
		"/api/v1/policies/"+f.policy.ID.String()+"/bindings/"+binding.ID.String(), nil,
		map[string]string{"id": f.policy.ID.String(), "bindingID": binding.ID.String()}))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	f.bindings.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
}
