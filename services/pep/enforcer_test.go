package pep

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/alparn/agentxsuite-sub000/models"
	"github.com/alparn/agentxsuite-sub000/repositories"
	"github.com/alparn/agentxsuite-sub000/services"
	"github.com/alparn/agentxsuite-sub000/services/pdp"
)

// MockAgentRepository is a mock implementation of AgentRepository
type MockAgentRepository struct {
	mock.Mock
}

func (m *MockAgentRepository) Create(ctx context.Context, agent *models.Agent) error {
	args := m.Called(ctx, agent)
	return args.Error(0)
}

func (m *MockAgentRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Agent, error) {
	args := m.Called(ctx, id)
	if agent := args.Get(0); agent != nil {
		return agent.(*models.Agent), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockAgentRepository) GetByServiceAccount(ctx context.Context, accountID uuid.UUID) (*models.Agent, error) {
	args := m.Called(ctx, accountID)
	if agent := args.Get(0); agent != nil {
		return agent.(*models.Agent), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockAgentRepository) ListByOrg(ctx context.Context, orgID uuid.UUID) ([]*models.Agent, error) {
	args := m.Called(ctx, orgID)
	if agents := args.Get(0); agents != nil {
		return agents.([]*models.Agent), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockAgentRepository) Update(ctx context.Context, agent *models.Agent) error {
	args := m.Called(ctx, agent)
	return args.Error(0)
}

func (m *MockAgentRepository) Delete(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockAgentRepository) WithTx(tx repositories.Transaction) repositories.AgentRepository {
	args := m.Called(tx)
	return args.Get(0).(repositories.AgentRepository)
}

// MockServiceAccountRepository is a mock implementation of ServiceAccountRepository
type MockServiceAccountRepository struct {
	mock.Mock
}

func (m *MockServiceAccountRepository) Create(ctx context.Context, account *models.ServiceAccount) error {
	args := m.Called(ctx, account)
	return args.Error(0)
}

func (m *MockServiceAccountRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.ServiceAccount, error) {
	args := m.Called(ctx, id)
	if account := args.Get(0); account != nil {
		return account.(*models.ServiceAccount), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockServiceAccountRepository) FindEnabledBySubjectIssuer(ctx context.Context, subject, issuer string) ([]*models.ServiceAccount, error) {
	args := m.Called(ctx, subject, issuer)
	if accounts := args.Get(0); accounts != nil {
		return accounts.([]*models.ServiceAccount), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockServiceAccountRepository) Update(ctx context.Context, account *models.ServiceAccount) error {
	args := m.Called(ctx, account)
	return args.Error(0)
}

func (m *MockServiceAccountRepository) Delete(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockServiceAccountRepository) WithTx(tx repositories.Transaction) repositories.ServiceAccountRepository {
	args := m.Called(tx)
	return args.Get(0).(repositories.ServiceAccountRepository)
}

// MockPolicyRepository is a mock implementation of PolicyRepository
type MockPolicyRepository struct {
	mock.Mock
}

func (m *MockPolicyRepository) Create(ctx context.Context, policy *models.Policy) error {
	args := m.Called(ctx, policy)
	return args.Error(0)
}

func (m *MockPolicyRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Policy, error) {
	args := m.Called(ctx, id)
	if policy := args.Get(0); policy != nil {
		return policy.(*models.Policy), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockPolicyRepository) ListByOrg(ctx context.Context, orgID uuid.UUID) ([]*models.Policy, error) {
	args := m.Called(ctx, orgID)
	if policies := args.Get(0); policies != nil {
		return policies.([]*models.Policy), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockPolicyRepository) Update(ctx context.Context, policy *models.Policy) error {
	args := m.Called(ctx, policy)
	return args.Error(0)
}

func (m *MockPolicyRepository) Delete(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockPolicyRepository) CreateRule(ctx context.Context, rule *models.PolicyRule) error {
	args := m.Called(ctx, rule)
	return args.Error(0)
}

func (m *MockPolicyRepository) ListRules(ctx context.Context, policyID uuid.UUID) ([]*models.PolicyRule, error) {
	args := m.Called(ctx, policyID)
	if rules := args.Get(0); rules != nil {
		return rules.([]*models.PolicyRule), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockPolicyRepository) DeleteRule(ctx context.Context, ruleID uuid.UUID) error {
	args := m.Called(ctx, ruleID)
	return args.Error(0)
}

func (m *MockPolicyRepository) ActiveRules(ctx context.Context, policyID uuid.UUID, action string, effect models.RuleEffect) ([]*models.PolicyRule, error) {
	args := m.Called(ctx, policyID, action, effect)
	if rules := args.Get(0); rules != nil {
		return rules.([]*models.PolicyRule), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockPolicyRepository) WithTx(tx repositories.Transaction) repositories.PolicyRepository {
	args := m.Called(tx)
	return args.Get(0).(repositories.PolicyRepository)
}

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

// capturingRecorder collects audit records written by the enforcer
type capturingRecorder struct {
	mu   sync.Mutex
	logs []*models.AuditLog
	err  error
}

func (r *capturingRecorder) Record(ctx context.Context, log *models.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs = append(r.logs, log)
	return r.err
}

func (r *capturingRecorder) records() []*models.AuditLog {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*models.AuditLog(nil), r.logs...)
}

type enforcerFixture struct {
	agents   *MockAgentRepository
	accounts *MockServiceAccountRepository
	policies *MockPolicyRepository
	bindings *MockBindingRepository
	recorder *capturingRecorder
	enforcer *Enforcer
	orgID    uuid.UUID
	agent    *models.Agent
}

func newEnforcerFixture() *enforcerFixture {
	agents := new(MockAgentRepository)
	accounts := new(MockServiceAccountRepository)
	policies := new(MockPolicyRepository)
	bindings := new(MockBindingRepository)
	recorder := &capturingRecorder{}

	evaluator := pdp.NewEvaluator(policies, bindings, nil, zap.NewNop())

	orgID := uuid.New()
	agent := models.NewAgent(orgID, "worker")
	agent.MaxDelegationDepth = 2

	return &enforcerFixture{
		agents:   agents,
		accounts: accounts,
		policies: policies,
		bindings: bindings,
		recorder: recorder,
		enforcer: NewEnforcer(agents, accounts, evaluator, recorder, zap.NewNop()),
		orgID:    orgID,
		agent:    agent,
	}
}

// allowEverything wires the policy mocks so any tool.invoke on the org
// scope is allowed
func (f *enforcerFixture) allowEverything(action string) {
	policyID := uuid.New()
	allowRule := models.NewPolicyRule(policyID, action, "*", models.EffectAllow)

	f.bindings.On("ForScopes", mock.Anything, mock.Anything).Return([]*models.PolicyBinding{
		models.NewPolicyBinding(policyID, models.ScopeOrg, f.orgID.String(), 0),
	}, nil)
	f.policies.On("ActiveRules", mock.Anything, policyID, action, models.EffectDeny).Return([]*models.PolicyRule{}, nil)
	f.policies.On("ActiveRules", mock.Anything, policyID, action, models.EffectAllow).Return([]*models.PolicyRule{allowRule}, nil)
}

func TestCheckToolCall_Allow(t *testing.T) {
	f := newEnforcerFixture()
	f.agents.On("GetByID", mock.Anything, f.agent.ID).Return(f.agent, nil)
	f.allowEverything("tool.invoke")

	result, err := f.enforcer.CheckToolCall(context.Background(), ToolCallRequest{
		AgentID:   f.agent.ID,
		OrgID:     f.orgID,
		Tool:      "search",
		Subject:   "svc-worker-1",
		JTI:       "jti-1",
		ClientIP:  "10.0.0.1",
		RequestID: "req-1",
	})

	require.NoError(t, err)
	assert.True(t, result.Allowed)
	require.NotNil(t, result.RuleID)

	records := f.recorder.records()
	require.Len(t, records, 1)
	record := records[0]
	assert.Equal(t, models.AuditActionToolInvoke, record.Action)
	assert.Equal(t, "tool:search", record.Target)
	assert.Equal(t, "allow", record.Decision)
	assert.Equal(t, f.orgID, record.OrgID)
	require.NotNil(t, record.AgentID)
	assert.Equal(t, f.agent.ID, *record.AgentID)
	assert.Equal(t, "jti-1", record.JTI)
	assert.Equal(t, "10.0.0.1", record.ClientIP)
	assert.Equal(t, "req-1", record.RequestID)
}

func TestCheckToolCall_AgentGate(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(f *enforcerFixture) uuid.UUID
		reason string
	}{
		{
			name: "agent not found",
			setup: func(f *enforcerFixture) uuid.UUID {
				missing := uuid.New()
				f.agents.On("GetByID", mock.Anything, missing).Return(nil, services.ErrAgentNotFound)
				return missing
			},
			reason: "agent not found",
		},
		{
			name: "agent disabled",
			setup: func(f *enforcerFixture) uuid.UUID {
				f.agent.Enabled = false
				f.agents.On("GetByID", mock.Anything, f.agent.ID).Return(f.agent, nil)
				return f.agent.ID
			},
			reason: "agent disabled",
		},
		{
			name: "agent from another org",
			setup: func(f *enforcerFixture) uuid.UUID {
				f.agent.OrgID = uuid.New()
				f.agents.On("GetByID", mock.Anything, f.agent.ID).Return(f.agent, nil)
				return f.agent.ID
			},
			reason: "agent belongs to another organization",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newEnforcerFixture()
			agentID := tt.setup(f)

			result, err := f.enforcer.CheckToolCall(context.Background(), ToolCallRequest{
				AgentID: agentID,
				OrgID:   f.orgID,
				Tool:    "search",
			})

			require.NoError(t, err)
			assert.False(t, result.Allowed)
			assert.Equal(t, tt.reason, result.Reason)

			// Even early denies produce exactly one audit record
			records := f.recorder.records()
			require.Len(t, records, 1)
			assert.Equal(t, "deny", records[0].Decision)

			// The evaluator is never consulted
			f.bindings.AssertNotCalled(t, "ForScopes", mock.Anything, mock.Anything)
		})
	}
}

func TestCheckToolCall_AgentLookupFailureFailsClosed(t *testing.T) {
	f := newEnforcerFixture()
	f.agents.On("GetByID", mock.Anything, f.agent.ID).Return(nil, assert.AnError)

	result, err := f.enforcer.CheckToolCall(context.Background(), ToolCallRequest{
		AgentID: f.agent.ID,
		OrgID:   f.orgID,
		Tool:    "search",
	})

	// The deny is still recorded, and the error marks the dependency
	// failure so the transport answers 503 rather than a policy deny.
	require.Error(t, err)
	assert.ErrorIs(t, err, services.ErrServiceUnavailable)
	assert.False(t, result.Allowed)
	assert.Equal(t, "agent lookup unavailable", result.Reason)

	records := f.recorder.records()
	require.Len(t, records, 1)
	assert.Equal(t, "deny", records[0].Decision)
	f.bindings.AssertNotCalled(t, "ForScopes", mock.Anything, mock.Anything)
}

func TestCheckToolCall_EnvMismatch(t *testing.T) {
	f := newEnforcerFixture()
	pinnedEnv := uuid.New()
	f.agent.EnvID = &pinnedEnv
	f.agents.On("GetByID", mock.Anything, f.agent.ID).Return(f.agent, nil)

	otherEnv := uuid.New()
	result, err := f.enforcer.CheckToolCall(context.Background(), ToolCallRequest{
		AgentID: f.agent.ID,
		OrgID:   f.orgID,
		EnvID:   &otherEnv,
		Tool:    "search",
	})

	require.NoError(t, err)
	assert.False(t, result.Allowed)
	assert.Equal(t, "agent not available in environment", result.Reason)
	require.Len(t, f.recorder.records(), 1)
}

func TestCheckToolCall_EvaluatorFailureFailsClosed(t *testing.T) {
	f := newEnforcerFixture()
	f.agents.On("GetByID", mock.Anything, f.agent.ID).Return(f.agent, nil)
	f.bindings.On("ForScopes", mock.Anything, mock.Anything).Return(nil, assert.AnError)

	result, err := f.enforcer.CheckToolCall(context.Background(), ToolCallRequest{
		AgentID: f.agent.ID,
		OrgID:   f.orgID,
		Tool:    "search",
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, services.ErrServiceUnavailable)
	assert.False(t, result.Allowed)

	records := f.recorder.records()
	require.Len(t, records, 1)
	assert.Equal(t, "deny", records[0].Decision)
}

func TestCheckToolCall_AuditFailureDoesNotChangeDecision(t *testing.T) {
	f := newEnforcerFixture()
	f.recorder.err = assert.AnError
	f.agents.On("GetByID", mock.Anything, f.agent.ID).Return(f.agent, nil)
	f.allowEverything("tool.invoke")

	result, err := f.enforcer.CheckToolCall(context.Background(), ToolCallRequest{
		AgentID: f.agent.ID,
		OrgID:   f.orgID,
		Tool:    "search",
	})

	require.NoError(t, err)
	assert.True(t, result.Allowed)
	require.Len(t, f.recorder.records(), 1)
}

func TestCheckToolCall_ServerContextWins(t *testing.T) {
	f := newEnforcerFixture()
	f.agent.Tags = []string{"trusted"}
	f.agents.On("GetByID", mock.Anything, f.agent.ID).Return(f.agent, nil)

	policyID := uuid.New()
	conditional := models.NewPolicyRule(policyID, "tool.invoke", "*", models.EffectAllow)
	conditional.Conditions = []byte(`{"tags": ["trusted"]}`)

	f.bindings.On("ForScopes", mock.Anything, mock.Anything).Return([]*models.PolicyBinding{
		models.NewPolicyBinding(policyID, models.ScopeOrg, f.orgID.String(), 0),
	}, nil)
	f.policies.On("ActiveRules", mock.Anything, policyID, "tool.invoke", models.EffectDeny).Return([]*models.PolicyRule{}, nil)
	f.policies.On("ActiveRules", mock.Anything, policyID, "tool.invoke", models.EffectAllow).Return([]*models.PolicyRule{conditional}, nil)

	// The caller claims no tags; the registry-derived tags satisfy the
	// condition because server-derived values overwrite caller input.
	result, err := f.enforcer.CheckToolCall(context.Background(), ToolCallRequest{
		AgentID: f.agent.ID,
		OrgID:   f.orgID,
		Tool:    "search",
		Context: map[string]interface{}{"tags": []string{}},
	})

	require.NoError(t, err)
	assert.True(t, result.Allowed)
}

func TestCheckAgentCall_Allow(t *testing.T) {
	f := newEnforcerFixture()
	target := models.NewAgent(f.orgID, "target")
	target.MaxDelegationDepth = 3
	f.agents.On("GetByID", mock.Anything, f.agent.ID).Return(f.agent, nil)
	f.agents.On("GetByID", mock.Anything, target.ID).Return(target, nil)
	f.allowEverything("agent.invoke")

	result, err := f.enforcer.CheckAgentCall(context.Background(), AgentCallRequest{
		CallerAgentID: f.agent.ID,
		TargetAgentID: target.ID,
		OrgID:         f.orgID,
		Context:       map[string]interface{}{"depth": 1},
	})

	require.NoError(t, err)
	assert.True(t, result.Allowed)

	records := f.recorder.records()
	require.Len(t, records, 1)
	assert.Equal(t, models.AuditActionAgentInvoke, records[0].Action)
	assert.Equal(t, "agent:"+target.ID.String(), records[0].Target)
}

func TestCheckAgentCall_DelegationBounds(t *testing.T) {
	tests := []struct {
		name    string
		context map[string]interface{}
		reason  string
	}{
		{
			name:    "depth exceeds target maximum",
			context: map[string]interface{}{"depth": 4},
			reason:  "delegation depth exceeds target agent maximum",
		},
		{
			name:    "budget exhausted",
			context: map[string]interface{}{"budget_left_cents": -1},
			reason:  "delegation budget exhausted",
		},
		{
			name:    "ttl expired",
			context: map[string]interface{}{"ttl_valid": false},
			reason:  "delegation ttl expired",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newEnforcerFixture()
			target := models.NewAgent(f.orgID, "target")
			target.MaxDelegationDepth = 3
			f.agents.On("GetByID", mock.Anything, f.agent.ID).Return(f.agent, nil)
			f.agents.On("GetByID", mock.Anything, target.ID).Return(target, nil)

			result, err := f.enforcer.CheckAgentCall(context.Background(), AgentCallRequest{
				CallerAgentID: f.agent.ID,
				TargetAgentID: target.ID,
				OrgID:         f.orgID,
				Context:       tt.context,
			})

			require.NoError(t, err)
			assert.False(t, result.Allowed)
			assert.Equal(t, tt.reason, result.Reason)

			// Denied before the evaluator, still audited exactly once
			f.bindings.AssertNotCalled(t, "ForScopes", mock.Anything, mock.Anything)
			require.Len(t, f.recorder.records(), 1)
		})
	}
}

func TestCheckAgentCall_DepthAtBoundAllowed(t *testing.T) {
	f := newEnforcerFixture()
	target := models.NewAgent(f.orgID, "target")
	target.MaxDelegationDepth = 2
	f.agents.On("GetByID", mock.Anything, f.agent.ID).Return(f.agent, nil)
	f.agents.On("GetByID", mock.Anything, target.ID).Return(target, nil)
	f.allowEverything("agent.invoke")

	result, err := f.enforcer.CheckAgentCall(context.Background(), AgentCallRequest{
		CallerAgentID: f.agent.ID,
		TargetAgentID: target.ID,
		OrgID:         f.orgID,
		Context:       map[string]interface{}{"depth": 2},
	})

	require.NoError(t, err)
	assert.True(t, result.Allowed)
}

func TestCheckAgentCall_TargetGate(t *testing.T) {
	f := newEnforcerFixture()
	missing := uuid.New()
	f.agents.On("GetByID", mock.Anything, f.agent.ID).Return(f.agent, nil)
	f.agents.On("GetByID", mock.Anything, missing).Return(nil, services.ErrAgentNotFound)

	result, err := f.enforcer.CheckAgentCall(context.Background(), AgentCallRequest{
		CallerAgentID: f.agent.ID,
		TargetAgentID: missing,
		OrgID:         f.orgID,
	})

	require.NoError(t, err)
	assert.False(t, result.Allowed)
	assert.Equal(t, "target agent not found", result.Reason)
	require.Len(t, f.recorder.records(), 1)
}

func TestCheckToolCall_DerivesSubjectFromServiceAccount(t *testing.T) {
	f := newEnforcerFixture()
	account := models.NewServiceAccount(f.orgID, "svc-worker-1", "https://issuer.example.com", "aud")
	f.agent.ServiceAccountID = &account.ID
	f.agents.On("GetByID", mock.Anything, f.agent.ID).Return(f.agent, nil)
	f.accounts.On("GetByID", mock.Anything, account.ID).Return(account, nil)
	f.allowEverything("tool.invoke")

	_, err := f.enforcer.CheckToolCall(context.Background(), ToolCallRequest{
		AgentID: f.agent.ID,
		OrgID:   f.orgID,
		Tool:    "search",
	})

	require.NoError(t, err)
	f.accounts.AssertCalled(t, "GetByID", mock.Anything, account.ID)
}
