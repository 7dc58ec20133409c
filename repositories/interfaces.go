package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/alparn/agentxsuite-sub000/models"
)

// TransactionManager manages database transactions
type TransactionManager interface {
	// Begin starts a new transaction
	Begin(ctx context.Context) (Transaction, error)

	// InTransaction executes a function within a transaction
	// Automatically commits if function succeeds, rolls back on error
	InTransaction(ctx context.Context, fn func(ctx context.Context, tx Transaction) error) error
}

// Transaction represents a database transaction
type Transaction interface {
	// Commit commits the transaction
	Commit() error

	// Rollback rolls back the transaction
	Rollback() error

	// Context returns the transaction context
	Context() context.Context
}

// ScopeRef identifies one scope a binding may be attached to
type ScopeRef struct {
	Type models.ScopeType
	ID   string
}

// PolicyRepository handles policy and rule data operations. The decision
// engine only uses the read methods; writes exist for the operator API.
type PolicyRepository interface {
	// Create creates a new policy
	Create(ctx context.Context, policy *models.Policy) error

	// GetByID retrieves a policy by ID
	GetByID(ctx context.Context, id uuid.UUID) (*models.Policy, error)

	// ListByOrg retrieves all policies for an organization
	ListByOrg(ctx context.Context, orgID uuid.UUID) ([]*models.Policy, error)

	// Update updates a policy's mutable fields (name, description, active)
	Update(ctx context.Context, policy *models.Policy) error

	// Delete deletes a policy along with its rules and bindings
	Delete(ctx context.Context, id uuid.UUID) error

	// CreateRule adds a rule to a policy
	CreateRule(ctx context.Context, rule *models.PolicyRule) error

	// ListRules retrieves all rules of a policy in creation order
	ListRules(ctx context.Context, policyID uuid.UUID) ([]*models.PolicyRule, error)

	// DeleteRule removes a rule
	DeleteRule(ctx context.Context, ruleID uuid.UUID) error

	// ActiveRules retrieves the rules of an active policy filtered by
	// action and effect, in creation order. Rules of inactive policies
	// are never returned.
	ActiveRules(ctx context.Context, policyID uuid.UUID, action string, effect models.RuleEffect) ([]*models.PolicyRule, error)

	// WithTx returns a new repository instance bound to the transaction
	WithTx(tx Transaction) PolicyRepository
}

// BindingRepository handles policy binding data operations
type BindingRepository interface {
	// Create creates a new binding
	Create(ctx context.Context, binding *models.PolicyBinding) error

	// GetByID retrieves a binding by ID
	GetByID(ctx context.Context, id uuid.UUID) (*models.PolicyBinding, error)

	// ListByPolicy retrieves all bindings referencing a policy
	ListByPolicy(ctx context.Context, policyID uuid.UUID) ([]*models.PolicyBinding, error)

	// ForScopes retrieves all bindings whose (scope_type, scope_id) pair
	// matches one of the supplied references, ordered by ascending priority
	ForScopes(ctx context.Context, refs []ScopeRef) ([]*models.PolicyBinding, error)

	// Delete removes a binding
	Delete(ctx context.Context, id uuid.UUID) error

	// WithTx returns a new repository instance bound to the transaction
	WithTx(tx Transaction) BindingRepository
}

// ServiceAccountRepository handles service account data operations
type ServiceAccountRepository interface {
	// Create creates a new service account
	Create(ctx context.Context, account *models.ServiceAccount) error

	// GetByID retrieves a service account by ID
	GetByID(ctx context.Context, id uuid.UUID) (*models.ServiceAccount, error)

	// FindEnabledBySubjectIssuer retrieves every enabled service account
	// matching the (subject, issuer) pair. More than one result is a
	// configuration error the caller must reject.
	FindEnabledBySubjectIssuer(ctx context.Context, subject, issuer string) ([]*models.ServiceAccount, error)

	// Update updates a service account
	Update(ctx context.Context, account *models.ServiceAccount) error

	// Delete deletes a service account
	Delete(ctx context.Context, id uuid.UUID) error

	// WithTx returns a new repository instance bound to the transaction
	WithTx(tx Transaction) ServiceAccountRepository
}

// AgentRepository handles agent data operations
type AgentRepository interface {
	// Create creates a new agent
	Create(ctx context.Context, agent *models.Agent) error

	// GetByID retrieves an agent by ID
	GetByID(ctx context.Context, id uuid.UUID) (*models.Agent, error)

	// GetByServiceAccount retrieves the agent owning a service account
	GetByServiceAccount(ctx context.Context, accountID uuid.UUID) (*models.Agent, error)

	// ListByOrg retrieves all agents for an organization
	ListByOrg(ctx context.Context, orgID uuid.UUID) ([]*models.Agent, error)

	// Update updates an agent
	Update(ctx context.Context, agent *models.Agent) error

	// Delete deletes an agent
	Delete(ctx context.Context, id uuid.UUID) error

	// WithTx returns a new repository instance bound to the transaction
	WithTx(tx Transaction) AgentRepository
}

// AuditRepository handles audit log data operations
type AuditRepository interface {
	// Insert inserts a new audit log entry
	Insert(ctx context.Context, log *models.AuditLog) error

	// GetByID retrieves an audit log by ID
	GetByID(ctx context.Context, id uuid.UUID) (*models.AuditLog, error)

	// ListByOrg retrieves audit logs for an organization with pagination
	ListByOrg(ctx context.Context, orgID uuid.UUID, limit, offset int) ([]*models.AuditLog, error)

	// ListByAgent retrieves audit logs for an agent with pagination
	ListByAgent(ctx context.Context, agentID uuid.UUID, limit, offset int) ([]*models.AuditLog, error)

	// ListByDateRange retrieves audit logs within a date range
	ListByDateRange(ctx context.Context, orgID uuid.UUID, start, end time.Time, limit, offset int) ([]*models.AuditLog, error)

	// GetByRequestID retrieves audit logs by request ID
	GetByRequestID(ctx context.Context, requestID string) ([]*models.AuditLog, error)

	// WithTx returns a new repository instance bound to the transaction
	WithTx(tx Transaction) AuditRepository
}

// Repositories aggregates all repository interfaces
type Repositories struct {
	Policies        PolicyRepository
	Bindings        BindingRepository
	ServiceAccounts ServiceAccountRepository
	Agents          AgentRepository
	AuditLogs       AuditRepository
}
