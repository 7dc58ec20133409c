package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/alparn/agentxsuite-sub000/models"
	"github.com/alparn/agentxsuite-sub000/repositories"
	"github.com/alparn/agentxsuite-sub000/services"
)

// AgentRepository implements the repositories.AgentRepository interface
type AgentRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewAgentRepository creates a new agent repository
func NewAgentRepository(db *DB, logger *zap.Logger) repositories.AgentRepository {
	return &AgentRepository{
		db:     db,
		logger: logger,
	}
}

const agentColumns = `id, org_id, env_id, service_account_id, name, enabled, tags, max_delegation_depth, budget_cents, ttl_seconds, created_at, updated_at`

// Create creates a new agent
func (r *AgentRepository) Create(ctx context.Context, agent *models.Agent) error {
	query := `
		INSERT INTO agents (` + agentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		agent.ID,
		agent.OrgID,
		agent.EnvID,
		agent.ServiceAccountID,
		agent.Name,
		agent.Enabled,
		agent.Tags,
		agent.MaxDelegationDepth,
		agent.BudgetCents,
		agent.TTLSeconds,
		agent.CreatedAt,
		agent.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create agent: %w", err)
	}

	r.logger.Debug("agent created", zap.String("id", agent.ID.String()))
	return nil
}

// GetByID retrieves an agent by ID
func (r *AgentRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents WHERE id = $1`

	executor := GetExecutor(ctx, r.db)
	return r.scanAgent(executor.QueryRowContext(ctx, query, id), id.String())
}

// GetByServiceAccount retrieves the agent owning a service account
func (r *AgentRepository) GetByServiceAccount(ctx context.Context, accountID uuid.UUID) (*models.Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents WHERE service_account_id = $1`

	executor := GetExecutor(ctx, r.db)
	return r.scanAgent(executor.QueryRowContext(ctx, query, accountID), accountID.String())
}

// ListByOrg retrieves all agents for an organization
func (r *AgentRepository) ListByOrg(ctx context.Context, orgID uuid.UUID) ([]*models.Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents WHERE org_id = $1 ORDER BY created_at DESC`

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}
	defer rows.Close()

	agents := make([]*models.Agent, 0)
	for rows.Next() {
		agent := &models.Agent{}
		if err := rows.Scan(
			&agent.ID,
			&agent.OrgID,
			&agent.EnvID,
			&agent.ServiceAccountID,
			&agent.Name,
			&agent.Enabled,
			&agent.Tags,
			&agent.MaxDelegationDepth,
			&agent.BudgetCents,
			&agent.TTLSeconds,
			&agent.CreatedAt,
			&agent.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan agent: %w", err)
		}
		agents = append(agents, agent)
	}

	return agents, rows.Err()
}

// Update updates an agent
func (r *AgentRepository) Update(ctx context.Context, agent *models.Agent) error {
	query := `
		UPDATE agents
		SET name = $2, enabled = $3, tags = $4, max_delegation_depth = $5,
		    budget_cents = $6, ttl_seconds = $7, service_account_id = $8, updated_at = $9
		WHERE id = $1
	`

	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query,
		agent.ID,
		agent.Name,
		agent.Enabled,
		agent.Tags,
		agent.MaxDelegationDepth,
		agent.BudgetCents,
		agent.TTLSeconds,
		agent.ServiceAccountID,
		agent.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to update agent: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("agent not found: %s", agent.ID)
	}

	return nil
}

// Delete deletes an agent
func (r *AgentRepository) Delete(ctx context.Context, id uuid.UUID) error {
	query := `DELETE FROM agents WHERE id = $1`

	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete agent: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("agent not found: %s", id)
	}

	return nil
}

// WithTx returns a new repository instance bound to the transaction
func (r *AgentRepository) WithTx(tx repositories.Transaction) repositories.AgentRepository {
	return &AgentRepository{
		db:     r.db,
		logger: r.logger,
	}
}

// scanAgent scans a single agent row
func (r *AgentRepository) scanAgent(row *sql.Row, ref string) (*models.Agent, error) {
	agent := &models.Agent{}
	err := row.Scan(
		&agent.ID,
		&agent.OrgID,
		&agent.EnvID,
		&agent.ServiceAccountID,
		&agent.Name,
		&agent.Enabled,
		&agent.Tags,
		&agent.MaxDelegationDepth,
		&agent.BudgetCents,
		&agent.TTLSeconds,
		&agent.CreatedAt,
		&agent.UpdatedAt,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, services.ErrAgentNotFound.Withf("%s", ref)
		}
		return nil, fmt.Errorf("failed to get agent: %w", err)
	}

	return agent, nil
}
