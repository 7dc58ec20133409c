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

// PolicyRepository implements the repositories.PolicyRepository interface
type PolicyRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewPolicyRepository creates a new policy repository
func NewPolicyRepository(db *DB, logger *zap.Logger) repositories.PolicyRepository {
	return &PolicyRepository{
		db:     db,
		logger: logger,
	}
}

// Create creates a new policy
func (r *PolicyRepository) Create(ctx context.Context, policy *models.Policy) error {
	query := `
		INSERT INTO policies (id, org_id, env_id, name, description, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		policy.ID,
		policy.OrgID,
		policy.EnvID,
		policy.Name,
		policy.Description,
		policy.Active,
		policy.CreatedAt,
		policy.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create policy: %w", err)
	}

	r.logger.Debug("policy created", zap.String("id", policy.ID.String()))
	return nil
}

// GetByID retrieves a policy by ID
func (r *PolicyRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Policy, error) {
	query := `
		SELECT id, org_id, env_id, name, description, active, created_at, updated_at
		FROM policies
		WHERE id = $1
	`

	executor := GetExecutor(ctx, r.db)
	policy := &models.Policy{}

	err := executor.QueryRowContext(ctx, query, id).Scan(
		&policy.ID,
		&policy.OrgID,
		&policy.EnvID,
		&policy.Name,
		&policy.Description,
		&policy.Active,
		&policy.CreatedAt,
		&policy.UpdatedAt,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, services.ErrPolicyNotFound.Withf("%s", id)
		}
		return nil, fmt.Errorf("failed to get policy: %w", err)
	}

	return policy, nil
}

// ListByOrg retrieves all policies for an organization
func (r *PolicyRepository) ListByOrg(ctx context.Context, orgID uuid.UUID) ([]*models.Policy, error) {
	query := `
		SELECT id, org_id, env_id, name, description, active, created_at, updated_at
		FROM policies
		WHERE org_id = $1
		ORDER BY created_at DESC
	`

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list policies: %w", err)
	}
	defer rows.Close()

	policies := make([]*models.Policy, 0)
	for rows.Next() {
		policy := &models.Policy{}
		if err := rows.Scan(
			&policy.ID,
			&policy.OrgID,
			&policy.EnvID,
			&policy.Name,
			&policy.Description,
			&policy.Active,
			&policy.CreatedAt,
			&policy.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan policy: %w", err)
		}
		policies = append(policies, policy)
	}

	return policies, rows.Err()
}

// Update updates a policy's mutable fields
func (r *PolicyRepository) Update(ctx context.Context, policy *models.Policy) error {
	query := `
		UPDATE policies
		SET name = $2, description = $3, active = $4, updated_at = $5
		WHERE id = $1
	`

	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query,
		policy.ID,
		policy.Name,
		policy.Description,
		policy.Active,
		policy.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to update policy: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("policy not found: %s", policy.ID)
	}

	r.logger.Debug("policy updated", zap.String("id", policy.ID.String()))
	return nil
}

// Delete deletes a policy; rules and bindings cascade
func (r *PolicyRepository) Delete(ctx context.Context, id uuid.UUID) error {
	query := `DELETE FROM policies WHERE id = $1`

	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete policy: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("policy not found: %s", id)
	}

	r.logger.Debug("policy deleted", zap.String("id", id.String()))
	return nil
}

// CreateRule adds a rule to a policy
func (r *PolicyRepository) CreateRule(ctx context.Context, rule *models.PolicyRule) error {
	query := `
		INSERT INTO policy_rules (id, policy_id, action, target, effect, conditions, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		rule.ID,
		rule.PolicyID,
		rule.Action,
		rule.Target,
		rule.Effect,
		rule.Conditions,
		rule.CreatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create rule: %w", err)
	}

	r.logger.Debug("rule created",
		zap.String("id", rule.ID.String()),
		zap.String("policy_id", rule.PolicyID.String()))
	return nil
}

// ListRules retrieves all rules of a policy in creation order
func (r *PolicyRepository) ListRules(ctx context.Context, policyID uuid.UUID) ([]*models.PolicyRule, error) {
	query := `
		SELECT id, policy_id, action, target, effect, conditions, created_at
		FROM policy_rules
		WHERE policy_id = $1
		ORDER BY created_at ASC
	`

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, policyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	return scanRules(rows)
}

// DeleteRule removes a rule
func (r *PolicyRepository) DeleteRule(ctx context.Context, ruleID uuid.UUID) error {
	query := `DELETE FROM policy_rules WHERE id = $1`

	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query, ruleID)
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("rule not found: %s", ruleID)
	}

	return nil
}

// ActiveRules retrieves the rules of an active policy filtered by action and
// effect, in creation order. The join on policies.active guarantees rules of
// a deactivated policy stop matching immediately.
func (r *PolicyRepository) ActiveRules(ctx context.Context, policyID uuid.UUID, action string, effect models.RuleEffect) ([]*models.PolicyRule, error) {
	query := `
		SELECT pr.id, pr.policy_id, pr.action, pr.target, pr.effect, pr.conditions, pr.created_at
		FROM policy_rules pr
		JOIN policies p ON p.id = pr.policy_id
		WHERE pr.policy_id = $1 AND pr.action = $2 AND pr.effect = $3 AND p.active = TRUE
		ORDER BY pr.created_at ASC
	`

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, policyID, action, effect)
	if err != nil {
		return nil, fmt.Errorf("failed to query active rules: %w", err)
	}
	defer rows.Close()

	return scanRules(rows)
}

// WithTx returns a new repository instance bound to the transaction
func (r *PolicyRepository) WithTx(tx repositories.Transaction) repositories.PolicyRepository {
	return &PolicyRepository{
		db:     r.db,
		logger: r.logger,
	}
}

// scanRules scans rule rows into models
func scanRules(rows *sql.Rows) ([]*models.PolicyRule, error) {
	rules := make([]*models.PolicyRule, 0)
	for rows.Next() {
		rule := &models.PolicyRule{}
		if err := rows.Scan(
			&rule.ID,
			&rule.PolicyID,
			&rule.Action,
			&rule.Target,
			&rule.Effect,
			&rule.Conditions,
			&rule.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}
