package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/alparn/agentxsuite-sub000/models"
	"github.com/alparn/agentxsuite-sub000/repositories"
	"github.com/alparn/agentxsuite-sub000/services"
)

// BindingRepository implements the repositories.BindingRepository interface
type BindingRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewBindingRepository creates a new binding repository
func NewBindingRepository(db *DB, logger *zap.Logger) repositories.BindingRepository {
	return &BindingRepository{
		db:     db,
		logger: logger,
	}
}

// Create creates a new binding
func (r *BindingRepository) Create(ctx context.Context, binding *models.PolicyBinding) error {
	query := `
		INSERT INTO policy_bindings (id, policy_id, scope_type, scope_id, priority, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		binding.ID,
		binding.PolicyID,
		binding.ScopeType,
		binding.ScopeID,
		binding.Priority,
		binding.CreatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create binding: %w", err)
	}

	r.logger.Debug("binding created",
		zap.String("id", binding.ID.String()),
		zap.String("scope_type", string(binding.ScopeType)),
		zap.String("scope_id", binding.ScopeID))
	return nil
}

// GetByID retrieves a binding by ID
func (r *BindingRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.PolicyBinding, error) {
	query := `
		SELECT id, policy_id, scope_type, scope_id, priority, created_at
		FROM policy_bindings
		WHERE id = $1
	`

	executor := GetExecutor(ctx, r.db)
	binding := &models.PolicyBinding{}

	err := executor.QueryRowContext(ctx, query, id).Scan(
		&binding.ID,
		&binding.PolicyID,
		&binding.ScopeType,
		&binding.ScopeID,
		&binding.Priority,
		&binding.CreatedAt,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, services.ErrBindingNotFound.Withf("%s", id)
		}
		return nil, fmt.Errorf("failed to get binding: %w", err)
	}

	return binding, nil
}

// ListByPolicy retrieves all bindings referencing a policy
func (r *BindingRepository) ListByPolicy(ctx context.Context, policyID uuid.UUID) ([]*models.PolicyBinding, error) {
	query := `
		SELECT id, policy_id, scope_type, scope_id, priority, created_at
		FROM policy_bindings
		WHERE policy_id = $1
		ORDER BY priority ASC, created_at ASC
	`

	return r.queryBindings(ctx, query, policyID)
}

// ForScopes retrieves all bindings whose (scope_type, scope_id) pair matches
// one of the supplied references, ordered by ascending priority
func (r *BindingRepository) ForScopes(ctx context.Context, refs []repositories.ScopeRef) ([]*models.PolicyBinding, error) {
	if len(refs) == 0 {
		return []*models.PolicyBinding{}, nil
	}

	// Build one (scope_type, scope_id) IN (...) clause per reference
	placeholders := make([]string, 0, len(refs))
	args := make([]interface{}, 0, len(refs)*2)
	for i, ref := range refs {
		placeholders = append(placeholders, fmt.Sprintf("($%d, $%d)", i*2+1, i*2+2))
		args = append(args, ref.Type, ref.ID)
	}

	query := fmt.Sprintf(`
		SELECT id, policy_id, scope_type, scope_id, priority, created_at
		FROM policy_bindings
		WHERE (scope_type, scope_id) IN (%s)
		ORDER BY priority ASC, created_at ASC
	`, strings.Join(placeholders, ", "))

	return r.queryBindings(ctx, query, args...)
}

// Delete removes a binding
func (r *BindingRepository) Delete(ctx context.Context, id uuid.UUID) error {
	query := `DELETE FROM policy_bindings WHERE id = $1`

	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete binding: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("binding not found: %s", id)
	}

	r.logger.Debug("binding deleted", zap.String("id", id.String()))
	return nil
}

// WithTx returns a new repository instance bound to the transaction
func (r *BindingRepository) WithTx(tx repositories.Transaction) repositories.BindingRepository {
	return &BindingRepository{
		db:     r.db,
		logger: r.logger,
	}
}

// queryBindings is a helper method to query multiple bindings
func (r *BindingRepository) queryBindings(ctx context.Context, query string, args ...interface{}) ([]*models.PolicyBinding, error) {
	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query bindings: %w", err)
	}
	defer rows.Close()

	bindings := make([]*models.PolicyBinding, 0)
	for rows.Next() {
		binding := &models.PolicyBinding{}
		if err := rows.Scan(
			&binding.ID,
			&binding.PolicyID,
			&binding.ScopeType,
			&binding.ScopeID,
			&binding.Priority,
			&binding.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan binding: %w", err)
		}
		bindings = append(bindings, binding)
	}

	return bindings, rows.Err()
}
