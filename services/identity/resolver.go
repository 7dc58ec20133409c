// Package identity maps validated token claims to a concrete agent. The
// (subject, issuer) pair on the service-account registry is the only trusted
// mapping from a credential to an agent; the token's agent_id claim is used
// solely as a cross-check (session lock), never as the identity source.
package identity

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/alparn/agentxsuite-sub000/models"
	"github.com/alparn/agentxsuite-sub000/repositories"
	"github.com/alparn/agentxsuite-sub000/services"
	"github.com/alparn/agentxsuite-sub000/services/token"
)

// Resolver resolves validated claims to an enabled, tenant-checked agent.
// It performs store reads only; no writes.
type Resolver struct {
	accounts repositories.ServiceAccountRepository
	agents   repositories.AgentRepository
	logger   *zap.Logger
}

// NewResolver creates a new identity resolver
func NewResolver(accounts repositories.ServiceAccountRepository, agents repositories.AgentRepository, logger *zap.Logger) *Resolver {
	return &Resolver{
		accounts: accounts,
		agents:   agents,
		logger:   logger,
	}
}

// Resolve maps the claims to the agent owning the matching service account.
// orgID and envID are the tenant scope of the request being served; both the
// service account and the agent must belong to it.
func (r *Resolver) Resolve(ctx context.Context, claims *token.Claims, orgID, envID uuid.UUID) (*models.Agent, error) {
	if claims == nil || claims.Subject == "" || claims.Issuer == "" {
		return nil, services.ErrAgentNotFound.Withf("sub and iss claims are required")
	}

	matches, err := r.accounts.FindEnabledBySubjectIssuer(ctx, claims.Subject, claims.Issuer)
	if err != nil {
		return nil, services.ErrServiceUnavailable.Withf("service account lookup").WithCause(err)
	}

	switch len(matches) {
	case 1:
		// The unique trusted mapping.
	case 0:
		return nil, services.ErrAgentNotFound
	default:
		// Uniqueness is enforced by the schema; more than one enabled
		// match means the registry is misconfigured.
		r.logger.Error("multiple enabled service accounts for subject",
			zap.String("subject", claims.Subject),
			zap.String("issuer", claims.Issuer),
			zap.Int("count", len(matches)))
		return nil, services.ErrAgentNotFound.Withf("ambiguous service account")
	}

	account := matches[0]

	// A service account from tenant A must never satisfy a request scoped
	// to tenant B.
	if account.OrgID != orgID {
		return nil, services.ErrCrossTenantAccess
	}
	if !account.InEnv(envID) {
		return nil, services.ErrCrossTenantAccess
	}

	// The account's scope allowlist caps what its tokens may wield. A
	// token carrying any scope outside the allowlist is rejected whole;
	// an empty allowlist imposes no cap.
	for _, scope := range claims.Scope {
		if !account.AllowsScope(scope) {
			r.logger.Warn("token scope outside service account allowlist",
				zap.String("subject", claims.Subject),
				zap.String("scope", scope))
			return nil, services.ErrInsufficientScope.Withf("scope %q not permitted for this service account", scope)
		}
	}

	agent, err := r.agents.GetByServiceAccount(ctx, account.ID)
	if err != nil {
		return nil, services.ErrAgentNotFound.WithCause(err)
	}

	if !agent.Enabled {
		return nil, services.ErrAgentNotFound.Withf("agent disabled")
	}
	if agent.OrgID != orgID || !agent.InEnv(envID) {
		return nil, services.ErrCrossTenantAccess
	}

	// Session lock: when the token names an agent, it must be the one the
	// registry resolved, byte for byte. This is the only legitimate use
	// of the agent_id claim.
	if claims.AgentID != "" && claims.AgentID != agent.ID.String() {
		r.logger.Warn("agent session mismatch",
			zap.String("resolved_agent_id", agent.ID.String()),
			zap.String("claimed_agent_id", claims.AgentID))
		return nil, services.ErrAgentSessionMismatch
	}

	return agent, nil
}
