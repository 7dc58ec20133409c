package middleware

import (
	"context"

	"github.com/google/uuid"

	"github.com/alparn/agentxsuite-sub000/models"
	"github.com/alparn/agentxsuite-sub000/services/token"
)

// Context key type to avoid collisions
type contextKey string

const (
	// RequestIDKey is the context key for request ID
	RequestIDKey contextKey = "request_id"

	// ClaimsKey is the context key for verified token claims
	ClaimsKey contextKey = "claims"

	// AgentKey is the context key for the resolved agent
	AgentKey contextKey = "agent"

	// OrgIDKey is the context key for organization ID
	OrgIDKey contextKey = "org_id"

	// EnvIDKey is the context key for environment ID
	EnvIDKey contextKey = "env_id"
)

// GetRequestIDFromContext retrieves the request ID from context
func GetRequestIDFromContext(ctx context.Context) string {
	if val := ctx.Value(RequestIDKey); val != nil {
		if requestID, ok := val.(string); ok {
			return requestID
		}
	}
	return ""
}

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetClaimsFromContext retrieves verified token claims from context
func GetClaimsFromContext(ctx context.Context) *token.Claims {
	if val := ctx.Value(ClaimsKey); val != nil {
		if claims, ok := val.(*token.Claims); ok {
			return claims
		}
	}
	return nil
}

// WithClaims adds verified token claims to the context
func WithClaims(ctx context.Context, claims *token.Claims) context.Context {
	return context.WithValue(ctx, ClaimsKey, claims)
}

// GetAgentFromContext retrieves the resolved agent from context
func GetAgentFromContext(ctx context.Context) *models.Agent {
	if val := ctx.Value(AgentKey); val != nil {
		if agent, ok := val.(*models.Agent); ok {
			return agent
		}
	}
	return nil
}

// WithAgent adds the resolved agent to the context
func WithAgent(ctx context.Context, agent *models.Agent) context.Context {
	return context.WithValue(ctx, AgentKey, agent)
}

// GetOrgIDFromContext retrieves the organization ID from context
func GetOrgIDFromContext(ctx context.Context) uuid.UUID {
	if val := ctx.Value(OrgIDKey); val != nil {
		if orgID, ok := val.(uuid.UUID); ok {
			return orgID
		}
	}
	return uuid.Nil
}

// WithOrgID adds an organization ID to the context
func WithOrgID(ctx context.Context, orgID uuid.UUID) context.Context {
	return context.WithValue(ctx, OrgIDKey, orgID)
}

// GetEnvIDFromContext retrieves the environment ID from context, nil when
// the request is not environment-scoped
func GetEnvIDFromContext(ctx context.Context) *uuid.UUID {
	if val := ctx.Value(EnvIDKey); val != nil {
		if envID, ok := val.(*uuid.UUID); ok {
			return envID
		}
	}
	return nil
}

// WithEnvID adds an environment ID to the context
func WithEnvID(ctx context.Context, envID *uuid.UUID) context.Context {
	return context.WithValue(ctx, EnvIDKey, envID)
}
