package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/alparn/agentxsuite-sub000/models"
	"github.com/alparn/agentxsuite-sub000/services"
	"github.com/alparn/agentxsuite-sub000/services/token"
	"github.com/alparn/agentxsuite-sub000/utils"
)

// TokenValidator defines the interface for validating bearer tokens
type TokenValidator interface {
	Validate(ctx context.Context, tokenString string, opts token.ValidateOptions) (*token.Claims, error)
}

// AgentResolver maps verified claims to the agent identity they belong to
type AgentResolver interface {
	Resolve(ctx context.Context, claims *token.Claims, orgID, envID uuid.UUID) (*models.Agent, error)
}

// AuthMiddleware provides bearer-token authentication middleware
type AuthMiddleware struct {
	validator   TokenValidator
	resolver    AgentResolver
	metadataURL string
	logger      *zap.Logger
}

// NewAuthMiddleware creates a new AuthMiddleware. metadataURL is the
// protected-resource metadata document advertised in 401 challenges.
func NewAuthMiddleware(validator TokenValidator, resolver AgentResolver, metadataURL string, logger *zap.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		validator:   validator,
		resolver:    resolver,
		metadataURL: metadataURL,
		logger:      logger,
	}
}

// RequireAuth validates the bearer token and stores the verified claims
// and the token's tenant scope in the request context. Every rejection
// carries the WWW-Authenticate challenge pointing at the metadata document.
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		requestID := GetRequestIDFromContext(ctx)

		tokenString := extractBearerToken(r)
		if tokenString == "" {
			m.logger.Warn("missing bearer token",
				zap.String("request_id", requestID))
			_ = utils.WriteUnauthorizedChallenge(w, services.ErrMissingToken.Code, services.ErrMissingToken.Message, m.metadataURL)
			return
		}

		claims, err := m.validator.Validate(ctx, tokenString, token.ValidateOptions{})
		if err != nil {
			m.writeAuthError(w, requestID, "token validation failed", err)
			return
		}

		orgID, err := uuid.Parse(claims.OrgID)
		if err != nil {
			m.logger.Warn("token carries no usable org_id claim",
				zap.String("request_id", requestID))
			_ = utils.WriteDomainError(w, services.ErrCrossTenantAccess.Withf("org_id claim missing or malformed"), m.metadataURL)
			return
		}

		ctx = WithClaims(ctx, claims)
		ctx = WithOrgID(ctx, orgID)

		if claims.EnvID != "" {
			envID, err := uuid.Parse(claims.EnvID)
			if err != nil {
				m.logger.Warn("token carries malformed env_id claim",
					zap.String("request_id", requestID))
				_ = utils.WriteDomainError(w, services.ErrCrossTenantAccess.Withf("env_id claim malformed"), m.metadataURL)
				return
			}
			ctx = WithEnvID(ctx, &envID)
		}

		m.logger.Debug("authentication successful",
			zap.String("request_id", requestID),
			zap.String("sub", claims.Subject),
			zap.String("org_id", orgID.String()))

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ResolveAgent resolves the authenticated credential to an agent identity
// and stores it in the context. Must run after RequireAuth.
func (m *AuthMiddleware) ResolveAgent(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		requestID := GetRequestIDFromContext(ctx)

		claims := GetClaimsFromContext(ctx)
		if claims == nil {
			m.logger.Error("claims not found in context",
				zap.String("request_id", requestID))
			_ = utils.WriteUnauthorizedChallenge(w, services.ErrMissingToken.Code, "Authentication required", m.metadataURL)
			return
		}

		orgID := GetOrgIDFromContext(ctx)
		envID := uuid.Nil
		if e := GetEnvIDFromContext(ctx); e != nil {
			envID = *e
		}

		agent, err := m.resolver.Resolve(ctx, claims, orgID, envID)
		if err != nil {
			m.writeAuthError(w, requestID, "agent resolution failed", err)
			return
		}

		m.logger.Debug("agent resolved",
			zap.String("request_id", requestID),
			zap.String("agent_id", agent.ID.String()))

		next.ServeHTTP(w, r.WithContext(WithAgent(ctx, agent)))
	})
}

// RequireScopes returns a middleware that requires every listed scope to
// be present in the token's scope claim. Must run after RequireAuth.
func (m *AuthMiddleware) RequireScopes(scopes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			requestID := GetRequestIDFromContext(ctx)

			claims := GetClaimsFromContext(ctx)
			if claims == nil {
				m.logger.Error("claims not found in context",
					zap.String("request_id", requestID))
				_ = utils.WriteUnauthorizedChallenge(w, services.ErrMissingToken.Code, "Authentication required", m.metadataURL)
				return
			}

			for _, scope := range scopes {
				if !claims.Scope.Contains(scope) {
					m.logger.Warn("token lacks required scope",
						zap.String("request_id", requestID),
						zap.String("required_scope", scope))
					_ = utils.WriteDomainError(w, services.ErrInsufficientScope.Withf("scope %q required", scope), m.metadataURL)
					return
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

// writeAuthError maps a validation or resolution failure to its response.
// Raw token material never reaches the response or the log line.
func (m *AuthMiddleware) writeAuthError(w http.ResponseWriter, requestID, msg string, err error) {
	var domainErr *services.DomainError
	if !errors.As(err, &domainErr) {
		domainErr = services.ErrInvalidToken.WithCause(err)
	}

	m.logger.Warn(msg,
		zap.String("request_id", requestID),
		zap.String("code", domainErr.Code))

	_ = utils.WriteDomainError(w, domainErr, m.metadataURL)
}

// extractBearerToken extracts the Bearer token from the Authorization header
func extractBearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}

	return strings.TrimSpace(parts[1])
}
