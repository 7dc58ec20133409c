package token

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/alparn/agentxsuite-sub000/services"
	"github.com/alparn/agentxsuite-sub000/services/replay"
)

// ValidateOptions narrows a validation beyond the baseline checks
type ValidateOptions struct {
	// RequiredScopes must all appear in the token's scope claim
	RequiredScopes []string

	// RequiredOrgID / RequiredEnvID must match the token's tenant claims
	// exactly when set
	RequiredOrgID string
	RequiredEnvID string

	// Resource overrides the canonical resource URI as the expected
	// audience for this validation
	Resource string
}

// Validator verifies bearer tokens: signature, issuer, strict audience, time
// bounds, replay, and tenant binding, in that order, short-circuiting on the
// first failure.
type Validator struct {
	resolver       *KeyResolver
	replayStore    replay.Store
	trustedIssuers map[string]struct{}
	resourceURI    string
	maxTokenAge    time.Duration
	maxTokenTTL    time.Duration
	now            func() time.Time
	logger         *zap.Logger
}

// ValidatorConfig holds configuration for the Validator
type ValidatorConfig struct {
	TrustedIssuers []string
	ResourceURI    string
	MaxTokenAge    time.Duration
	MaxTokenTTL    time.Duration
	Now            func() time.Time
}

// NewValidator creates a new token validator
func NewValidator(cfg ValidatorConfig, resolver *KeyResolver, replayStore replay.Store, logger *zap.Logger) *Validator {
	if cfg.MaxTokenAge == 0 {
		cfg.MaxTokenAge = 60 * time.Minute
	}
	if cfg.MaxTokenTTL == 0 {
		cfg.MaxTokenTTL = 30 * time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	issuers := make(map[string]struct{}, len(cfg.TrustedIssuers))
	for _, iss := range cfg.TrustedIssuers {
		issuers[iss] = struct{}{}
	}

	return &Validator{
		resolver:       resolver,
		replayStore:    replayStore,
		trustedIssuers: issuers,
		resourceURI:    cfg.ResourceURI,
		maxTokenAge:    cfg.MaxTokenAge,
		maxTokenTTL:    cfg.MaxTokenTTL,
		now:            cfg.Now,
		logger:         logger,
	}
}

// Validate verifies the token and returns its claims. Every failure is a
// typed domain error; no claim from a failed validation may be used.
func (v *Validator) Validate(ctx context.Context, tokenString string, opts ValidateOptions) (*Claims, error) {
	if tokenString == "" {
		return nil, services.ErrMissingToken
	}

	claims, err := v.parseAndVerify(ctx, tokenString)
	if err != nil {
		return nil, err
	}

	// Issuer membership. The keyfunc already refused untrusted issuers
	// before fetching keys; this re-check keeps the guarantee local.
	if _, trusted := v.trustedIssuers[claims.Issuer]; !trusted {
		return nil, services.ErrInvalidIssuer
	}

	// Strict audience: the token must name exactly this resource. A list
	// containing additional audiences is rejected as well, so a token
	// minted for another resource can never be replayed here.
	expectedAudience := opts.Resource
	if expectedAudience == "" {
		expectedAudience = v.resourceURI
	}
	if len(claims.Audience) != 1 || claims.Audience[0] != expectedAudience {
		return nil, services.ErrInvalidAudience
	}

	// Replay: consume the jti exactly once. Store errors fail closed.
	if jti := claims.JTI(); jti != "" {
		ttl := v.maxTokenTTL
		if claims.ExpiresAt != nil {
			if remaining := claims.ExpiresAt.Time.Sub(v.now()); remaining > 0 {
				ttl = remaining
			}
		}
		consumed, err := v.replayStore.Consume(ctx, jti, ttl)
		if err != nil {
			return nil, services.ErrServiceUnavailable.Withf("replay store").WithCause(err)
		}
		if !consumed {
			v.logger.Warn("token replay detected", zap.String("jti", jti))
			return nil, services.ErrInvalidToken.Withf("replay")
		}
	}

	// iat is mandatory: a token without a provable issue time cannot be
	// age-bounded. Stale tokens are rejected even when exp has not passed.
	if claims.IssuedAt == nil {
		return nil, services.ErrInvalidToken.Withf("iat claim is required")
	}
	if age := v.now().Sub(claims.IssuedAt.Time); age > v.maxTokenAge {
		return nil, services.ErrExpiredToken.Withf("token too old")
	}

	// Maximum lifetime, independent of what the issuer set as exp
	if claims.ExpiresAt != nil {
		if lifetime := claims.ExpiresAt.Time.Sub(claims.IssuedAt.Time); lifetime > v.maxTokenTTL {
			return nil, services.ErrInvalidToken.Withf("token lifetime exceeds maximum")
		}
	}

	// Required scopes
	for _, required := range opts.RequiredScopes {
		if !claims.Scope.Contains(required) {
			return nil, services.ErrInsufficientScope.Withf("missing scope %q", required)
		}
	}

	// Tenant binding
	if opts.RequiredOrgID != "" && claims.OrgID != opts.RequiredOrgID {
		return nil, services.ErrCrossTenantAccess
	}
	if opts.RequiredEnvID != "" && claims.EnvID != opts.RequiredEnvID {
		return nil, services.ErrCrossTenantAccess
	}

	return claims, nil
}

// parseAndVerify checks the signature and the library-enforced time bounds
func (v *Validator) parseAndVerify(ctx context.Context, tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, services.ErrInvalidSignature.Withf("unexpected signing method %v", token.Header["alg"])
		}

		kid, ok := token.Header["kid"].(string)
		if !ok {
			return nil, services.ErrInvalidSignature.Withf("kid header not found")
		}

		claims, ok := token.Claims.(*Claims)
		if !ok {
			return nil, services.ErrInvalidToken
		}

		// Refuse to fetch keys for untrusted issuers; the claim is not
		// yet verified, but a key lookup must never reach an arbitrary
		// URL taken from the token.
		if _, trusted := v.trustedIssuers[claims.Issuer]; !trusted {
			return nil, services.ErrInvalidIssuer
		}

		return v.resolver.GetSigningKey(ctx, claims.Issuer, kid)
	}, jwt.WithValidMethods([]string{"RS256", "RS384", "RS512"}), jwt.WithTimeFunc(v.now))

	if err != nil {
		var domainErr *services.DomainError
		if errors.As(err, &domainErr) {
			return nil, domainErr
		}
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, services.ErrExpiredToken
		case errors.Is(err, jwt.ErrTokenNotValidYet):
			return nil, services.ErrInvalidToken.Withf("token not yet valid")
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, services.ErrInvalidSignature
		default:
			return nil, services.ErrInvalidToken.WithCause(err)
		}
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, services.ErrInvalidToken
	}

	return claims, nil
}
