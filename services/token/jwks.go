package token

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/alparn/agentxsuite-sub000/services"
)

// JWKS represents the JSON Web Key Set
type JWKS struct {
	Keys []JWK `json:"keys"`
}

// JWK represents a JSON Web Key
type JWK struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	Alg string `json:"alg"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// KeyResolver fetches and caches issuer key sets. The HTTP client and clock
// are injected so expiry and refresh are testable without network calls or
// wall-clock sleeps. The cache is keyed by issuer URL to support multi-issuer
// deployments.
type KeyResolver struct {
	httpClient *http.Client
	cacheTTL   time.Duration
	now        func() time.Time

	cacheMu sync.RWMutex
	sets    map[string]*cachedKeySet // issuer URL -> key set

	keyMu sync.RWMutex
	keys  map[string]*rsa.PublicKey // issuer + "|" + kid -> parsed key
}

type cachedKeySet struct {
	jwks      *JWKS
	expiresAt time.Time
}

// KeyResolverConfig holds configuration for KeyResolver
type KeyResolverConfig struct {
	CacheTTL   time.Duration
	HTTPClient *http.Client
	Now        func() time.Time
}

// NewKeyResolver creates a new key resolver
func NewKeyResolver(cfg KeyResolverConfig) *KeyResolver {
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = 1 * time.Hour
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &KeyResolver{
		httpClient: cfg.HTTPClient,
		cacheTTL:   cfg.CacheTTL,
		now:        cfg.Now,
		sets:       make(map[string]*cachedKeySet),
		keys:       make(map[string]*rsa.PublicKey),
	}
}

// GetSigningKey retrieves the public key for the given issuer and key id.
// Key set fetch failures surface as a service-unavailable error; the caller
// fails closed.
func (r *KeyResolver) GetSigningKey(ctx context.Context, issuer, kid string) (*rsa.PublicKey, error) {
	cacheKey := issuer + "|" + kid

	r.keyMu.RLock()
	if key, exists := r.keys[cacheKey]; exists {
		r.keyMu.RUnlock()
		return key, nil
	}
	r.keyMu.RUnlock()

	jwks, err := r.fetchKeySet(ctx, issuer)
	if err != nil {
		return nil, err
	}

	var jwk *JWK
	for i := range jwks.Keys {
		if jwks.Keys[i].Kid == kid {
			jwk = &jwks.Keys[i]
			break
		}
	}

	if jwk == nil {
		return nil, services.ErrInvalidSignature.Withf("unknown key id %q", kid)
	}

	publicKey, err := jwkToRSAPublicKey(jwk)
	if err != nil {
		return nil, services.ErrInvalidSignature.WithCause(err)
	}

	r.keyMu.Lock()
	r.keys[cacheKey] = publicKey
	r.keyMu.Unlock()

	return publicKey, nil
}

// InvalidateCache drops all cached key sets and parsed keys
func (r *KeyResolver) InvalidateCache() {
	r.cacheMu.Lock()
	r.sets = make(map[string]*cachedKeySet)
	r.cacheMu.Unlock()

	r.keyMu.Lock()
	r.keys = make(map[string]*rsa.PublicKey)
	r.keyMu.Unlock()
}

// fetchKeySet returns the issuer's key set, fetching it when the cached copy
// is missing or expired. Concurrent refreshes of the same issuer are
// idempotent; correctness only needs eventual freshness.
func (r *KeyResolver) fetchKeySet(ctx context.Context, issuer string) (*JWKS, error) {
	r.cacheMu.RLock()
	if cached, exists := r.sets[issuer]; exists && r.now().Before(cached.expiresAt) {
		defer r.cacheMu.RUnlock()
		return cached.jwks, nil
	}
	r.cacheMu.RUnlock()

	jwksURL := jwksURLForIssuer(issuer)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, jwksURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, services.ErrServiceUnavailable.Withf("key set fetch failed").WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, services.ErrServiceUnavailable.Withf("key set fetch returned status %d", resp.StatusCode)
	}

	var jwks JWKS
	if err := json.NewDecoder(resp.Body).Decode(&jwks); err != nil {
		return nil, services.ErrServiceUnavailable.Withf("key set decode failed").WithCause(err)
	}

	r.cacheMu.Lock()
	r.sets[issuer] = &cachedKeySet{
		jwks:      &jwks,
		expiresAt: r.now().Add(r.cacheTTL),
	}
	r.cacheMu.Unlock()

	return &jwks, nil
}

// jwksURLForIssuer derives the published key set URL from the issuer URL
func jwksURLForIssuer(issuer string) string {
	return strings.TrimSuffix(issuer, "/") + "/.well-known/jwks.json"
}

// jwkToRSAPublicKey converts a JWK to an RSA public key
func jwkToRSAPublicKey(jwk *JWK) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(jwk.N)
	if err != nil {
		return nil, fmt.Errorf("failed to decode modulus: %w", err)
	}

	eBytes, err := base64.RawURLEncoding.DecodeString(jwk.E)
	if err != nil {
		return nil, fmt.Errorf("failed to decode exponent: %w", err)
	}

	n := new(big.Int).SetBytes(nBytes)

	var e int
	for _, b := range eBytes {
		e = e*256 + int(b)
	}

	return &rsa.PublicKey{N: n, E: e}, nil
}
