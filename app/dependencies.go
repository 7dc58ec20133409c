package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/alparn/agentxsuite-sub000/config"
	"github.com/alparn/agentxsuite-sub000/middleware"
	"github.com/alparn/agentxsuite-sub000/repositories"
	"github.com/alparn/agentxsuite-sub000/repositories/postgres"
	"github.com/alparn/agentxsuite-sub000/services/audit"
	"github.com/alparn/agentxsuite-sub000/services/identity"
	"github.com/alparn/agentxsuite-sub000/services/pdp"
	"github.com/alparn/agentxsuite-sub000/services/pep"
	"github.com/alparn/agentxsuite-sub000/services/replay"
	"github.com/alparn/agentxsuite-sub000/services/token"
)

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config *config.Config
	DB     *postgres.DB
	Logger *zap.Logger

	// Repository Factory
	RepoFactory *postgres.RepositoryFactory

	// Repositories
	Policies        repositories.PolicyRepository
	Bindings        repositories.BindingRepository
	ServiceAccounts repositories.ServiceAccountRepository
	Agents          repositories.AgentRepository
	AuditLogs       repositories.AuditRepository
	TxManager       repositories.TransactionManager

	// Token validation pipeline
	ReplayStore      replay.Store
	KeyResolver      *token.KeyResolver
	TokenValidator   *token.Validator
	IdentityResolver *identity.Resolver

	// Policy engine
	BindingCache *pdp.BindingCache
	Evaluator    *pdp.Evaluator
	Enforcer     *pep.Enforcer

	// Audit
	AuditService *audit.AuditService

	// Transport
	AuthMiddleware *middleware.AuthMiddleware

	redisClient *redis.Client
	cacheStop   chan struct{}
}

// NewDependencies creates and wires up all application dependencies
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	if err := deps.initDatabase(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	deps.initRepositories()
	deps.initReplayStore(cfg)
	deps.initAudit()
	deps.initTokenPipeline(cfg)
	deps.initPolicyEngine(cfg)

	logger.Info("all dependencies initialized successfully")
	return deps, nil
}

// initDatabase initializes the PostgreSQL connection and schema
func (d *Dependencies) initDatabase(ctx context.Context, cfg *config.Config) error {
	factory, err := postgres.NewRepositoryFactory(cfg, d.Logger)
	if err != nil {
		return fmt.Errorf("failed to create repository factory: %w", err)
	}

	d.RepoFactory = factory
	d.DB = factory.GetDB()

	// Test the connection
	if err := d.DB.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	if err := d.DB.InitSchema(ctx); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	d.Logger.Info("database connection established",
		zap.String("connection", cfg.Database.LogString()))

	return nil
}

// initRepositories initializes all repository instances
func (d *Dependencies) initRepositories() {
	repos := d.RepoFactory.NewRepositories()

	d.Policies = repos.Policies
	d.Bindings = repos.Bindings
	d.ServiceAccounts = repos.ServiceAccounts
	d.Agents = repos.Agents
	d.AuditLogs = repos.AuditLogs
	d.TxManager = d.RepoFactory.GetTransactionManager()

	d.Logger.Info("repositories initialized")
}

// initReplayStore picks the replay store backend. Redis when configured,
// in-memory otherwise. Both provide the atomic consume the validator needs.
func (d *Dependencies) initReplayStore(cfg *config.Config) {
	if cfg.Redis.Addr == "" {
		memStore := replay.NewMemoryStore()
		d.cacheStop = make(chan struct{})
		go memStore.StartCleanupWorker(time.Minute, d.cacheStop)
		d.ReplayStore = memStore
		d.Logger.Info("using in-memory replay store")
		return
	}

	d.redisClient = redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	d.ReplayStore = replay.NewRedisStore(d.redisClient)
	d.Logger.Info("using redis replay store", zap.String("addr", cfg.Redis.Addr))
}

// initAudit starts the audit service worker pool
func (d *Dependencies) initAudit() {
	d.AuditService = audit.NewAuditService(d.AuditLogs, d.Logger, audit.DefaultConfig())
	if err := d.AuditService.Start(); err != nil {
		d.Logger.Error("failed to start audit service", zap.Error(err))
	}
}

// initTokenPipeline wires the key resolver, token validator, identity
// resolver, and the authentication middleware
func (d *Dependencies) initTokenPipeline(cfg *config.Config) {
	d.KeyResolver = token.NewKeyResolver(token.KeyResolverConfig{
		CacheTTL:   cfg.Auth.JWKSCacheTTL,
		HTTPClient: &http.Client{Timeout: cfg.Auth.JWKSTimeout},
	})

	d.TokenValidator = token.NewValidator(token.ValidatorConfig{
		TrustedIssuers: cfg.Auth.TrustedIssuers,
		ResourceURI:    cfg.Auth.ResourceURI,
		MaxTokenAge:    cfg.Auth.MaxTokenAge,
		MaxTokenTTL:    cfg.Auth.MaxTokenTTL,
	}, d.KeyResolver, d.ReplayStore, d.Logger)

	d.IdentityResolver = identity.NewResolver(d.ServiceAccounts, d.Agents, d.Logger)

	d.AuthMiddleware = middleware.NewAuthMiddleware(
		d.TokenValidator,
		d.IdentityResolver,
		cfg.Auth.MetadataURL(),
		d.Logger,
	)
}

// initPolicyEngine wires the binding cache, evaluator, and enforcer
func (d *Dependencies) initPolicyEngine(cfg *config.Config) {
	if cfg.Policy.CacheSize > 0 {
		d.BindingCache = pdp.NewBindingCache(cfg.Policy.CacheSize, cfg.Policy.CacheTTL)
		if d.cacheStop == nil {
			d.cacheStop = make(chan struct{})
		}
		go d.BindingCache.StartCleanupWorker(time.Minute, d.cacheStop)
	}

	d.Evaluator = pdp.NewEvaluator(d.Policies, d.Bindings, d.BindingCache, d.Logger)
	d.Enforcer = pep.NewEnforcer(d.Agents, d.ServiceAccounts, d.Evaluator, d.AuditService, d.Logger)
}

// HealthChecks returns named readiness checks for optional dependencies
func (d *Dependencies) HealthChecks() map[string]func(context.Context) error {
	checks := make(map[string]func(context.Context) error)
	if d.redisClient != nil {
		client := d.redisClient
		checks["redis"] = func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		}
	}
	return checks
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	if d.AuditService != nil {
		if err := d.AuditService.Stop(10 * time.Second); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop audit service: %w", err))
		}
	}

	if d.cacheStop != nil {
		close(d.cacheStop)
	}

	if d.redisClient != nil {
		if err := d.redisClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close redis client: %w", err))
		}
	}

	if d.RepoFactory != nil {
		if err := d.RepoFactory.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		} else {
			d.Logger.Info("database connection closed")
		}
	}

	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %v", errs)
	}

	return nil
}
