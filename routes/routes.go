package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/alparn/agentxsuite-sub000/app"
	"github.com/alparn/agentxsuite-sub000/handlers"
	appmw "github.com/alparn/agentxsuite-sub000/middleware"
)

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()

	// Core middleware
	r.Use(chimw.RequestID)
	r.Use(appmw.PropagateRequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))

	// CORS middleware
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:*", "https://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	metadataURL := deps.Config.Auth.MetadataURL()

	healthHandler := handlers.NewHealthHandler(deps.DB.DB, deps.HealthChecks(), deps.Logger)
	metadataHandler := handlers.NewMetadataHandler(deps.Config.Auth.ResourceURI, deps.Config.Auth.TrustedIssuers, deps.Logger)
	authorizeHandler := handlers.NewAuthorizeHandler(deps.Enforcer, metadataURL, deps.Logger)
	policyHandler := handlers.NewPolicyHandler(deps.Policies, deps.BindingCache, deps.AuditService, deps.Logger)
	bindingHandler := handlers.NewBindingHandler(deps.Policies, deps.Bindings, deps.BindingCache, deps.AuditService, deps.Logger)
	auditHandler := handlers.NewAuditHandler(deps.AuditLogs, deps.Logger)

	// Health check endpoints
	r.Get("/healthz", healthHandler.HandleHealth)
	r.Get("/readyz", healthHandler.HandleReadiness)

	// Protected-resource metadata, referenced by WWW-Authenticate challenges
	r.Get("/.well-known/oauth-protected-resource", metadataHandler.HandleMetadata)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(deps.AuthMiddleware.RequireAuth)

		// Authorization decision endpoints
		r.Route("/authorize", func(r chi.Router) {
			r.Use(deps.AuthMiddleware.RequireScopes("authz:check"))
			r.Use(deps.AuthMiddleware.ResolveAgent)
			r.Post("/tool", authorizeHandler.HandleAuthorizeTool)
			r.Post("/agent", authorizeHandler.HandleAuthorizeAgent)
		})

		// Policy management
		r.Route("/policies", func(r chi.Router) {
			r.Use(deps.AuthMiddleware.RequireScopes("authz:admin"))
			r.Get("/", policyHandler.HandleListPolicies)
			r.Post("/", policyHandler.HandleCreatePolicy)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", policyHandler.HandleGetPolicy)
				r.Put("/", policyHandler.HandleUpdatePolicy)
				r.Delete("/", policyHandler.HandleDeletePolicy)

				r.Get("/rules", policyHandler.HandleListRules)
				r.Post("/rules", policyHandler.HandleCreateRule)
				r.Delete("/rules/{ruleID}", policyHandler.HandleDeleteRule)

				r.Get("/bindings", bindingHandler.HandleListBindings)
				r.Post("/bindings", bindingHandler.HandleCreateBinding)
				r.Delete("/bindings/{bindingID}", bindingHandler.HandleDeleteBinding)
			})
		})

		// Audit logs
		r.Route("/audit-logs", func(r chi.Router) {
			r.Use(deps.AuthMiddleware.RequireScopes("authz:admin"))
			r.Get("/", auditHandler.HandleListAuditLogs)
			r.Get("/{id}", auditHandler.HandleGetAuditLog)
		})
	})

	// 404 handler
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"endpoint not found"}`))
	})

	return r
}
