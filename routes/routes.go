package routes

import (
	"net/http"

	"github.com/arcturusdc/orbit/app"
	"github.com/arcturusdc/orbit/middleware"
	"github.com/arcturusdc/orbit/utils"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// Rate limit buckets
const (
	BucketWrite  = "write"
	BucketRead   = "read"
	BucketVerify = "verify"
)

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	cfg := deps.Config
	r := chi.NewRouter()

	// Core middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	if cfg.Server.RequestTimeout > 0 {
		r.Use(chimw.Timeout(cfg.Server.RequestTimeout))
	}

	// CORS middleware
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{
			"Accept", "Authorization", "Content-Type",
			middleware.HeaderOrgID, middleware.HeaderAPIKey, middleware.HeaderAdminKey,
		},
		ExposedHeaders:   []string{"X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check endpoints
	r.Get("/healthz", deps.HealthHandler.HandleHealth)
	r.Get("/readyz", deps.HealthHandler.HandleReadiness)

	limits := cfg.RateLimit
	authn := deps.AuthMiddleware
	limit := deps.RateLimit.Limit

	r.Route("/api/v1", func(r chi.Router) {
		// Public routes
		r.Get("/status", deps.StatusHandler.HandleStatus)

		// Ledger writes need a subject session and the org's credentials
		r.Group(func(r chi.Router) {
			r.Use(authn.RequireSession)
			r.Use(authn.RequireOrgCredentials)
			r.Use(limit(BucketWrite, limits.WriteLimit))
			r.Post("/events", deps.EventHandler.HandleAppendEvent)
			r.Post("/snapshots", deps.SnapshotHandler.HandleCreateSnapshot)
		})

		// Subject reads
		r.Group(func(r chi.Router) {
			r.Use(authn.RequireSession)
			r.Use(limit(BucketRead, limits.ReadLimit))
			r.Get("/snapshots", deps.SnapshotHandler.HandleGetSnapshot)
			r.Route("/users/{userId}", func(r chi.Router) {
				r.Get("/events", deps.EventHandler.HandleQueryEvents)
				r.Get("/chains/{orgId}/verify", deps.EventHandler.HandleVerifyChain)
				r.Get("/consents", deps.ConsentHandler.HandleGetConsentState)
				r.Get("/snapshots/{orgId}/latest", deps.SnapshotHandler.HandleGetLatestSnapshot)
			})
		})

		// Third-party verification
		r.Group(func(r chi.Router) {
			r.Use(limit(BucketVerify, limits.VerifyLimit))
			r.Post("/verify", deps.VerificationHandler.HandleVerify)
			r.Get("/verifications/{id}/check", deps.VerificationHandler.HandleCheckProof)
		})

		// Org-facing alert feed
		r.Group(func(r chi.Router) {
			r.Use(authn.RequireOrgCredentials)
			r.Use(limit(BucketRead, limits.ReadLimit))
			r.Get("/orgs/{orgId}/alerts", deps.AlertHandler.HandleListAlerts)
		})

		// Operator routes
		r.Route("/admin", func(r chi.Router) {
			r.Use(authn.RequireAdminKey)
			r.Put("/orgs/{orgId}", deps.AdminHandler.HandleUpsertOrganization)
			r.Get("/orgs/{orgId}", deps.AdminHandler.HandleGetOrganization)
			r.Post("/orgs/{orgId}/keys", deps.AdminHandler.HandleRotateSigningKey)
			r.Post("/sandbox/reset", deps.AdminHandler.HandleResetSandbox)
			r.Post("/sessions", deps.AdminHandler.HandleIssueSession)
		})
	})

	// 404 handler
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteNotFound(w, "endpoint not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteErrorCode(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed", nil)
	})

	return r
}
