package opsapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/flagmesh/flagmesh/internal/edgesync"
	"github.com/flagmesh/flagmesh/internal/migration"
)

// API is the main struct that holds dependencies and the router for the
// operator surface. It follows the Dependency Injection pattern to
// facilitate testing.
type API struct {
	// Router is the Chi multiplexer that handles HTTP requests.
	Router *chi.Mux

	// migrations drives project migration state and bulk runs.
	migrations *migration.Controller

	// engine applies override changesets to the edge store.
	engine *edgesync.Engine

	// apiKeyHash is the SHA-256 hash of the valid API key.
	// Used for authentication in production environments.
	apiKeyHash string

	// skipAuth disables authentication when true (test/dev environments only).
	// Production environments should always set this to false.
	skipAuth bool
}

// NewAPI creates a new API instance with authentication enabled by default.
// The apiKeyHash parameter must be the SHA-256 hash of the API key.
// Panics if apiKeyHash is empty, as authentication cannot be disabled with this constructor.
func NewAPI(migrations *migration.Controller, engine *edgesync.Engine, apiKeyHash string) *API {
	return NewAPIWithConfig(migrations, engine, apiKeyHash, false)
}

// NewAPIWithConfig creates a new API instance with explicit control over
// authentication; skipAuth is for tests only.
//
// Panics if:
//   - migrations or engine are nil
//   - apiKeyHash is empty when skipAuth is false
func NewAPIWithConfig(migrations *migration.Controller, engine *edgesync.Engine, apiKeyHash string, skipAuth bool) *API {
	if migrations == nil {
		panic("opsapi: migration controller cannot be nil")
	}
	if engine == nil {
		panic("opsapi: sync engine cannot be nil")
	}

	// Validate authentication configuration
	if !skipAuth && apiKeyHash == "" {
		panic("opsapi: apiKeyHash cannot be empty when authentication is enabled")
	}

	api := &API{
		Router:     chi.NewRouter(),
		migrations: migrations,
		engine:     engine,
		apiKeyHash: apiKeyHash,
		skipAuth:   skipAuth,
	}

	api.configureRoutes()
	return api
}

// configureRoutes registers the global middleware stack and API endpoints.
func (a *API) configureRoutes() {
	// 1. Global Middleware Stack
	// RequestID: Adds a unique ID to each request context (essential for tracing).
	a.Router.Use(middleware.RequestID)
	// RealIP: correctly sets the IP if behind a proxy/LB.
	a.Router.Use(middleware.RealIP)
	// Logger: Logs request method, path, status, and duration.
	a.Router.Use(RequestLogger)
	// Metrics: per-route Prometheus series.
	a.Router.Use(MetricsCollector)
	// Recoverer: Prevents the server from crashing on panics, returning 500 instead.
	a.Router.Use(middleware.Recoverer)
	// Content-Type: Forces JSON content type for API responses.
	a.Router.Use(render.SetContentType(render.ContentTypeJSON))

	// 2. Public Routes (no authentication required)
	a.Router.Get("/health", a.handleHealthCheck)

	// 3. Protected API V1 Routes (authentication required)
	a.Router.Route("/api/v1", func(r chi.Router) {
		// Apply authentication middleware to all /api/v1/* routes
		r.Use(a.authenticateAPIKey)

		r.Route("/projects/{projectID}/migration", func(r chi.Router) {
			r.Get("/", a.handleGetMigration)
			r.Post("/", a.handleTriggerMigration)
		})

		r.Post("/environments/{environmentID}/override-changeset", a.handleOverrideChangeset)
	})
}

// handleHealthCheck verifies if the service is serving HTTP. Deep readiness
// (database, edge store) lives on the observability server's /readyz.
func (a *API) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	render.Status(r, http.StatusOK)
	render.JSON(w, r, map[string]string{"status": "ok"})
}
