package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/riverrun-io/caseflow/internal/config"
	"github.com/riverrun-io/caseflow/internal/definition"
	"github.com/riverrun-io/caseflow/internal/engine"
	"github.com/riverrun-io/caseflow/internal/observability"
	"github.com/riverrun-io/caseflow/model"
)

// Dependencies holds all injected dependencies for the HTTP transport layer.
type Dependencies struct {
	Config             *config.Config
	Logger             *zap.Logger
	Engine             *engine.Engine
	Definitions        *definition.Store
	Authenticate       func(http.Handler) http.Handler
	CapabilityResolver model.CapabilityResolver
	Metrics            *observability.Metrics
	Readiness          observability.ReadinessChecks
}

// NewRouter creates a chi.Router with the full middleware pipeline and all
// route registrations. Health, readiness, and metrics endpoints bypass the
// authentication middleware.
func NewRouter(deps Dependencies) chi.Router {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()

	// Global middleware: applied to all routes including health.
	r.Use(Recovery(logger))
	r.Use(CORS(deps.Config.Server.CORS))
	r.Use(RequestID)
	r.Use(SecurityHeaders)
	if deps.Metrics != nil {
		r.Use(deps.Metrics.MetricsMiddleware)
	}

	// Public routes — bypass authentication.
	r.Get("/healthz", observability.HandleHealth())
	r.Get("/readyz", observability.HandleReady(deps.Readiness))
	if deps.Config.Observability.Metrics.Enabled {
		r.Method(http.MethodGet, deps.Config.Observability.Metrics.Path, observability.Handler())
	}

	// Authenticated routes — full middleware chain.
	auth := deps.Authenticate
	if auth == nil {
		auth = func(next http.Handler) http.Handler { return next }
	}

	r.Group(func(r chi.Router) {
		r.Use(auth)
		r.Use(BuildActorContext(deps.Config.Identity.ClaimPaths))
		r.Use(ResolveCapabilities(deps.CapabilityResolver, logger))
		r.Use(HandlerTimeout(deps.Config.Server.HandlerTimeout))
		r.Use(RequestLogging(logger))

		r.Post("/api/cases", handleCaseOpen(deps.Engine))
		r.Get("/api/cases/{caseId}", handleCaseGet(deps.Engine))
		r.Get("/api/cases/{caseId}/transitions", handleCaseTransitions(deps.Engine))
		r.Post("/api/cases/{caseId}/transitions/{transitionId}", handleCaseExecute(deps.Engine))
		r.Get("/api/cases/{caseId}/history", handleCaseHistory(deps.Engine))

		r.Get("/api/workflows", handleWorkflowList(deps.Definitions))
		r.Get("/api/workflows/{workflowId}", handleWorkflowGet(deps.Engine))
		r.Post("/api/workflows", handleWorkflowPublish(deps.Definitions, deps.Metrics, logger))
	})

	return r
}
