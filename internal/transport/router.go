package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/pitabwire/admindash/internal/config"
	"github.com/pitabwire/admindash/internal/observability"
	"github.com/pitabwire/admindash/internal/openapi"
	"github.com/pitabwire/admindash/internal/query"
	"github.com/pitabwire/admindash/internal/serviceconfig"
	"github.com/pitabwire/admindash/model"
)

// MenuSource supplies the current navigation items.
type MenuSource interface {
	Items() []model.MenuItem
}

// Dependencies holds all injected dependencies for the HTTP transport layer.
type Dependencies struct {
	Config       *config.Config
	Logger       *zap.Logger
	Authenticate func(http.Handler) http.Handler

	Store *serviceconfig.Store
	// Writer persists service config changes; nil keeps them in memory.
	Writer serviceconfig.Writer
	Menu   MenuSource

	Backend     query.Backend
	Client      *query.Client
	FilterStore query.FilterStore
	// OpenAPI, when set, checks record bodies against backend schemas.
	OpenAPI *openapi.Index

	Metrics  *observability.Metrics
	Registry prometheus.Gatherer
	Ready    observability.ReadinessChecks
}

// NewRouter creates a chi.Router with the middleware pipeline and every
// route. Health, readiness and metrics bypass authentication.
func NewRouter(deps Dependencies) chi.Router {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Client == nil {
		deps.Client = query.NewClient()
	}
	cfg := deps.Config

	r := chi.NewRouter()
	r.Use(Recovery(deps.Logger))
	r.Use(CORS(cfg.Server.CORS))
	r.Use(RequestID)
	r.Use(SecurityHeaders)
	r.Use(InjectLogger(deps.Logger))
	if cfg.Observability.Tracing.Enabled {
		r.Use(observability.TracingMiddleware)
	}
	if deps.Metrics != nil {
		r.Use(deps.Metrics.MetricsMiddleware)
	}

	r.Get("/ui/health", observability.HandleHealth())
	r.Get("/ui/ready", observability.HandleReady(deps.Ready))
	if cfg.Observability.Metrics.Enabled {
		r.Method(http.MethodGet, cfg.Observability.Metrics.Path, observability.Handler(deps.Registry))
	}

	auth := deps.Authenticate
	if auth == nil {
		auth = func(next http.Handler) http.Handler { return next }
	}

	h := &handlers{deps: deps, logger: deps.Logger}
	admin := RequireRole(cfg.Identity.AdminRole)

	r.Group(func(r chi.Router) {
		r.Use(auth)
		r.Use(BuildRequestContext(cfg.Identity.ClaimPaths))
		r.Use(HandlerTimeout(cfg.Server.HandlerTimeout))
		r.Use(RequestLogging(deps.Logger))

		r.Get(cfg.Services.Endpoint, h.rawServiceConfigs)
		r.Get("/ui/navigation", h.navigation)
		r.With(admin).Post("/ui/cache/clear", h.clearCache)

		r.Route("/ui/services", func(r chi.Router) {
			r.Get("/", h.listServices)
			r.With(admin).Post("/", h.createService)
			r.With(admin).Post("/refresh", h.refreshServices)

			r.Route("/{code}", func(r chi.Router) {
				r.Get("/", h.getService)
				r.With(admin).Put("/", h.updateService)
				r.With(admin).Delete("/", h.deleteService)

				r.Get("/form", h.form)
				r.Get("/columns", h.columns)
				r.Post("/validate", h.validate)

				r.Get("/records", h.listRecords)
				r.Post("/records", h.createRecord)
				r.Get("/records/{id}", h.getRecord)
				r.Put("/records/{id}", h.updateRecord)
				r.Delete("/records/{id}", h.deleteRecord)
				r.Post("/operations/{operation}", h.invokeOperation)
			})
		})
	})

	return r
}

// handlers serves the authenticated routes.
type handlers struct {
	deps   Dependencies
	logger *zap.Logger
}

func (h *handlers) policy() query.Policy {
	return query.Policy{
		StaleTime: h.deps.Config.Query.StaleTime,
		CacheTime: h.deps.Config.Query.CacheTime,
	}
}

// service resolves the {code} URL parameter to an enabled config, writing
// a 404 when there is none.
func (h *handlers) service(w http.ResponseWriter, r *http.Request) (model.ParsedServiceConfig, bool) {
	code := chi.URLParam(r, "code")
	svc, ok := h.deps.Store.GetServiceConfig(code)
	if !ok || !svc.Enabled {
		WriteNotFound(w, "Service "+code+" not found")
		return model.ParsedServiceConfig{}, false
	}
	return svc, true
}

func (h *handlers) mutations(svc model.ParsedServiceConfig) *query.Mutations {
	return query.NewMutations(h.deps.Backend, h.deps.Client, svc, h.policy())
}

func requestContext(w http.ResponseWriter, r *http.Request) (*model.RequestContext, bool) {
	rctx := model.RequestContextFrom(r.Context())
	if rctx == nil {
		WriteError(w, model.NewUnauthorizedError("Missing request context"))
		return nil, false
	}
	return rctx, true
}

func writeErr(w http.ResponseWriter, r *http.Request, err error) {
	traceID := ""
	if rctx := model.RequestContextFrom(r.Context()); rctx != nil {
		traceID = rctx.TraceID
	}
	WriteErrorTrace(w, err, traceID)
}
