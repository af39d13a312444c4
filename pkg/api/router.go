package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/marmos91/clustergate/internal/logger"
	"github.com/marmos91/clustergate/pkg/api/handlers"
	"github.com/marmos91/clustergate/pkg/api/middleware"
)

// Dependencies are the components the admin API exposes. Optional fields may
// be nil.
type Dependencies struct {
	Endpoints handlers.EndpointSource
	Bindings  handlers.BindingSource

	// Disconnector enables DELETE /api/v1/endpoints/{id}.
	Disconnector handlers.Disconnector

	// Admissions enables GET /api/v1/admissions.
	Admissions handlers.AdmissionSource

	// Checks back GET /health/ready.
	Checks []handlers.Check

	// Metrics serves GET /metrics.
	Metrics http.Handler

	// Auth, when set, protects /api/v1 with admin bearer tokens.
	Auth middleware.TokenValidator
}

// NewRouter creates the chi router.
//
// Routes:
//   - GET /health, GET /health/ready
//   - GET /metrics
//   - GET /api/v1/endpoints, GET|DELETE /api/v1/endpoints/{id}
//   - GET /api/v1/bindings
//   - GET /api/v1/admissions
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(30 * time.Second))

	healthHandler := handlers.NewHealthHandler(deps.Checks...)
	r.Route("/health", func(r chi.Router) {
		r.Get("/", healthHandler.Liveness)
		r.Get("/ready", healthHandler.Readiness)
	})

	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		if deps.Auth != nil {
			r.Use(middleware.BearerAuth(deps.Auth))
			r.Use(middleware.RequireAdmin())
		}

		if deps.Endpoints != nil && deps.Bindings != nil {
			endpointsHandler := handlers.NewEndpointsHandler(deps.Endpoints, deps.Bindings, deps.Disconnector)
			r.Route("/endpoints", func(r chi.Router) {
				r.Get("/", endpointsHandler.List)
				r.Get("/{id}", endpointsHandler.Get)
				r.Delete("/{id}", endpointsHandler.Disconnect)
			})
			r.Get("/bindings", endpointsHandler.Bindings)
		}

		if deps.Admissions != nil {
			r.Get("/admissions", handlers.NewAdmissionsHandler(deps.Admissions).List)
		}
	})

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/health", http.StatusTemporaryRedirect)
	})

	return r
}

// requestLogger logs request start at DEBUG and completion at INFO.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := chimiddleware.GetReqID(r.Context())

		logger.Debug("API request started",
			"request_id", requestID,
			"method", r.Method,
			logger.KeyPath, r.URL.Path,
			logger.KeyClientAddr, r.RemoteAddr,
		)

		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		logger.Info("API request completed",
			"request_id", requestID,
			"method", r.Method,
			logger.KeyPath, r.URL.Path,
			logger.KeyStatus, ww.Status(),
			"bytes", ww.BytesWritten(),
			logger.KeyDurationMs, logger.Duration(start),
		)
	})
}
