package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"social-service/internal/repository"
	"social-service/internal/service"
	"social-service/internal/util"
)

// RouterConfig carries the HTTP-facing settings of the server.
type RouterConfig struct {
	AllowedOrigins []string
	RequireHTTPS   bool
	RequestTimeout time.Duration

	Idempotency    repository.IdempotencyStore
	IdempotencyTTL time.Duration

	// HealthCheck reports failing dependencies by name. Nil means always healthy.
	HealthCheck func(ctx context.Context) map[string]error
}

// NewRouter creates and configures the Chi router with all middleware and routes
func NewRouter(services *service.ServiceFactory, cfg RouterConfig, logger *zap.Logger) chi.Router {
	router := chi.NewRouter()

	if cfg.RequireHTTPS {
		router.Use(requireHTTPS)
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}

	// Middleware stack
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(LoggerMiddleware(logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(cfg.RequestTimeout))

	identities := services.IdentityService()
	idem := &idempotency{store: cfg.Idempotency, ttl: cfg.IdempotencyTTL, logger: logger}

	router.Get("/health", healthHandler(cfg.HealthCheck, logger))

	router.Route("/api/v1", func(r chi.Router) {
		r.Use(AuthMiddleware(identities))

		r.Mount("/identity", NewIdentityHandler(identities, logger).Routes(cfg.AllowedOrigins))
		r.Mount("/relationships", NewRelationshipHandler(
			identities, services.RelationshipService(), idem, logger,
		).Routes(cfg.AllowedOrigins))
		r.Mount("/messages", NewMessageHandler(
			services.MessageService(), idem, logger,
		).Routes(cfg.AllowedOrigins))
		r.Mount("/verification", NewVerificationHandler(
			services.VerificationService(), idem, logger,
		).Routes(cfg.AllowedOrigins))
	})

	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		responder{logger: logger}.respondWithJSON(w, http.StatusNotFound,
			errorResponse(CategoryNotFound, "endpoint not found"))
	})
	router.MethodNotAllowed(methodNotAllowed)

	return router
}

func healthHandler(check func(ctx context.Context) map[string]error, logger *zap.Logger) http.HandlerFunc {
	res := responder{logger: logger}
	return func(w http.ResponseWriter, r *http.Request) {
		if check == nil {
			res.respondWithJSON(w, http.StatusOK, successResponse(map[string]string{"status": "healthy"}, ""))
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		failures := check(ctx)
		if len(failures) == 0 {
			res.respondWithJSON(w, http.StatusOK, successResponse(map[string]string{"status": "healthy"}, ""))
			return
		}
		details := make(map[string]string, len(failures))
		for name, err := range failures {
			details[name] = err.Error()
		}
		util.Warn("Health check failed", util.Any("failures", details))
		res.respondWithJSON(w, http.StatusServiceUnavailable, Response{
			Success: false,
			Data:    map[string]interface{}{"status": "unhealthy", "dependencies": details},
			Error:   &ErrorBody{Category: CategoryInternal, Message: "one or more dependencies are unhealthy"},
		})
	}
}
