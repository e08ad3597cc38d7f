package handler

import (
	"context"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"social-service/internal/models"
	"social-service/internal/service"
	"social-service/internal/util"
)

type contextKey string

const callerKey contextKey = "caller"

// preflightMaxAge is the one-day lifetime advertised to browsers.
const preflightMaxAge = 86400

var allowedHeaders = []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"}

// Authenticator resolves a bearer token into the calling identity. Requests
// without a valid token pass through anonymous; handlers that need a caller
// reject them via callerFrom.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*models.Identity, error)
}

func AuthMiddleware(auth Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token != "" {
				if caller, err := auth.Authenticate(r.Context(), token); err == nil {
					r = r.WithContext(context.WithValue(r.Context(), callerKey, caller))
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// callerFrom returns the authenticated identity or ErrUnauthorized.
func callerFrom(r *http.Request) (*models.Identity, error) {
	caller, ok := r.Context().Value(callerKey).(*models.Identity)
	if !ok || caller == nil {
		return nil, service.ErrUnauthorized
	}
	return caller, nil
}

// groupCORS applies CORS for one resource group. Preflights pass through to
// the group's OPTIONS handler so it can advertise the full verb list.
func groupCORS(origins []string, methods []string) func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins:     origins,
		AllowedMethods:     methods,
		AllowedHeaders:     allowedHeaders,
		MaxAge:             preflightMaxAge,
		OptionsPassthrough: true,
	})
}

// preflight answers OPTIONS with an empty 200 listing the group's verbs.
func preflight(origins []string, methods []string) http.HandlerFunc {
	allowMethods := strings.Join(methods, ", ")
	wildcard := slices.Contains(origins, "*")
	return func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		if h.Get("Access-Control-Allow-Origin") == "" && wildcard {
			h.Set("Access-Control-Allow-Origin", "*")
		}
		h.Set("Access-Control-Allow-Methods", allowMethods)
		h.Set("Access-Control-Allow-Headers", strings.Join(allowedHeaders, ", "))
		h.Set("Access-Control-Max-Age", "86400")
		w.WriteHeader(http.StatusOK)
	}
}

// requireHTTPS rejects any request that wasn't made over TLS
func requireHTTPS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.TLS == nil && r.Header.Get("X-Forwarded-Proto") != "https" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUpgradeRequired)
			w.Write([]byte(`{"success":false,"error":{"category":"ValidationError","message":"https required"}}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// LoggerMiddleware creates a middleware that logs HTTP requests
func LoggerMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			defer func() {
				logger.Info("HTTP request",
					util.String("method", r.Method),
					util.String("path", r.URL.Path),
					util.String("request_id", middleware.GetReqID(r.Context())),
					util.String("remote_addr", r.RemoteAddr),
					util.Int("status", ww.Status()),
					util.Duration("duration", time.Since(start)),
					util.String("user_agent", r.UserAgent()),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
