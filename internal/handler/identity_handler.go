package handler

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"social-service/internal/service"
)

var identityMethods = []string{http.MethodPost, http.MethodOptions}

// IdentityHandler serves registration, login and logout.
type IdentityHandler struct {
	responder
	identities *service.IdentityService
}

func NewIdentityHandler(identities *service.IdentityService, logger *zap.Logger) *IdentityHandler {
	return &IdentityHandler{responder: responder{logger: logger}, identities: identities}
}

// Routes mounts the identity group.
func (h *IdentityHandler) Routes(origins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(groupCORS(origins, identityMethods))
	r.Options("/", preflight(origins, identityMethods))
	r.Post("/", h.Post)
	r.MethodNotAllowed(methodNotAllowed)
	return r
}

func (h *IdentityHandler) Post(w http.ResponseWriter, r *http.Request) {
	action, body, err := readAction(r)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}

	switch action {
	case "register":
		var req service.RegisterRequest
		if err := decodeBytes(body, &req); err != nil {
			h.respondWithError(w, r, err)
			return
		}
		profile, err := h.identities.Register(r.Context(), &req)
		if err != nil {
			h.respondWithError(w, r, err)
			return
		}
		h.respondWithJSON(w, http.StatusCreated, successResponse(profile, "registered"))

	case "login":
		var req service.LoginRequest
		if err := decodeBytes(body, &req); err != nil {
			h.respondWithError(w, r, err)
			return
		}
		session, err := h.identities.Login(r.Context(), &req, clientIP(r))
		if err != nil {
			h.respondWithError(w, r, err)
			return
		}
		h.respondWithJSON(w, http.StatusOK, successResponse(session, "logged in"))

	case "logout":
		if err := h.identities.Logout(r.Context(), bearerToken(r), clientIP(r)); err != nil {
			h.respondWithError(w, r, err)
			return
		}
		h.respondWithJSON(w, http.StatusOK, successResponse(nil, "logged out"))

	default:
		h.respondWithError(w, r, unknownAction(action))
	}
}

// readAction returns the action discriminator from the query string or,
// failing that, from the "action" field of the JSON body. The body is
// returned so the caller can decode the payload.
func readAction(r *http.Request) (string, []byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return "", nil, fmt.Errorf("%w: unreadable request body", service.ErrValidation)
	}
	action := r.URL.Query().Get("action")
	if action == "" && len(body) > 0 {
		var envelope struct {
			Action string `json:"action"`
		}
		if err := json.Unmarshal(body, &envelope); err != nil {
			return "", nil, fmt.Errorf("%w: invalid JSON body", service.ErrValidation)
		}
		action = envelope.Action
	}
	return strings.ToLower(strings.TrimSpace(action)), body, nil
}

func unknownAction(action string) error {
	if action == "" {
		return fmt.Errorf("%w: action is required", service.ErrValidation)
	}
	return fmt.Errorf("%w: unknown action %q", service.ErrValidation, action)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusMethodNotAllowed)
	json.NewEncoder(w).Encode(errorResponse(CategoryMethodNotAllowed, r.Method+" is not supported here"))
}
