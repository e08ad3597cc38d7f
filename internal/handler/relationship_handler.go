package handler

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"social-service/internal/service"
)

var relationshipMethods = []string{
	http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions,
}

// RelationshipHandler serves search, friend lists and the friend request
// lifecycle.
type RelationshipHandler struct {
	responder
	identities    *service.IdentityService
	relationships *service.RelationshipService
	idem          *idempotency
}

func NewRelationshipHandler(
	identities *service.IdentityService,
	relationships *service.RelationshipService,
	idem *idempotency,
	logger *zap.Logger,
) *RelationshipHandler {
	return &RelationshipHandler{
		responder:     responder{logger: logger},
		identities:    identities,
		relationships: relationships,
		idem:          idem,
	}
}

func (h *RelationshipHandler) Routes(origins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(groupCORS(origins, relationshipMethods))
	r.Options("/", preflight(origins, relationshipMethods))
	r.Get("/", h.Get)
	r.Post("/", h.SendRequest)
	r.Put("/", h.Respond)
	r.Delete("/", h.Withdraw)
	r.MethodNotAllowed(methodNotAllowed)
	return r
}

func (h *RelationshipHandler) Get(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	action := strings.ToLower(q.Get("action"))

	if action == "" || action == "search" {
		query := q.Get("q")
		if query == "" {
			query = q.Get("query")
		}
		results, err := h.identities.Search(r.Context(), query)
		if err != nil {
			h.respondWithError(w, r, err)
			return
		}
		h.respondWithJSON(w, http.StatusOK, successResponse(results, ""))
		return
	}
	if action == "profile" {
		profile, err := h.identities.ProfileByHandle(r.Context(), q.Get("handle"))
		if err != nil {
			h.respondWithError(w, r, err)
			return
		}
		h.respondWithJSON(w, http.StatusOK, successResponse(profile, ""))
		return
	}

	caller, err := callerFrom(r)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}

	var data interface{}
	switch action {
	case "friends":
		data, err = h.relationships.ListFriends(r.Context(), caller, q.Get("user_id"))
	case "requests":
		data, err = h.relationships.ListIncomingRequests(r.Context(), caller, q.Get("user_id"))
	case "request":
		data, err = h.relationships.GetRequest(r.Context(), caller, q.Get("request_id"))
	default:
		err = unknownAction(action)
	}
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(data, ""))
}

func (h *RelationshipHandler) SendRequest(w http.ResponseWriter, r *http.Request) {
	caller, err := callerFrom(r)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	var req service.SendFriendRequest
	if err := decodeBody(r, &req); err != nil {
		h.respondWithError(w, r, err)
		return
	}
	h.idem.run(w, r, h.responder, caller.ID, "send-request", http.StatusCreated, func() (interface{}, error) {
		return h.relationships.SendRequest(r.Context(), caller, &req)
	})
}

func (h *RelationshipHandler) Respond(w http.ResponseWriter, r *http.Request) {
	caller, err := callerFrom(r)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	var req service.RespondFriendRequest
	if err := decodeBody(r, &req); err != nil {
		h.respondWithError(w, r, err)
		return
	}
	friendship, err := h.relationships.RespondToRequest(r.Context(), caller, &req)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(friendship, ""))
}

func (h *RelationshipHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	caller, err := callerFrom(r)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	withdrawn, err := h.relationships.WithdrawRequest(r.Context(), caller, r.URL.Query().Get("request_id"))
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(map[string]bool{"withdrawn": withdrawn}, ""))
}
