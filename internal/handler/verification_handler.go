package handler

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"social-service/internal/service"
)

var verificationMethods = []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions}

type VerificationHandler struct {
	responder
	verifications *service.VerificationService
	idem          *idempotency
}

func NewVerificationHandler(verifications *service.VerificationService, idem *idempotency, logger *zap.Logger) *VerificationHandler {
	return &VerificationHandler{responder: responder{logger: logger}, verifications: verifications, idem: idem}
}

func (h *VerificationHandler) Routes(origins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(groupCORS(origins, verificationMethods))
	r.Options("/", preflight(origins, verificationMethods))
	r.Get("/", h.Get)
	r.Post("/", h.Submit)
	r.Put("/", h.Review)
	r.MethodNotAllowed(methodNotAllowed)
	return r
}

// Get lists requests by status for reviewers, the caller's own requests with
// action=mine, or one request with action=request.
func (h *VerificationHandler) Get(w http.ResponseWriter, r *http.Request) {
	caller, err := callerFrom(r)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	q := r.URL.Query()

	var data interface{}
	switch action := strings.ToLower(q.Get("action")); action {
	case "", "list":
		data, err = h.verifications.ListByStatus(r.Context(), caller, q.Get("status"))
	case "mine":
		data, err = h.verifications.ListMine(r.Context(), caller)
	case "request":
		data, err = h.verifications.Get(r.Context(), caller, q.Get("request_id"))
	default:
		err = unknownAction(action)
	}
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(data, ""))
}

func (h *VerificationHandler) Submit(w http.ResponseWriter, r *http.Request) {
	caller, err := callerFrom(r)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	var req service.SubmitVerificationRequest
	if err := decodeBody(r, &req); err != nil {
		h.respondWithError(w, r, err)
		return
	}
	h.idem.run(w, r, h.responder, caller.ID, "submit-verification", http.StatusCreated, func() (interface{}, error) {
		return h.verifications.Submit(r.Context(), caller, &req)
	})
}

func (h *VerificationHandler) Review(w http.ResponseWriter, r *http.Request) {
	caller, err := callerFrom(r)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	var req service.ReviewVerificationRequest
	if err := decodeBody(r, &req); err != nil {
		h.respondWithError(w, r, err)
		return
	}
	reviewed, err := h.verifications.Review(r.Context(), caller, &req, clientIP(r))
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(reviewed, "review recorded"))
}
