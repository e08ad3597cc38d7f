package handler

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"social-service/internal/service"
)

var messageMethods = []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions}

type MessageHandler struct {
	responder
	messages *service.MessageService
	idem     *idempotency
}

func NewMessageHandler(messages *service.MessageService, idem *idempotency, logger *zap.Logger) *MessageHandler {
	return &MessageHandler{responder: responder{logger: logger}, messages: messages, idem: idem}
}

func (h *MessageHandler) Routes(origins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(groupCORS(origins, messageMethods))
	r.Options("/", preflight(origins, messageMethods))
	r.Get("/", h.Get)
	r.Post("/", h.Send)
	r.Put("/", h.MarkRead)
	r.MethodNotAllowed(methodNotAllowed)
	return r
}

// Get returns the history with chat_with, or the chat list for
// action=conversations.
func (h *MessageHandler) Get(w http.ResponseWriter, r *http.Request) {
	caller, err := callerFrom(r)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	q := r.URL.Query()

	var data interface{}
	switch action := strings.ToLower(q.Get("action")); action {
	case "", "history":
		data, err = h.messages.History(r.Context(), caller, q.Get("user_id"), q.Get("chat_with"))
	case "conversations":
		data, err = h.messages.Conversations(r.Context(), caller)
	default:
		err = unknownAction(action)
	}
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(data, ""))
}

func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	caller, err := callerFrom(r)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	var req service.SendMessageRequest
	if err := decodeBody(r, &req); err != nil {
		h.respondWithError(w, r, err)
		return
	}
	h.idem.run(w, r, h.responder, caller.ID, "send-message", http.StatusCreated, func() (interface{}, error) {
		return h.messages.Send(r.Context(), caller, &req)
	})
}

func (h *MessageHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	caller, err := callerFrom(r)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	var req struct {
		ChatWith string `json:"chat_with"`
	}
	if err := decodeBody(r, &req); err != nil {
		h.respondWithError(w, r, err)
		return
	}
	updated, err := h.messages.MarkRead(r.Context(), caller, req.ChatWith)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(map[string]int64{"updated": updated}, ""))
}
