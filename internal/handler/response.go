package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"

	"go.uber.org/zap"

	"social-service/internal/service"
	"social-service/internal/util"
)

const maxBodyBytes = 1 << 20

// Response represents a standard API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ErrorBody  `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

// ErrorBody carries the error category and a human readable message.
type ErrorBody struct {
	Category string `json:"category"`
	Message  string `json:"message"`
}

const (
	CategoryValidation             = "ValidationError"
	CategoryInvalidCredentials     = "InvalidCredentials"
	CategoryUnauthorized           = "Unauthorized"
	CategoryNotFound               = "NotFound"
	CategoryMethodNotAllowed       = "MethodNotAllowed"
	CategoryConflict               = "Conflict"
	CategoryInvalidStateTransition = "InvalidStateTransition"
	CategoryRateLimited            = "RateLimited"
	CategoryInternal               = "InternalError"
)

func successResponse(data interface{}, message string) Response {
	return Response{
		Success: true,
		Data:    data,
		Message: message,
	}
}

func errorResponse(category, message string) Response {
	return Response{
		Success: false,
		Error:   &ErrorBody{Category: category, Message: message},
	}
}

// getStatusCode determines the HTTP status and category for an error
func getStatusCode(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrValidation):
		return http.StatusBadRequest, CategoryValidation
	case errors.Is(err, service.ErrInvalidCredentials):
		return http.StatusUnauthorized, CategoryInvalidCredentials
	case errors.Is(err, service.ErrUnauthorized):
		return http.StatusForbidden, CategoryUnauthorized
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound, CategoryNotFound
	case errors.Is(err, service.ErrMethodNotAllowed):
		return http.StatusMethodNotAllowed, CategoryMethodNotAllowed
	case errors.Is(err, service.ErrConflict):
		return http.StatusConflict, CategoryConflict
	case errors.Is(err, service.ErrInvalidStateTransition):
		return http.StatusConflict, CategoryInvalidStateTransition
	case errors.Is(err, service.ErrRateLimited):
		return http.StatusTooManyRequests, CategoryRateLimited
	default:
		return http.StatusInternalServerError, CategoryInternal
	}
}

// responder holds the response helpers shared by every handler.
type responder struct {
	logger *zap.Logger
}

// respondWithJSON sends a JSON response
func (h responder) respondWithJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode JSON response", util.ErrorField(err))
	}
}

// respondWithError maps err to its category. Internal errors are logged and
// replaced by a generic message.
func (h responder) respondWithError(w http.ResponseWriter, r *http.Request, err error) {
	statusCode, category := getStatusCode(err)
	message := err.Error()
	if category == CategoryInternal {
		h.logger.Error("Internal error",
			util.ErrorField(err),
			util.String("method", r.Method),
			util.String("path", r.URL.Path),
		)
		message = "an internal error occurred"
	} else {
		h.logger.Debug("HTTP error response",
			util.ErrorField(err),
			util.Int("status_code", statusCode),
		)
	}
	h.respondWithJSON(w, statusCode, errorResponse(category, message))
}

// decodeBody reads a JSON body into v. Malformed input is a validation error.
func decodeBody(r *http.Request, v interface{}) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("%w: unreadable request body", service.ErrValidation)
	}
	return decodeBytes(body, v)
}

func decodeBytes(body []byte, v interface{}) error {
	if len(body) == 0 {
		body = []byte("{}")
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: invalid JSON body", service.ErrValidation)
	}
	return nil
}

// clientIP returns the remote host after middleware.RealIP has run.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
