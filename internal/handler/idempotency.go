package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"social-service/internal/repository"
	"social-service/internal/service"
	"social-service/internal/util"
)

const (
	maxIdempotencyKeyLength = 128
	// an abandoned reservation expires after this
	inFlightTTL = 5 * time.Minute
)

// inFlightMarker holds a key while its first request runs. Status 0 never
// matches a stored response.
var inFlightMarker = []byte(`{"status":0}`)

// storedResponse is what a keyed write leaves behind for its retries.
type storedResponse struct {
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body"`
}

// idempotency replays the first successful response for an Idempotency-Key.
// Keys are scoped per caller and per action so clients cannot collide.
type idempotency struct {
	store  repository.IdempotencyStore
	ttl    time.Duration
	logger *zap.Logger
}

func (i *idempotency) storageKey(r *http.Request, callerID, scope string) (string, bool) {
	if i == nil || i.store == nil {
		return "", false
	}
	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if key == "" || len(key) > maxIdempotencyKeyLength {
		return "", false
	}
	return callerID + ":" + scope + ":" + key, true
}

// reserve claims key for this request with an in-flight marker. When the key
// is taken it writes either the stored response or a Conflict and returns false.
// A store failure lets the request proceed unkeyed.
func (i *idempotency) reserve(w http.ResponseWriter, r *http.Request, res responder, key string) (reserved, proceed bool) {
	claimed, err := i.store.Save(r.Context(), key, inFlightMarker, inFlightTTL)
	if err != nil {
		i.logger.Warn("Idempotency reservation failed", util.ErrorField(err))
		return false, true
	}
	if claimed {
		return true, true
	}

	payload, found, err := i.store.Lookup(r.Context(), key)
	if err != nil {
		i.logger.Warn("Idempotency lookup failed", util.ErrorField(err))
		return false, true
	}
	var stored storedResponse
	if found {
		if err := json.Unmarshal(payload, &stored); err != nil {
			i.logger.Warn("Discarding unreadable idempotent response", util.ErrorField(err))
			found = false
		}
	}
	if !found || stored.Status == 0 {
		res.respondWithError(w, r, fmt.Errorf("%w: a request with this Idempotency-Key is still in progress", service.ErrConflict))
		return false, false
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Idempotent-Replayed", "true")
	w.WriteHeader(stored.Status)
	w.Write(stored.Body)
	return false, false
}

func (i *idempotency) complete(r *http.Request, key string, status int, body interface{}) {
	encoded, err := json.Marshal(body)
	if err != nil {
		i.release(r, key)
		return
	}
	payload, err := json.Marshal(storedResponse{Status: status, Body: encoded})
	if err != nil {
		i.release(r, key)
		return
	}
	if err := i.store.Put(r.Context(), key, payload, i.ttl); err != nil {
		i.logger.Warn("Failed to store idempotent response", util.ErrorField(err))
	}
}

// release frees key after a failed write so the client may retry.
func (i *idempotency) release(r *http.Request, key string) {
	if err := i.store.Delete(r.Context(), key); err != nil {
		i.logger.Warn("Failed to release idempotency key", util.ErrorField(err))
	}
}

// run executes a keyed write. Without a key it behaves like a plain write.
// Concurrent requests with the same key run write at most once.
func (i *idempotency) run(
	w http.ResponseWriter,
	r *http.Request,
	res responder,
	callerID, scope string,
	status int,
	write func() (interface{}, error),
) {
	key, keyed := i.storageKey(r, callerID, scope)
	if keyed {
		reserved, proceed := i.reserve(w, r, res, key)
		if !proceed {
			return
		}
		keyed = reserved
	}

	data, err := write()
	if err != nil {
		if keyed {
			i.release(r, key)
		}
		res.respondWithError(w, r, err)
		return
	}
	body := successResponse(data, "")
	if keyed {
		i.complete(r, key, status, body)
	}
	res.respondWithJSON(w, status, body)
}
