package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"social-service/internal/repository/memory"
	"social-service/internal/service"
)

func keyedRequest(key string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/messages", nil)
	req.Header.Set("Idempotency-Key", key)
	return req
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return env
}

func TestConcurrentKeyedWritesRunOnce(t *testing.T) {
	idem := &idempotency{store: memory.NewCache(), ttl: time.Hour, logger: zap.NewNop()}
	res := responder{logger: zap.NewNop()}

	var writes atomic.Int32
	entered := make(chan struct{})
	unblock := make(chan struct{})
	slowWrite := func() (interface{}, error) {
		writes.Add(1)
		close(entered)
		<-unblock
		return map[string]string{"id": "m1"}, nil
	}
	fastWrite := func() (interface{}, error) {
		writes.Add(1)
		return map[string]string{"id": "m2"}, nil
	}

	first := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		defer close(done)
		idem.run(first, keyedRequest("k1"), res, "alice", "send-message", http.StatusCreated, slowWrite)
	}()
	<-entered

	duplicate := httptest.NewRecorder()
	idem.run(duplicate, keyedRequest("k1"), res, "alice", "send-message", http.StatusCreated, fastWrite)
	assert.Equal(t, http.StatusConflict, duplicate.Code)
	assert.Equal(t, CategoryConflict, decodeEnvelope(t, duplicate).Error.Category)

	close(unblock)
	<-done
	require.Equal(t, http.StatusCreated, first.Code)

	retry := httptest.NewRecorder()
	idem.run(retry, keyedRequest("k1"), res, "alice", "send-message", http.StatusCreated, fastWrite)
	assert.Equal(t, http.StatusCreated, retry.Code)
	assert.Equal(t, "true", retry.Header().Get("Idempotent-Replayed"))
	assert.JSONEq(t, first.Body.String(), retry.Body.String())

	assert.EqualValues(t, 1, writes.Load())
}

func TestFailedKeyedWriteReleasesKey(t *testing.T) {
	cache := memory.NewCache()
	idem := &idempotency{store: cache, ttl: time.Hour, logger: zap.NewNop()}
	res := responder{logger: zap.NewNop()}

	failed := httptest.NewRecorder()
	idem.run(failed, keyedRequest("k2"), res, "alice", "send-request", http.StatusCreated, func() (interface{}, error) {
		return nil, errors.Join(service.ErrNotFound, errors.New("recipient missing"))
	})
	assert.Equal(t, http.StatusNotFound, failed.Code)

	_, found, err := cache.Lookup(context.Background(), "alice:send-request:k2")
	require.NoError(t, err)
	assert.False(t, found)

	ok := httptest.NewRecorder()
	idem.run(ok, keyedRequest("k2"), res, "alice", "send-request", http.StatusCreated, func() (interface{}, error) {
		return "created", nil
	})
	assert.Equal(t, http.StatusCreated, ok.Code)
	assert.Empty(t, ok.Header().Get("Idempotent-Replayed"))
}

type brokenIdempotencyStore struct{ *memory.Cache }

func (*brokenIdempotencyStore) Save(ctx context.Context, key string, payload []byte, ttl time.Duration) (bool, error) {
	return false, errors.New("redis down")
}

func TestKeyedWriteProceedsWhenStoreFails(t *testing.T) {
	idem := &idempotency{store: &brokenIdempotencyStore{memory.NewCache()}, ttl: time.Hour, logger: zap.NewNop()}
	res := responder{logger: zap.NewNop()}

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		idem.run(rec, keyedRequest("k3"), res, "alice", "submit-verification", http.StatusCreated, func() (interface{}, error) {
			return "ok", nil
		})
		assert.Equal(t, http.StatusCreated, rec.Code)
		assert.Empty(t, rec.Header().Get("Idempotent-Replayed"))
	}
}
