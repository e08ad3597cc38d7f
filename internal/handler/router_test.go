package handler

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"social-service/internal/bucketing"
	"social-service/internal/config"
	"social-service/internal/encryption"
	"social-service/internal/events"
	"social-service/internal/hashing"
	"social-service/internal/repository/memory"
	"social-service/internal/service"
)

const reviewerEmail = "reviewer@x.com"

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *ErrorBody      `json:"error"`
}

type testServer struct {
	router http.Handler
	store  *memory.Store
}

func newTestServer(t *testing.T, health func(ctx context.Context) map[string]error) *testServer {
	t.Helper()

	hasher, err := hashing.NewHasher(config.HashingConfig{
		Argon2MemoryCost:  8 * 1024,
		Argon2TimeCost:    1,
		Argon2Parallelism: 1,
		Pepper:            "handler-pepper",
		PepperVersion:     1,
	})
	require.NoError(t, err)

	masterKey := make([]byte, 32)
	_, err = rand.Read(masterKey)
	require.NoError(t, err)
	encryptionMgr, err := encryption.NewEncryptionManager(config.KMSConfig{
		LocalMasterKey: base64.StdEncoding.EncodeToString(masterKey),
	}, nil)
	require.NoError(t, err)

	store := memory.NewStore()
	cache := memory.NewCache()
	services := service.NewServiceFactory(service.Dependencies{
		Identities:    store,
		Friendships:   store,
		Verifications: store,
		Messages:      store,
		Sessions:      cache,
		Throttle:      cache,
		Audit:         memory.NewAuditLog(),
		Publisher:     events.NoopPublisher{},
		Hasher:        hasher,
		EncryptionMgr: encryptionMgr,
		BucketingMgr:  bucketing.NewBucketingManager(config.BucketingConfig{ConversationBuckets: 8, EventBuckets: 4}),
		Identity: service.IdentityConfig{
			SessionTTL:       time.Hour,
			MaxLoginFailures: 5,
			LoginWindow:      time.Minute,
			IsReviewer:       func(email string) bool { return email == reviewerEmail },
		},
	}, zap.NewNop())

	router := NewRouter(services, RouterConfig{
		AllowedOrigins: []string{"*"},
		Idempotency:    cache,
		IdempotencyTTL: time.Hour,
		HealthCheck:    health,
	}, zap.NewNop())
	return &testServer{router: router, store: store}
}

func (s *testServer) do(t *testing.T, method, path, token string, body interface{}, headers map[string]string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		require.NoError(t, err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	var env envelope
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	}
	return rec, env
}

type account struct {
	ID    string
	Token string
}

func (s *testServer) signup(t *testing.T, handle, email string) account {
	t.Helper()
	rec, _ := s.do(t, http.MethodPost, "/api/v1/identity", "", map[string]string{
		"action":       "register",
		"handle":       handle,
		"display_name": "Display " + handle,
		"email":        email,
		"password":     "correct horse",
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec, env := s.do(t, http.MethodPost, "/api/v1/identity?action=login", "", map[string]string{
		"email":    email,
		"password": "correct horse",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var session struct {
		Token string `json:"token"`
		User  struct {
			ID string `json:"id"`
		} `json:"user"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &session))
	require.NotEmpty(t, session.Token)
	return account{ID: session.User.ID, Token: session.Token}
}

func TestIdentityEndpoints(t *testing.T) {
	s := newTestServer(t, nil)
	alice := s.signup(t, "alice", "alice@x.com")

	rec, env := s.do(t, http.MethodPost, "/api/v1/identity", "", map[string]string{
		"action": "register", "handle": "alice", "display_name": "A",
		"email": "other@x.com", "password": "pw",
	}, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, CategoryConflict, env.Error.Category)

	rec, env = s.do(t, http.MethodPost, "/api/v1/identity", "", map[string]string{
		"action": "login", "email": "alice@x.com", "password": "wrong",
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, CategoryInvalidCredentials, env.Error.Category)
	assert.NotContains(t, rec.Body.String(), "password_hash")

	rec, env = s.do(t, http.MethodPost, "/api/v1/identity", "", map[string]string{"action": "reset"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, CategoryValidation, env.Error.Category)

	rec, _ = s.do(t, http.MethodPost, "/api/v1/identity?action=logout", alice.Token, nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, env = s.do(t, http.MethodGet, "/api/v1/messages?action=conversations", alice.Token, nil, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, CategoryUnauthorized, env.Error.Category)
}

func TestPreflightAdvertisesGroupVerbs(t *testing.T) {
	s := newTestServer(t, nil)

	for path, methods := range map[string]string{
		"/api/v1/identity":      "POST, OPTIONS",
		"/api/v1/messages":      "GET, POST, PUT, OPTIONS",
		"/api/v1/relationships": "GET, POST, PUT, DELETE, OPTIONS",
		"/api/v1/verification":  "GET, POST, PUT, OPTIONS",
	} {
		rec, _ := s.do(t, http.MethodOptions, path, "", nil, map[string]string{
			"Origin":                        "https://app.example.com",
			"Access-Control-Request-Method": "POST",
		})
		assert.Equal(t, http.StatusOK, rec.Code, path)
		assert.Zero(t, rec.Body.Len(), path)
		assert.Equal(t, methods, rec.Header().Get("Access-Control-Allow-Methods"), path)
		assert.Equal(t, "86400", rec.Header().Get("Access-Control-Max-Age"), path)
	}
}

func TestUnsupportedVerbIsMethodNotAllowed(t *testing.T) {
	s := newTestServer(t, nil)

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/v1/identity"},
		{http.MethodDelete, "/api/v1/messages"},
		{http.MethodPatch, "/api/v1/relationships"},
		{http.MethodDelete, "/api/v1/verification"},
	} {
		rec, env := s.do(t, tc.method, tc.path, "", nil, nil)
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code, tc.path)
		require.NotNil(t, env.Error, tc.path)
		assert.Equal(t, CategoryMethodNotAllowed, env.Error.Category, tc.path)
	}

	rec, env := s.do(t, http.MethodGet, "/api/v1/nowhere", "", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, CategoryNotFound, env.Error.Category)
}

func TestFriendRequestOverHTTPIsIdempotent(t *testing.T) {
	s := newTestServer(t, nil)
	alice := s.signup(t, "alice", "alice@x.com")
	bob := s.signup(t, "bob", "bob@x.com")

	send := func() (*httptest.ResponseRecorder, envelope) {
		return s.do(t, http.MethodPost, "/api/v1/relationships", alice.Token,
			map[string]string{"friend_id": bob.ID},
			map[string]string{"Idempotency-Key": "req-1"})
	}
	first, firstEnv := send()
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())
	second, secondEnv := send()
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, "true", second.Header().Get("Idempotent-Replayed"))
	assert.JSONEq(t, string(firstEnv.Data), string(secondEnv.Data))

	rec, env := s.do(t, http.MethodGet, "/api/v1/relationships?action=requests", bob.Token, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var incoming []struct {
		RequestID string `json:"request_id"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &incoming))
	require.Len(t, incoming, 1)

	rec, _ = s.do(t, http.MethodPut, "/api/v1/relationships", alice.Token,
		map[string]string{"request_id": incoming[0].RequestID, "status": "accepted"}, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, env = s.do(t, http.MethodPut, "/api/v1/relationships", bob.Token,
		map[string]string{"request_id": incoming[0].RequestID, "status": "accepted"}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec, env = s.do(t, http.MethodPut, "/api/v1/relationships", bob.Token,
		map[string]string{"request_id": incoming[0].RequestID, "status": "declined"}, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, CategoryInvalidStateTransition, env.Error.Category)

	rec, env = s.do(t, http.MethodGet, "/api/v1/relationships?action=friends", alice.Token, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, string(env.Data), bob.ID)

	rec, env = s.do(t, http.MethodGet, "/api/v1/relationships?action=search&q=BO", "", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, string(env.Data), `"handle":"bob"`)

	rec, env = s.do(t, http.MethodGet, "/api/v1/relationships?action=request&request_id="+incoming[0].RequestID, alice.Token, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, string(env.Data), `"status":"accepted"`)

	rec, env = s.do(t, http.MethodGet, "/api/v1/relationships?action=profile&handle=Bob", "", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, string(env.Data), `"id":"`+bob.ID+`"`)
	assert.NotContains(t, string(env.Data), "bob@x.com")

	rec, env = s.do(t, http.MethodGet, "/api/v1/relationships?action=profile&handle=nobody", "", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, CategoryNotFound, env.Error.Category)

	rec, env = s.do(t, http.MethodGet, "/api/v1/relationships?action=enemies", alice.Token, nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, CategoryValidation, env.Error.Category)

	rec, env = s.do(t, http.MethodDelete, "/api/v1/relationships?request_id=gone", alice.Token, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"withdrawn":false}`, string(env.Data))
}

func TestMessagingOverHTTP(t *testing.T) {
	s := newTestServer(t, nil)
	alice := s.signup(t, "alice", "alice@x.com")
	bob := s.signup(t, "bob", "bob@x.com")

	rec, _ := s.do(t, http.MethodPost, "/api/v1/messages", alice.Token,
		map[string]string{"receiver_id": bob.ID, "text": "hello"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec, env := s.do(t, http.MethodPost, "/api/v1/messages", alice.Token,
		map[string]string{"receiver_id": bob.ID}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, CategoryValidation, env.Error.Category)

	rec, env = s.do(t, http.MethodGet, "/api/v1/messages?chat_with="+alice.ID, bob.Token, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var history []struct {
		Text              string `json:"text"`
		SenderDisplayName string `json:"sender_display_name"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &history))
	require.Len(t, history, 1)
	assert.Equal(t, "hello", history[0].Text)
	assert.Equal(t, "Display alice", history[0].SenderDisplayName)

	rec, env = s.do(t, http.MethodPut, "/api/v1/messages", bob.Token,
		map[string]string{"chat_with": alice.ID}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"updated":1}`, string(env.Data))
}

func TestVerificationReviewOverHTTP(t *testing.T) {
	s := newTestServer(t, nil)
	alice := s.signup(t, "alice", "alice@x.com")
	reviewer := s.signup(t, "reviewer", reviewerEmail)

	rec, env := s.do(t, http.MethodPost, "/api/v1/verification", alice.Token, map[string]string{
		"selfie_url":    "https://cdn.example.com/me.jpg",
		"contact_email": "alice@contact.com",
		"description":   "Musician",
		"reason":        "Fans are confused",
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var submitted struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &submitted))

	rec, _ = s.do(t, http.MethodGet, "/api/v1/verification?status=pending", alice.Token, nil, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, env = s.do(t, http.MethodGet, "/api/v1/verification", reviewer.Token, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, string(env.Data), "alice@contact.com")

	rec, _ = s.do(t, http.MethodPut, "/api/v1/verification", reviewer.Token,
		map[string]string{"request_id": submitted.ID, "status": "approved"}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec, env = s.do(t, http.MethodPut, "/api/v1/verification", reviewer.Token,
		map[string]string{"request_id": submitted.ID, "status": "rejected"}, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, CategoryInvalidStateTransition, env.Error.Category)

	identity, err := s.store.GetIdentityByID(context.Background(), alice.ID)
	require.NoError(t, err)
	assert.True(t, identity.Verified)

	rec, env = s.do(t, http.MethodGet, "/api/v1/verification?action=mine", alice.Token, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, string(env.Data), `"status":"approved"`)

	rec, env = s.do(t, http.MethodGet, "/api/v1/verification?action=request&request_id="+submitted.ID, alice.Token, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, string(env.Data), "alice@contact.com")
}

func TestHealthEndpoint(t *testing.T) {
	healthy := newTestServer(t, func(ctx context.Context) map[string]error { return nil })
	rec, env := healthy.do(t, http.MethodGet, "/health", "", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.Success)

	failing := newTestServer(t, func(ctx context.Context) map[string]error {
		return map[string]error{"redis": errors.New("connection refused")}
	})
	rec, env = failing.do(t, http.MethodGet, "/health", "", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.False(t, env.Success)
	assert.Contains(t, string(env.Data), "redis")
}

func TestInternalErrorsAreNotLeaked(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	responder{logger: zap.NewNop()}.respondWithError(rec, req, errors.New("pq: relation \"identities\" does not exist"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "identities")
	assert.Contains(t, rec.Body.String(), CategoryInternal)
}
