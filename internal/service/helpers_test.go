package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"social-service/internal/bucketing"
	"social-service/internal/config"
	"social-service/internal/encryption"
	"social-service/internal/events"
	"social-service/internal/hashing"
	"social-service/internal/models"
	"social-service/internal/repository"
	"social-service/internal/repository/memory"
)

const reviewerEmail = "admin@x.com"

type recordingHandler struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordingHandler) Handle(ctx context.Context, event events.Event) error {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
	return nil
}

func (r *recordingHandler) types() []events.Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.Type, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

type testEnv struct {
	store    *memory.Store
	cache    *memory.Cache
	audit    *memory.AuditLog
	recorder *recordingHandler
	factory  *ServiceFactory
}

func testHashingConfig() config.HashingConfig {
	return config.HashingConfig{
		Argon2MemoryCost:  8 * 1024,
		Argon2TimeCost:    1,
		Argon2Parallelism: 1,
		Pepper:            "test-pepper",
		PepperVersion:     1,
	}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := memory.NewStore()
	var tick atomic.Int64
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time {
		return base.Add(time.Duration(tick.Add(1)) * time.Second)
	})
	return newTestEnvWith(t, store, testHashingConfig(), nil)
}

func newTestEnvWith(t *testing.T, store *memory.Store, hashingCfg config.HashingConfig, index repository.IdentitySearcher) *testEnv {
	t.Helper()

	hasher, err := hashing.NewHasher(hashingCfg)
	require.NoError(t, err)

	masterKey := make([]byte, 32)
	_, err = rand.Read(masterKey)
	require.NoError(t, err)
	encryptionMgr, err := encryption.NewEncryptionManager(config.KMSConfig{
		LocalMasterKey: base64.StdEncoding.EncodeToString(masterKey),
	}, nil)
	require.NoError(t, err)

	env := &testEnv{
		store:    store,
		cache:    memory.NewCache(),
		audit:    memory.NewAuditLog(),
		recorder: &recordingHandler{},
	}
	env.factory = NewServiceFactory(Dependencies{
		Identities:    store,
		Friendships:   store,
		Verifications: store,
		Messages:      store,
		SearchIndex:   index,
		Sessions:      env.cache,
		Throttle:      env.cache,
		Audit:         env.audit,
		Publisher:     events.NewInProcessPublisher(env.recorder),
		Hasher:        hasher,
		EncryptionMgr: encryptionMgr,
		BucketingMgr:  bucketing.NewBucketingManager(config.BucketingConfig{ConversationBuckets: 8, EventBuckets: 4}),
		Identity: IdentityConfig{
			SessionTTL:       time.Hour,
			MaxLoginFailures: 3,
			LoginWindow:      time.Minute,
			IsReviewer:       func(email string) bool { return email == reviewerEmail },
		},
	}, zap.NewNop())
	return env
}

// register creates an identity with password "secret" and returns the stored record.
func (e *testEnv) register(t *testing.T, handle, email string) *models.Identity {
	t.Helper()
	profile, err := e.factory.IdentityService().Register(context.Background(), &RegisterRequest{
		Handle:      handle,
		DisplayName: "Display " + handle,
		Email:       email,
		Password:    "secret",
	})
	require.NoError(t, err)

	identity, err := e.store.GetIdentityByID(context.Background(), profile.ID)
	require.NoError(t, err)
	return identity
}

func (e *testEnv) reload(t *testing.T, id string) *models.Identity {
	t.Helper()
	identity, err := e.store.GetIdentityByID(context.Background(), id)
	require.NoError(t, err)
	return identity
}

func (e *testEnv) auditTypes() []models.SecurityEventType {
	var out []models.SecurityEventType
	for _, ev := range e.audit.Events() {
		out = append(out, ev.EventType)
	}
	return out
}
