package memory

import (
	"context"
	"sync"
	"time"

	"social-service/internal/repository"
)

type entry struct {
	value     string
	payload   []byte
	count     int
	expiresAt time.Time
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// Cache backs sessions, login throttling and idempotency keys when redis is
// not configured. Expiry is evaluated lazily on read.
type Cache struct {
	mu      sync.Mutex
	entries map[string]entry
	now     func() time.Time
}

var (
	_ repository.SessionStore     = (*Cache)(nil)
	_ repository.LoginThrottle    = (*Cache)(nil)
	_ repository.IdempotencyStore = (*Cache)(nil)
)

func NewCache() *Cache {
	return &Cache{
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

func (c *Cache) SetClock(now func() time.Time) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}

func (c *Cache) load(key string) (entry, bool) {
	e, ok := c.entries[key]
	if !ok {
		return entry{}, false
	}
	if e.expired(c.now()) {
		delete(c.entries, key)
		return entry{}, false
	}
	return e, true
}

func (c *Cache) CreateSession(ctx context.Context, token, identityID string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries["session:"+token] = entry{value: identityID, expiresAt: c.now().Add(ttl)}
	return nil
}

func (c *Cache) LookupSession(ctx context.Context, token string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.load("session:" + token)
	if !ok {
		return "", repository.ErrNotFound
	}
	return e.value, nil
}

func (c *Cache) RevokeSession(ctx context.Context, token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, "session:"+token)
	return nil
}

func (c *Cache) Failures(ctx context.Context, key string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, _ := c.load("login_failures:" + key)
	return e.count, nil
}

func (c *Cache) RecordFailure(ctx context.Context, key string, window time.Duration) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := "login_failures:" + key
	e, ok := c.load(k)
	if !ok {
		e = entry{}
	}
	e.count++
	e.expiresAt = c.now().Add(window)
	c.entries[k] = e
	return e.count, nil
}

func (c *Cache) Reset(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, "login_failures:"+key)
	return nil
}

func (c *Cache) Lookup(ctx context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.load("idempotency:" + key)
	if !ok {
		return nil, false, nil
	}
	return e.payload, true, nil
}

func (c *Cache) Save(ctx context.Context, key string, payload []byte, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := "idempotency:" + key
	if _, ok := c.load(k); ok {
		return false, nil
	}
	c.entries[k] = entry{payload: append([]byte(nil), payload...), expiresAt: c.now().Add(ttl)}
	return true, nil
}

func (c *Cache) Put(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries["idempotency:"+key] = entry{payload: append([]byte(nil), payload...), expiresAt: c.now().Add(ttl)}
	return nil
}

func (c *Cache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, "idempotency:"+key)
	return nil
}
