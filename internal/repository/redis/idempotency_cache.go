package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"social-service/internal/client"
	"social-service/internal/repository"
)

const idempotencyPrefix = "idempotency:"

type IdempotencyCache struct {
	client *client.RedisClient
}

var _ repository.IdempotencyStore = (*IdempotencyCache)(nil)

func NewIdempotencyCache(client *client.RedisClient) *IdempotencyCache {
	return &IdempotencyCache{client: client}
}

func (c *IdempotencyCache) Lookup(ctx context.Context, key string) ([]byte, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	payload, err := c.client.GetBytes(ctx, idempotencyPrefix+key)
	if err != nil {
		if errors.Is(err, client.ErrKeyNotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to read idempotency key: %w", err)
	}
	return payload, true, nil
}

// Save stores payload only if key is unused (SET NX).
func (c *IdempotencyCache) Save(ctx context.Context, key string, payload []byte, ttl time.Duration) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	stored, err := c.client.SetNX(ctx, idempotencyPrefix+key, payload, ttl)
	if err != nil {
		return false, fmt.Errorf("failed to store idempotency key: %w", err)
	}
	return stored, nil
}

func (c *IdempotencyCache) Put(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := c.client.Set(ctx, idempotencyPrefix+key, payload, ttl); err != nil {
		return fmt.Errorf("failed to store idempotency key: %w", err)
	}
	return nil
}

func (c *IdempotencyCache) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := c.client.Del(ctx, idempotencyPrefix+key); err != nil {
		return fmt.Errorf("failed to release idempotency key: %w", err)
	}
	return nil
}
