package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"social-service/internal/client"
	"social-service/internal/repository"
	"social-service/internal/util"
)

const loginFailurePrefix = "login_failures:"

// RateLimitCache counts failed logins per normalised email.
type RateLimitCache struct {
	client *client.RedisClient
}

var _ repository.LoginThrottle = (*RateLimitCache)(nil)

func NewRateLimitCache(client *client.RedisClient) *RateLimitCache {
	return &RateLimitCache{client: client}
}

func (c *RateLimitCache) Failures(ctx context.Context, key string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	countStr, err := c.client.Get(ctx, loginFailurePrefix+key)
	if err != nil {
		if errors.Is(err, client.ErrKeyNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get login failure counter: %w", err)
	}

	count, err := strconv.Atoi(countStr)
	if err != nil {
		util.Error("Invalid counter format", util.String("count_str", countStr), util.ErrorField(err))
		return 0, fmt.Errorf("invalid counter format: %w", err)
	}
	return count, nil
}

// RecordFailure increments the counter and restarts its window.
func (c *RateLimitCache) RecordFailure(ctx context.Context, key string, window time.Duration) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	count, err := c.client.IncrWithExpire(ctx, loginFailurePrefix+key, window)
	if err != nil {
		util.Error("Failed to increment login failure counter", util.Duration("window", window), util.ErrorField(err))
		return 0, fmt.Errorf("failed to increment login failure counter: %w", err)
	}

	util.Debug("Login failure recorded", util.Int64("count", count), util.Duration("window", window))
	return int(count), nil
}

func (c *RateLimitCache) Reset(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := c.client.Del(ctx, loginFailurePrefix+key); err != nil {
		util.Error("Failed to reset login failure counter", util.ErrorField(err))
		return fmt.Errorf("failed to reset login failure counter: %w", err)
	}
	return nil
}
