package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"social-service/internal/client"
	"social-service/internal/repository"
	"social-service/internal/util"
)

const (
	sessionPrefix          = "session:"
	identitySessionsPrefix = "identity_sessions:"
)

// SessionCache maps bearer tokens to identity ids and indexes them per identity.
type SessionCache struct {
	client *client.RedisClient
}

var _ repository.SessionStore = (*SessionCache)(nil)

func NewSessionCache(client *client.RedisClient) *SessionCache {
	return &SessionCache{client: client}
}

func (c *SessionCache) CreateSession(ctx context.Context, token, identityID string, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pipe := c.client.Pipeline()
	pipe.Set(ctx, sessionPrefix+token, identityID, ttl)
	indexKey := identitySessionsPrefix + identityID
	pipe.SAdd(ctx, indexKey, token)
	pipe.Expire(ctx, indexKey, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		util.Error("Failed to create session", util.String("identity_id", identityID), util.ErrorField(err))
		return fmt.Errorf("failed to create session: %w", err)
	}

	util.Debug("Session created", util.String("identity_id", identityID), util.Duration("ttl", ttl))
	return nil
}

func (c *SessionCache) LookupSession(ctx context.Context, token string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	identityID, err := c.client.Get(ctx, sessionPrefix+token)
	if err != nil {
		if errors.Is(err, client.ErrKeyNotFound) {
			return "", repository.ErrNotFound
		}
		util.Error("Failed to look up session", util.ErrorField(err))
		return "", fmt.Errorf("failed to look up session: %w", err)
	}
	return identityID, nil
}

func (c *SessionCache) RevokeSession(ctx context.Context, token string) error {
	identityID, err := c.LookupSession(ctx, token)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pipe := c.client.Pipeline()
	pipe.Del(ctx, sessionPrefix+token)
	pipe.SRem(ctx, identitySessionsPrefix+identityID, token)
	if _, err := pipe.Exec(ctx); err != nil {
		util.Error("Failed to revoke session", util.String("identity_id", identityID), util.ErrorField(err))
		return fmt.Errorf("failed to revoke session: %w", err)
	}

	util.Info("Session revoked", util.String("identity_id", identityID))
	return nil
}

// ActiveSessions returns the tokens currently indexed for identityID.
func (c *SessionCache) ActiveSessions(ctx context.Context, identityID string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return c.client.SMembers(ctx, identitySessionsPrefix+identityID)
}
