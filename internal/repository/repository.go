// Package repository declares the storage contracts shared by the postgres,
// memory and scylla implementations.
package repository

import (
	"context"
	"errors"
	"time"

	"social-service/internal/models"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("duplicate record")
)

// SearchLimit caps identity search results.
const SearchLimit = 20

type IdentityRepository interface {
	// CreateIdentity returns ErrDuplicate when handle or email is taken.
	CreateIdentity(ctx context.Context, identity *models.Identity) error
	GetIdentityByID(ctx context.Context, id string) (*models.Identity, error)
	GetIdentityByEmail(ctx context.Context, email string) (*models.Identity, error)
	GetIdentityByHandle(ctx context.Context, handle string) (*models.Identity, error)
	SetOnline(ctx context.Context, id string, online bool) error
	UpdatePasswordHash(ctx context.Context, id, passwordHash string) error
	// SearchIdentities matches handle or display name case-insensitively.
	SearchIdentities(ctx context.Context, query string, limit int) ([]models.PublicProfile, error)
	GetPublicProfiles(ctx context.Context, ids []string) (map[string]models.PublicProfile, error)
	HealthCheck(ctx context.Context) error
}

// FriendshipMutator runs inside the row lock; returning an error aborts the write.
type FriendshipMutator func(current *models.Friendship) error

type FriendshipRepository interface {
	// CreateFriendship returns ErrDuplicate if an open (pending/accepted) row exists for the pair.
	CreateFriendship(ctx context.Context, friendship *models.Friendship) error
	GetFriendship(ctx context.Context, id string) (*models.Friendship, error)
	// UpdateFriendship locks the row, applies mutate and persists the result atomically.
	UpdateFriendship(ctx context.Context, id string, mutate FriendshipMutator) (*models.Friendship, error)
	// DeleteFriendship removes the row after authorize accepts it. A missing row is not an error.
	DeleteFriendship(ctx context.Context, id string, authorize FriendshipMutator) (bool, error)
	// ListFriends returns accepted friendships ordered by created_at, id ascending.
	ListFriends(ctx context.Context, identityID string) ([]models.FriendEntry, error)
	// ListIncomingRequests returns pending rows addressed to identityID, oldest first.
	ListIncomingRequests(ctx context.Context, identityID string) ([]models.FriendRequestEntry, error)
}

// VerificationMutator validates the locked request before the review is written.
type VerificationMutator func(current *models.VerificationRequest) error

type VerificationRepository interface {
	// CreateVerification returns ErrDuplicate when the identity already has a pending request.
	CreateVerification(ctx context.Context, request *models.VerificationRequest) error
	GetVerification(ctx context.Context, id string) (*models.VerificationRequest, error)
	// ListVerificationsByStatus orders newest first.
	ListVerificationsByStatus(ctx context.Context, status models.VerificationStatus) ([]models.VerificationEntry, error)
	ListVerificationsByIdentity(ctx context.Context, identityID string) ([]models.VerificationRequest, error)
	// ReviewVerification locks the request, runs check, writes the review and,
	// for an approval, sets the owner's verified flag in the same transaction.
	ReviewVerification(ctx context.Context, id string, review models.Review, check VerificationMutator) (*models.VerificationRequest, error)
}

type MessageRepository interface {
	AppendMessage(ctx context.Context, message *models.Message) error
	// History returns both directions of the pair in append order.
	History(ctx context.Context, identityA, identityB string) ([]models.Message, error)
	// Conversations returns the latest message per counterpart with unread counts.
	Conversations(ctx context.Context, identityID string) ([]ConversationSummary, error)
	// MarkRead flags messages from counterpartID to identityID as read.
	MarkRead(ctx context.Context, identityID, counterpartID string) (int64, error)
}

// ConversationSummary is the storage-level chat list row before profiles are joined.
type ConversationSummary struct {
	CounterpartID string
	LastMessage   models.Message
	UnreadCount   int
}

// SessionStore maps opaque bearer tokens to identity ids.
type SessionStore interface {
	CreateSession(ctx context.Context, token, identityID string, ttl time.Duration) error
	// LookupSession returns ErrNotFound for unknown or expired tokens.
	LookupSession(ctx context.Context, token string) (string, error)
	RevokeSession(ctx context.Context, token string) error
}

// LoginThrottle counts failed logins per key inside a sliding window.
type LoginThrottle interface {
	Failures(ctx context.Context, key string) (int, error)
	RecordFailure(ctx context.Context, key string, window time.Duration) (int, error)
	Reset(ctx context.Context, key string) error
}

// IdempotencyStore keeps the first response recorded for a client supplied key.
type IdempotencyStore interface {
	Lookup(ctx context.Context, key string) ([]byte, bool, error)
	// Save writes payload only if key is unused and returns false otherwise.
	Save(ctx context.Context, key string, payload []byte, ttl time.Duration) (bool, error)
	// Put overwrites key unconditionally.
	Put(ctx context.Context, key string, payload []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// IdentitySearcher is implemented by the relational store and by the search index.
type IdentitySearcher interface {
	SearchIdentities(ctx context.Context, query string, limit int) ([]models.PublicProfile, error)
}

// SecurityEventRecorder appends audit rows.
type SecurityEventRecorder interface {
	RecordSecurityEvent(ctx context.Context, event models.SecurityEvent) error
}
