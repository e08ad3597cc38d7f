package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"social-service/internal/config"
	"social-service/internal/models"
	"social-service/internal/repository"
)

// openTestClient connects to TEST_POSTGRES_DSN and applies migrations.
func openTestClient(t *testing.T) *Client {
	t.Helper()
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := NewClient(ctx, config.DatabaseConfig{DSN: dsn, MaxConns: 4})
	require.NoError(t, err)
	require.NoError(t, client.Migrate())
	t.Cleanup(client.Close)
	return client
}

func createTestIdentity(t *testing.T, repo *IdentityRepository) *models.Identity {
	t.Helper()
	id := uuid.NewString()
	identity := &models.Identity{
		ID:           id,
		Handle:       "user_" + id[:8],
		DisplayName:  "User " + id[:8],
		Email:        id[:8] + "@example.com",
		PasswordHash: "hash",
		Role:         models.RoleMember,
	}
	require.NoError(t, repo.CreateIdentity(context.Background(), identity))
	return identity
}

func TestMigrateURL(t *testing.T) {
	assert.Equal(t, "pgx5://u:p@db:5432/social", migrateURL("postgres://u:p@db:5432/social"))
	assert.Equal(t, "pgx5://db/social", migrateURL("postgresql://db/social"))
	assert.Equal(t, "pgx5://already", migrateURL("pgx5://already"))
}

func TestIdentityRepositoryIntegration(t *testing.T) {
	client := openTestClient(t)
	ctx := context.Background()
	repo := NewIdentityRepository(client.Pool)

	alice := createTestIdentity(t, repo)

	dup := *alice
	dup.ID = uuid.NewString()
	dup.Email = "other-" + alice.Email
	assert.ErrorIs(t, repo.CreateIdentity(ctx, &dup), repository.ErrDuplicate)

	byEmail, err := repo.GetIdentityByEmail(ctx, alice.Email)
	require.NoError(t, err)
	assert.Equal(t, alice.ID, byEmail.ID)

	_, err = repo.GetIdentityByID(ctx, uuid.NewString())
	assert.ErrorIs(t, err, repository.ErrNotFound)

	require.NoError(t, repo.SetOnline(ctx, alice.ID, true))
	profiles, err := repo.GetPublicProfiles(ctx, []string{alice.ID})
	require.NoError(t, err)
	assert.True(t, profiles[alice.ID].Online)
}

func TestFriendshipRepositoryIntegration(t *testing.T) {
	client := openTestClient(t)
	ctx := context.Background()
	identities := NewIdentityRepository(client.Pool)
	repo := NewFriendshipRepository(client.Pool)

	a := createTestIdentity(t, identities)
	b := createTestIdentity(t, identities)

	first := &models.Friendship{ID: uuid.NewString(), RequesterID: a.ID, RecipientID: b.ID, Status: models.FriendshipStatusPending}
	require.NoError(t, repo.CreateFriendship(ctx, first))

	reverse := &models.Friendship{ID: uuid.NewString(), RequesterID: b.ID, RecipientID: a.ID, Status: models.FriendshipStatusPending}
	assert.ErrorIs(t, repo.CreateFriendship(ctx, reverse), repository.ErrDuplicate)

	accepted, err := repo.UpdateFriendship(ctx, first.ID, func(f *models.Friendship) error {
		f.Status = models.FriendshipStatusAccepted
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, models.FriendshipStatusAccepted, accepted.Status)

	friendsOfB, err := repo.ListFriends(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, friendsOfB, 1)
	assert.Equal(t, a.ID, friendsOfB[0].ID)

	deleted, err := repo.DeleteFriendship(ctx, first.ID, func(*models.Friendship) error { return nil })
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = repo.DeleteFriendship(ctx, first.ID, func(*models.Friendship) error { return nil })
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestVerificationRepositoryIntegration(t *testing.T) {
	client := openTestClient(t)
	ctx := context.Background()
	identities := NewIdentityRepository(client.Pool)
	repo := NewVerificationRepository(client.Pool)

	owner := createTestIdentity(t, identities)
	reviewer := createTestIdentity(t, identities)

	request := &models.VerificationRequest{
		ID:         uuid.NewString(),
		IdentityID: owner.ID,
		VerificationEvidence: models.VerificationEvidence{
			SelfieURL:    "https://cdn.example.com/selfie.jpg",
			ContactEmail: "ciphertext",
			Description:  "creator",
			Reason:       "impersonation",
		},
		Status: models.VerificationStatusPending,
	}
	require.NoError(t, repo.CreateVerification(ctx, request))

	second := *request
	second.ID = uuid.NewString()
	assert.ErrorIs(t, repo.CreateVerification(ctx, &second), repository.ErrDuplicate)

	reviewed, err := repo.ReviewVerification(ctx, request.ID, models.Review{
		Decision:   models.VerificationStatusApproved,
		ReviewerID: reviewer.ID,
		ReviewedAt: time.Now().UTC(),
	}, func(*models.VerificationRequest) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, models.VerificationStatusApproved, reviewed.Status)
	require.NotNil(t, reviewed.ReviewedBy)
	assert.Equal(t, reviewer.ID, *reviewed.ReviewedBy)

	refreshed, err := identities.GetIdentityByID(ctx, owner.ID)
	require.NoError(t, err)
	assert.True(t, refreshed.Verified)
}

func TestMessageRepositoryIntegration(t *testing.T) {
	client := openTestClient(t)
	ctx := context.Background()
	identities := NewIdentityRepository(client.Pool)
	repo := NewMessageRepository(client.Pool)

	a := createTestIdentity(t, identities)
	b := createTestIdentity(t, identities)

	for _, m := range []*models.Message{
		{ID: uuid.NewString(), SenderID: a.ID, ReceiverID: b.ID, MessageContent: models.MessageContent{Text: "one"}},
		{ID: uuid.NewString(), SenderID: b.ID, ReceiverID: a.ID, MessageContent: models.MessageContent{Text: "two"}},
	} {
		require.NoError(t, repo.AppendMessage(ctx, m))
	}

	history, err := repo.History(ctx, b.ID, a.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "one", history[0].Text)

	conversations, err := repo.Conversations(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, conversations, 1)
	assert.Equal(t, b.ID, conversations[0].CounterpartID)
	assert.Equal(t, 1, conversations[0].UnreadCount)

	updated, err := repo.MarkRead(ctx, a.ID, b.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), updated)

	_, err = repo.History(ctx, a.ID, "not-a-uuid")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestMessageHistoryKeepsInsertOrderOnTimestampTies(t *testing.T) {
	client := openTestClient(t)
	ctx := context.Background()
	identities := NewIdentityRepository(client.Pool)
	repo := NewMessageRepository(client.Pool)

	a := createTestIdentity(t, identities)
	b := createTestIdentity(t, identities)
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for _, row := range []struct{ id, text string }{
		{"ffffffff-ffff-4fff-bfff-" + a.ID[24:], "first"},
		{"00000000-0000-4000-8000-" + a.ID[24:], "second"},
	} {
		_, err := client.Pool.Exec(ctx,
			`INSERT INTO messages (id, sender_id, receiver_id, text, created_at) VALUES ($1, $2, $3, $4, $5)`,
			row.id, a.ID, b.ID, row.text, at)
		require.NoError(t, err)
	}

	history, err := repo.History(ctx, a.ID, b.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "first", history[0].Text)
	assert.Equal(t, "second", history[1].Text)

	conversations, err := repo.Conversations(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, conversations, 1)
	assert.Equal(t, "second", conversations[0].LastMessage.Text)
}
