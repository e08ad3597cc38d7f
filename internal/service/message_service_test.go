package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.uber.org/zap"

	"social-service/internal/events"
	"social-service/internal/models"
	"social-service/internal/repository"
	"social-service/internal/repository/memory"
)

// malformedIDMessages behaves like the relational store given a counterpart
// id the database cannot parse.
type malformedIDMessages struct {
	*memory.Store
}

func (malformedIDMessages) History(ctx context.Context, identityA, identityB string) ([]models.Message, error) {
	return nil, fmt.Errorf("message history: %w", repository.ErrNotFound)
}

func (malformedIDMessages) MarkRead(ctx context.Context, identityID, counterpartID string) (int64, error) {
	return 0, fmt.Errorf("mark read: %w", repository.ErrNotFound)
}

func TestMalformedCounterpartIsAValidationError(t *testing.T) {
	env := newTestEnv(t)
	alice := env.register(t, "alice", "alice@x.com")
	svc := NewMessageService(env.store, malformedIDMessages{env.store}, nil, zap.NewNop())
	ctx := context.Background()

	_, err := svc.History(ctx, alice, "", "not-a-uuid")
	assert.ErrorIs(t, err, ErrValidation)
	assert.NotErrorIs(t, err, ErrNotFound)

	_, err = svc.MarkRead(ctx, alice, "not-a-uuid")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestHistoryIsSymmetricAndOrdered(t *testing.T) {
	env := newTestEnv(t)
	svc := env.factory.MessageService()
	ctx := context.Background()
	alice := env.register(t, "alice", "alice@x.com")
	bob := env.register(t, "bob", "bob@x.com")
	carol := env.register(t, "carol", "carol@x.com")

	for _, step := range []struct {
		from, to, text string
	}{
		{alice.ID, bob.ID, "one"},
		{bob.ID, alice.ID, "two"},
		{alice.ID, carol.ID, "elsewhere"},
		{alice.ID, bob.ID, "three"},
	} {
		from := alice
		if step.from == bob.ID {
			from = bob
		}
		_, err := svc.Send(ctx, from, &SendMessageRequest{ReceiverID: step.to, Text: step.text})
		require.NoError(t, err)
	}

	ab, err := svc.History(ctx, alice, "", bob.ID)
	require.NoError(t, err)
	ba, err := svc.History(ctx, bob, bob.ID, alice.ID)
	require.NoError(t, err)

	require.Len(t, ab, 3)
	assert.Equal(t, ab, ba)
	assert.Equal(t, []string{"one", "two", "three"}, []string{ab[0].Text, ab[1].Text, ab[2].Text})
	assert.Equal(t, "Display bob", ab[1].SenderDisplayName)
	assert.False(t, ab[0].Read)

	_, err = svc.History(ctx, alice, bob.ID, carol.ID)
	assert.ErrorIs(t, err, ErrUnauthorized)
	_, err = svc.History(ctx, alice, "", "")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestSendRules(t *testing.T) {
	env := newTestEnv(t)
	svc := env.factory.MessageService()
	ctx := context.Background()
	alice := env.register(t, "alice", "alice@x.com")
	bob := env.register(t, "bob", "bob@x.com")

	_, err := svc.Send(ctx, alice, &SendMessageRequest{ReceiverID: bob.ID, Text: "   "})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.Send(ctx, alice, &SendMessageRequest{SenderID: bob.ID, ReceiverID: bob.ID, Text: "hi"})
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = svc.Send(ctx, alice, &SendMessageRequest{ReceiverID: "missing", Text: "hi"})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = svc.Send(ctx, alice, &SendMessageRequest{ReceiverID: alice.ID, Text: "hi"})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.Send(ctx, alice, &SendMessageRequest{ReceiverID: bob.ID, ImageURL: "not a url"})
	assert.ErrorIs(t, err, ErrValidation)

	sent, err := svc.Send(ctx, alice, &SendMessageRequest{
		ReceiverID: bob.ID,
		ImageURL:   "https://cdn.example.com/cat.png",
		AudioURL:   "https://cdn.example.com/hello.ogg",
	})
	require.NoError(t, err)
	assert.Equal(t, alice.ID, sent.SenderID)
	assert.False(t, sent.Read)
	assert.False(t, sent.CreatedAt.IsZero())
	assert.Contains(t, env.recorder.types(), events.MessageSent)
}

func TestConversationsAndMarkRead(t *testing.T) {
	env := newTestEnv(t)
	svc := env.factory.MessageService()
	ctx := context.Background()
	alice := env.register(t, "alice", "alice@x.com")
	bob := env.register(t, "bob", "bob@x.com")
	carol := env.register(t, "carol", "carol@x.com")

	send := func(from, to string, text string) {
		caller := env.reload(t, from)
		_, err := svc.Send(ctx, caller, &SendMessageRequest{ReceiverID: to, Text: text})
		require.NoError(t, err)
	}
	send(bob.ID, alice.ID, "hey")
	send(bob.ID, alice.ID, "you there?")
	send(carol.ID, alice.ID, "lunch")

	convs, err := svc.Conversations(ctx, alice)
	require.NoError(t, err)
	require.Len(t, convs, 2)
	assert.Equal(t, carol.ID, convs[0].Counterpart.ID)
	assert.Equal(t, "carol", convs[0].Counterpart.Handle)
	assert.Equal(t, 1, convs[0].UnreadCount)
	assert.Equal(t, bob.ID, convs[1].Counterpart.ID)
	assert.Equal(t, 2, convs[1].UnreadCount)
	assert.Equal(t, "you there?", convs[1].LastMessage.Text)

	updated, err := svc.MarkRead(ctx, alice, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated)

	updated, err = svc.MarkRead(ctx, alice, bob.ID)
	require.NoError(t, err)
	assert.Zero(t, updated)

	convs, err = svc.Conversations(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, 0, convs[1].UnreadCount)

	_, err = svc.MarkRead(ctx, alice, "")
	assert.ErrorIs(t, err, ErrValidation)
}
