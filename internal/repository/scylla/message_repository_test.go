package scylla

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"social-service/internal/bucketing"
	"social-service/internal/config"
	"social-service/internal/models"
)

func TestConversationSidesCoversBothParticipants(t *testing.T) {
	m := &models.Message{SenderID: "a", ReceiverID: "b"}
	sides := conversationSides(m)
	require.Len(t, sides, 2)
	assert.Equal(t, [2]string{"a", "b"}, sides[0])
	assert.Equal(t, [2]string{"b", "a"}, sides[1])
}

func TestStatementsMatchSchema(t *testing.T) {
	st := defaultStatements()
	assert.Contains(t, schema[0], "messages_by_conversation")
	assert.Contains(t, schema[0], "CLUSTERING ORDER BY (created_at ASC, message_id ASC)")
	assert.Contains(t, schema[1], "conversations_by_identity")

	for _, stmt := range []string{st.InsertMessage, st.SelectHistory, st.SelectUnread, st.MarkMessageRead} {
		assert.Contains(t, stmt, "messages_by_conversation")
	}
	for _, stmt := range []string{st.UpsertConversation, st.SelectConversation} {
		assert.Contains(t, stmt, "conversations_by_identity")
	}
	assert.Equal(t, 11, strings.Count(st.InsertMessage, "?"))
	assert.Equal(t, 11, strings.Count(st.UpsertConversation, "?"))
}

func openTestRepository(t *testing.T) *MessageRepository {
	t.Helper()
	hosts := os.Getenv("TEST_SCYLLA_HOSTS")
	if hosts == "" {
		t.Skip("TEST_SCYLLA_HOSTS not set")
	}

	client, err := NewScyllaClient(config.ScyllaConfig{
		Nodes:    strings.Split(hosts, ","),
		Keyspace: envOr("TEST_SCYLLA_KEYSPACE", "social_test"),
	}, false)
	require.NoError(t, err)
	t.Cleanup(client.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	require.NoError(t, client.EnsureSchema(ctx))

	return NewMessageRepository(client, bucketing.NewBucketingManager(config.BucketingConfig{
		ConversationBuckets: 8,
		EventBuckets:        1,
	}))
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func TestScyllaMessageLifecycle(t *testing.T) {
	repo := openTestRepository(t)
	ctx := context.Background()
	alice, bob := uuid.NewString(), uuid.NewString()

	base := time.Now().UTC().Truncate(time.Millisecond)
	tick := 0
	repo.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Millisecond)
	}

	send := func(from, to, text string) {
		require.NoError(t, repo.AppendMessage(ctx, &models.Message{
			ID:             uuid.NewString(),
			SenderID:       from,
			ReceiverID:     to,
			MessageContent: models.MessageContent{Text: text},
		}))
	}
	send(alice, bob, "hi")
	send(bob, alice, "hello")
	send(alice, bob, "how are you")

	history, err := repo.History(ctx, bob, alice)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "hi", history[0].Text)
	assert.Equal(t, "how are you", history[2].Text)

	convs, err := repo.Conversations(ctx, bob)
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, alice, convs[0].CounterpartID)
	assert.Equal(t, 2, convs[0].UnreadCount)
	assert.Equal(t, "how are you", convs[0].LastMessage.Text)

	marked, err := repo.MarkRead(ctx, bob, alice)
	require.NoError(t, err)
	assert.Equal(t, int64(2), marked)

	convs, err = repo.Conversations(ctx, bob)
	require.NoError(t, err)
	assert.Equal(t, 0, convs[0].UnreadCount)
	assert.True(t, convs[0].LastMessage.Read)
}
