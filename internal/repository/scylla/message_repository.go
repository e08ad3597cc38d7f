package scylla

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/gocql/gocql"

	"social-service/internal/bucketing"
	"social-service/internal/models"
	"social-service/internal/repository"
	"social-service/internal/util"
)

// MessageRepository stores each conversation in one partition keyed by
// (murmur3 bucket, pair key) and keeps a per-identity chat list table.
type MessageRepository struct {
	client  *ScyllaClient
	buckets *bucketing.BucketingManager
	now     func() time.Time
}

var _ repository.MessageRepository = (*MessageRepository)(nil)

func NewMessageRepository(client *ScyllaClient, buckets *bucketing.BucketingManager) *MessageRepository {
	return &MessageRepository{
		client:  client,
		buckets: buckets,
		now:     func() time.Time { return time.Now().UTC().Truncate(time.Millisecond) },
	}
}

func (r *MessageRepository) partition(a, b string) (int, string) {
	return r.buckets.ConversationBucket(a, b), models.PairKey(a, b)
}

func (r *MessageRepository) AppendMessage(ctx context.Context, m *models.Message) error {
	m.CreatedAt = r.now()
	m.Read = false
	bucket, key := r.partition(m.SenderID, m.ReceiverID)
	st := r.client.Statements

	batch := r.client.Session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	// write timestamp = message time, so a late write never replaces a newer chat list entry
	batch.WithTimestamp(m.CreatedAt.UnixMicro())
	batch.Query(st.InsertMessage,
		bucket, key, m.CreatedAt, m.ID,
		m.SenderID, m.ReceiverID, m.Text, m.FileURL, m.AudioURL, m.ImageURL, false)
	for _, pair := range conversationSides(m) {
		batch.Query(st.UpsertConversation,
			pair[0], pair[1], m.ID, m.SenderID, m.ReceiverID,
			m.Text, m.FileURL, m.AudioURL, m.ImageURL, false, m.CreatedAt)
	}

	if err := r.client.Session.ExecuteBatch(batch); err != nil {
		util.Error("Failed to append message",
			util.String("message_id", m.ID),
			util.Int("bucket", bucket),
			util.ErrorField(err))
		return fmt.Errorf("failed to append message: %w", err)
	}
	return nil
}

// conversationSides returns (owner, counterpart) for both participants.
func conversationSides(m *models.Message) [][2]string {
	return [][2]string{
		{m.SenderID, m.ReceiverID},
		{m.ReceiverID, m.SenderID},
	}
}

func (r *MessageRepository) History(ctx context.Context, identityA, identityB string) ([]models.Message, error) {
	bucket, key := r.partition(identityA, identityB)
	iter := r.client.Session.Query(r.client.Statements.SelectHistory, bucket, key).WithContext(ctx).Iter()

	var (
		out []models.Message
		m   models.Message
	)
	for iter.Scan(&m.ID, &m.SenderID, &m.ReceiverID, &m.Text, &m.FileURL, &m.AudioURL, &m.ImageURL, &m.Read, &m.CreatedAt) {
		out = append(out, m)
		m = models.Message{}
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}
	// clustering order already yields created_at, then time-ordered message_id
	return out, nil
}

func (r *MessageRepository) Conversations(ctx context.Context, identityID string) ([]repository.ConversationSummary, error) {
	iter := r.client.Session.Query(r.client.Statements.SelectConversation, identityID).WithContext(ctx).Iter()

	var (
		out []repository.ConversationSummary
		s   repository.ConversationSummary
	)
	m := &s.LastMessage
	for iter.Scan(&s.CounterpartID, &m.ID, &m.SenderID, &m.ReceiverID,
		&m.Text, &m.FileURL, &m.AudioURL, &m.ImageURL, &m.Read, &m.CreatedAt) {
		out = append(out, s)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to read conversations: %w", err)
	}

	for i := range out {
		unread, err := r.unread(ctx, identityID, out[i].CounterpartID)
		if err != nil {
			return nil, err
		}
		out[i].UnreadCount = len(unread)
		if out[i].LastMessage.ReceiverID == identityID && len(unread) == 0 {
			out[i].LastMessage.Read = true
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].LastMessage.CreatedAt.After(out[j].LastMessage.CreatedAt)
	})
	return out, nil
}

type messageKey struct {
	createdAt time.Time
	id        string
}

// unread scans the conversation partition for messages addressed to identityID not yet read.
func (r *MessageRepository) unread(ctx context.Context, identityID, counterpartID string) ([]messageKey, error) {
	bucket, key := r.partition(identityID, counterpartID)
	iter := r.client.Session.Query(r.client.Statements.SelectUnread, bucket, key).WithContext(ctx).Iter()

	var (
		out        []messageKey
		createdAt  time.Time
		id, recvID string
		read       bool
	)
	for iter.Scan(&createdAt, &id, &recvID, &read) {
		if recvID == identityID && !read {
			out = append(out, messageKey{createdAt: createdAt, id: id})
		}
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to scan unread messages: %w", err)
	}
	return out, nil
}

func (r *MessageRepository) MarkRead(ctx context.Context, identityID, counterpartID string) (int64, error) {
	unread, err := r.unread(ctx, identityID, counterpartID)
	if err != nil {
		return 0, err
	}
	if len(unread) == 0 {
		return 0, nil
	}

	bucket, key := r.partition(identityID, counterpartID)
	batch := r.client.Session.NewBatch(gocql.UnloggedBatch).WithContext(ctx)
	for _, k := range unread {
		batch.Query(r.client.Statements.MarkMessageRead, bucket, key, k.createdAt, k.id)
	}
	if err := r.client.Session.ExecuteBatch(batch); err != nil {
		return 0, fmt.Errorf("failed to mark messages read: %w", err)
	}
	return int64(len(unread)), nil
}
