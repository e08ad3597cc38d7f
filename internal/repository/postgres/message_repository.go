package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"social-service/internal/models"
	"social-service/internal/repository"
)

const messageColumns = `id, sender_id, receiver_id, text, file_url, audio_url, image_url, read, created_at`

type MessageRepository struct {
	db *pgxpool.Pool
}

var _ repository.MessageRepository = (*MessageRepository)(nil)

func NewMessageRepository(db *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{db: db}
}

func (r *MessageRepository) AppendMessage(ctx context.Context, m *models.Message) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO messages (id, sender_id, receiver_id, text, file_url, audio_url, image_url)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING read, created_at`,
		m.ID, m.SenderID, m.ReceiverID, m.Text, m.FileURL, m.AudioURL, m.ImageURL,
	).Scan(&m.Read, &m.CreatedAt)
	if err != nil {
		return fmt.Errorf("append message: %w", mapError(err))
	}
	return nil
}

func (r *MessageRepository) History(ctx context.Context, identityA, identityB string) ([]models.Message, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE (sender_id = $1 AND receiver_id = $2)
		   OR (sender_id = $2 AND receiver_id = $1)
		ORDER BY seq ASC`, identityA, identityB)
	if err != nil {
		return nil, fmt.Errorf("message history: %w", mapError(err))
	}
	defer rows.Close()

	var out []models.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func (r *MessageRepository) Conversations(ctx context.Context, identityID string) ([]repository.ConversationSummary, error) {
	rows, err := r.db.Query(ctx, `
		WITH ranked AS (
			SELECT m.*,
			       CASE WHEN m.sender_id = $1 THEN m.receiver_id ELSE m.sender_id END AS counterpart_id,
			       ROW_NUMBER() OVER (
			           PARTITION BY CASE WHEN m.sender_id = $1 THEN m.receiver_id ELSE m.sender_id END
			           ORDER BY m.seq DESC
			       ) AS rn
			FROM messages m
			WHERE m.sender_id = $1 OR m.receiver_id = $1
		)
		SELECT r.counterpart_id, r.id, r.sender_id, r.receiver_id, r.text, r.file_url, r.audio_url, r.image_url, r.read, r.created_at,
		       (SELECT COUNT(*) FROM messages u
		         WHERE u.receiver_id = $1 AND u.sender_id = r.counterpart_id AND NOT u.read) AS unread
		FROM ranked r
		WHERE r.rn = 1
		ORDER BY r.seq DESC`, identityID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", mapError(err))
	}
	defer rows.Close()

	var out []repository.ConversationSummary
	for rows.Next() {
		var (
			s      repository.ConversationSummary
			m      = &s.LastMessage
			unread int64
		)
		if err := rows.Scan(&s.CounterpartID,
			&m.ID, &m.SenderID, &m.ReceiverID, &m.Text, &m.FileURL, &m.AudioURL, &m.ImageURL, &m.Read, &m.CreatedAt,
			&unread); err != nil {
			return nil, err
		}
		s.UnreadCount = int(unread)
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *MessageRepository) MarkRead(ctx context.Context, identityID, counterpartID string) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE messages SET read = TRUE
		WHERE receiver_id = $1 AND sender_id = $2 AND NOT read`, identityID, counterpartID)
	if err != nil {
		return 0, fmt.Errorf("mark read: %w", mapError(err))
	}
	return tag.RowsAffected(), nil
}

func scanMessage(row pgx.Row) (*models.Message, error) {
	var m models.Message
	if err := row.Scan(&m.ID, &m.SenderID, &m.ReceiverID, &m.Text, &m.FileURL, &m.AudioURL, &m.ImageURL, &m.Read, &m.CreatedAt); err != nil {
		return nil, err
	}
	return &m, nil
}
