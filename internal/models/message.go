package models

import (
	"strings"
	"time"
)

// MessageContent carries optional text and any number of attachment references.
type MessageContent struct {
	Text     string `db:"text" json:"text,omitempty"`
	FileURL  string `db:"file_url" json:"file_url,omitempty"`
	AudioURL string `db:"audio_url" json:"audio_url,omitempty"`
	ImageURL string `db:"image_url" json:"image_url,omitempty"`
}

func (c MessageContent) IsEmpty() bool {
	return strings.TrimSpace(c.Text) == "" && c.FileURL == "" && c.AudioURL == "" && c.ImageURL == ""
}

type Message struct {
	ID         string `db:"id" json:"id"`
	SenderID   string `db:"sender_id" json:"sender_id"`
	ReceiverID string `db:"receiver_id" json:"receiver_id"`
	MessageContent
	Read      bool      `db:"read" json:"read"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// ConversationKey is the unordered sender/receiver pair.
func (m *Message) ConversationKey() string {
	return PairKey(m.SenderID, m.ReceiverID)
}

// MessageEntry is a history row with the sender's display fields.
type MessageEntry struct {
	Message
	SenderDisplayName string `json:"sender_display_name"`
	SenderAvatarURL   string `json:"sender_avatar_url,omitempty"`
}

// Conversation summarises one counterpart for the chat list.
type Conversation struct {
	Counterpart PublicProfile `json:"counterpart"`
	LastMessage Message       `json:"last_message"`
	UnreadCount int           `json:"unread_count"`
}
