package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"social-service/internal/events"
	"social-service/internal/models"
	"social-service/internal/repository"
	"social-service/internal/util"
)

// SendMessageRequest represents one outgoing message. At least one content
// field must be set.
type SendMessageRequest struct {
	SenderID   string `json:"sender_id"`
	ReceiverID string `json:"receiver_id" validate:"required,max=64"`
	Text       string `json:"text" validate:"max=4000"`
	FileURL    string `json:"file_url" validate:"omitempty,url,max=2048"`
	AudioURL   string `json:"audio_url" validate:"omitempty,url,max=2048"`
	ImageURL   string `json:"image_url" validate:"omitempty,url,max=2048"`
}

type messageEventPayload struct {
	ID         string `json:"id"`
	SenderID   string `json:"sender_id"`
	ReceiverID string `json:"receiver_id"`
}

// MessageService wraps the append-only message log.
type MessageService struct {
	identities repository.IdentityRepository
	messages   repository.MessageRepository
	effects    *SideEffects
	logger     *zap.Logger
}

func NewMessageService(
	identities repository.IdentityRepository,
	messages repository.MessageRepository,
	effects *SideEffects,
	logger *zap.Logger,
) *MessageService {
	return &MessageService{
		identities: identities,
		messages:   messages,
		effects:    effects,
		logger:     logger,
	}
}

// Send appends an unread message from the caller to the receiver.
func (s *MessageService) Send(ctx context.Context, caller *models.Identity, req *SendMessageRequest) (*models.MessageEntry, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	if req.SenderID != "" && req.SenderID != caller.ID {
		return nil, unauthorizedf("messages can only be sent as yourself")
	}
	if req.ReceiverID == caller.ID {
		return nil, validationErrorf("cannot send a message to yourself")
	}

	content := models.MessageContent{
		Text:     req.Text,
		FileURL:  req.FileURL,
		AudioURL: req.AudioURL,
		ImageURL: req.ImageURL,
	}
	if content.IsEmpty() {
		return nil, validationErrorf("message needs text or an attachment")
	}

	if _, err := s.identities.GetIdentityByID(ctx, req.ReceiverID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, notFoundf("receiver %s does not exist", req.ReceiverID)
		}
		return nil, fmt.Errorf("failed to load receiver: %w", err)
	}

	// v7 ids sort by creation, which breaks created_at ties in append order
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate message id: %w", err)
	}
	message := &models.Message{
		ID:             id.String(),
		SenderID:       caller.ID,
		ReceiverID:     req.ReceiverID,
		MessageContent: content,
	}
	if err := s.messages.AppendMessage(ctx, message); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, notFoundf("receiver %s does not exist", req.ReceiverID)
		}
		return nil, fmt.Errorf("failed to append message: %w", err)
	}

	s.effects.Emit(ctx, []events.Event{events.New(events.MessageSent, message.ID, messageEventPayload{
		ID:         message.ID,
		SenderID:   message.SenderID,
		ReceiverID: message.ReceiverID,
	})})

	s.logger.Debug("Message sent",
		util.String("message_id", message.ID),
		util.String("sender_id", message.SenderID),
		util.String("receiver_id", message.ReceiverID),
	)

	return &models.MessageEntry{
		Message:           *message,
		SenderDisplayName: caller.DisplayName,
		SenderAvatarURL:   caller.AvatarURL,
	}, nil
}

// History returns both directions of the conversation between the caller and
// chatWith, ordered by creation time ascending.
func (s *MessageService) History(ctx context.Context, caller *models.Identity, identityID, chatWith string) ([]models.MessageEntry, error) {
	if err := requireSelf(caller, identityID); err != nil {
		return nil, err
	}
	if chatWith == "" {
		return nil, validationErrorf("chat_with is required")
	}

	messages, err := s.messages.History(ctx, caller.ID, chatWith)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, validationErrorf("chat_with is not a valid identity id")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}

	profiles, err := s.identities.GetPublicProfiles(ctx, []string{caller.ID, chatWith})
	if err != nil {
		return nil, fmt.Errorf("failed to load profiles: %w", err)
	}

	out := make([]models.MessageEntry, 0, len(messages))
	for _, m := range messages {
		sender := profiles[m.SenderID]
		out = append(out, models.MessageEntry{
			Message:           m,
			SenderDisplayName: sender.DisplayName,
			SenderAvatarURL:   sender.AvatarURL,
		})
	}
	return out, nil
}

// Conversations lists one row per counterpart, latest message first.
func (s *MessageService) Conversations(ctx context.Context, caller *models.Identity) ([]models.Conversation, error) {
	summaries, err := s.messages.Conversations(ctx, caller.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load conversations: %w", err)
	}

	ids := make([]string, 0, len(summaries))
	for _, c := range summaries {
		ids = append(ids, c.CounterpartID)
	}
	profiles, err := s.identities.GetPublicProfiles(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load profiles: %w", err)
	}

	out := make([]models.Conversation, 0, len(summaries))
	for _, c := range summaries {
		counterpart, ok := profiles[c.CounterpartID]
		if !ok {
			counterpart = models.PublicProfile{ID: c.CounterpartID}
		}
		out = append(out, models.Conversation{
			Counterpart: counterpart,
			LastMessage: c.LastMessage,
			UnreadCount: c.UnreadCount,
		})
	}
	return out, nil
}

// MarkRead flags every message from counterpartID to the caller as read and
// returns how many changed. Repeating it returns 0.
func (s *MessageService) MarkRead(ctx context.Context, caller *models.Identity, counterpartID string) (int64, error) {
	if counterpartID == "" {
		return 0, validationErrorf("chat_with is required")
	}

	updated, err := s.messages.MarkRead(ctx, caller.ID, counterpartID)
	if errors.Is(err, repository.ErrNotFound) {
		return 0, validationErrorf("chat_with is not a valid identity id")
	}
	if err != nil {
		return 0, fmt.Errorf("failed to mark messages read: %w", err)
	}

	if updated > 0 {
		s.effects.Emit(ctx, []events.Event{events.New(events.ConversationMarkedRead, caller.ID, map[string]interface{}{
			"counterpart_id": counterpartID,
			"updated":        updated,
		})})
	}
	return updated, nil
}
