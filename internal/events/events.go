// Package events carries domain events out of the services after a write commits.
package events

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"social-service/internal/util"
)

type Type string

const (
	IdentityRegistered     Type = "identity.registered"
	IdentityPresence       Type = "identity.presence_changed"
	IdentityVerified       Type = "identity.verified"
	FriendshipRequested    Type = "friendship.requested"
	FriendshipResponded    Type = "friendship.responded"
	FriendshipWithdrawn    Type = "friendship.withdrawn"
	VerificationSubmitted  Type = "verification.submitted"
	VerificationReviewed   Type = "verification.reviewed"
	MessageSent            Type = "message.sent"
	ConversationMarkedRead Type = "message.conversation_read"
)

// Topic groups event types by aggregate, e.g. "identity" for identity.*.
func (t Type) Topic() string {
	aggregate, _, _ := strings.Cut(string(t), ".")
	return aggregate
}

type Event struct {
	ID         string          `json:"id"`
	Type       Type            `json:"type"`
	Subject    string          `json:"subject"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// New builds an event with a JSON payload. Marshal failures drop the payload.
func New(eventType Type, subject string, payload interface{}) Event {
	e := Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		Subject:    subject,
		OccurredAt: time.Now().UTC(),
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			util.Warn("Dropping unserialisable event payload", util.String("type", string(eventType)), util.ErrorField(err))
		} else {
			e.Payload = raw
		}
	}
	return e
}

type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// Handler reacts to a delivered event.
type Handler interface {
	Handle(ctx context.Context, event Event) error
}

type HandlerFunc func(ctx context.Context, event Event) error

func (f HandlerFunc) Handle(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// NoopPublisher discards events.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, Event) error { return nil }
func (NoopPublisher) Close() error                         { return nil }

// InProcessPublisher delivers events synchronously to local handlers. It is used
// when no broker is configured so that handlers like the search indexer still run.
type InProcessPublisher struct {
	handlers []Handler
}

func NewInProcessPublisher(handlers ...Handler) *InProcessPublisher {
	return &InProcessPublisher{handlers: handlers}
}

func (p *InProcessPublisher) Publish(ctx context.Context, event Event) error {
	dispatch(ctx, p.handlers, event)
	return nil
}

func (p *InProcessPublisher) Close() error { return nil }

func dispatch(ctx context.Context, handlers []Handler, event Event) {
	for _, h := range handlers {
		if err := h.Handle(ctx, event); err != nil {
			util.Warn("Event handler failed",
				util.String("event_type", string(event.Type)),
				util.String("event_id", event.ID),
				util.ErrorField(err))
		}
	}
}
