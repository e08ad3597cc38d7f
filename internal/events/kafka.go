package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/segmentio/kafka-go"

	"social-service/internal/util"
)

// Producer is satisfied by client.KafkaProducer.
type Producer interface {
	ProduceMessage(ctx context.Context, topic string, key, value []byte, headers map[string]string) error
	Close() error
}

// KafkaPublisher writes each event to "<prefix>.<aggregate>" keyed by subject,
// so events about one subject keep their order within a partition.
type KafkaPublisher struct {
	producer    Producer
	topicPrefix string
}

func NewKafkaPublisher(producer Producer, topicPrefix string) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topicPrefix: topicPrefix}
}

func (p *KafkaPublisher) Topic(t Type) string {
	return p.topicPrefix + "." + t.Topic()
}

func (p *KafkaPublisher) Publish(ctx context.Context, event Event) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	return p.producer.ProduceMessage(ctx, p.Topic(event.Type), []byte(event.Subject), value, map[string]string{
		"event_type": string(event.Type),
		"event_id":   event.ID,
	})
}

func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}

// MessageSource is satisfied by client.KafkaConsumer.
type MessageSource interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	Commit(ctx context.Context, msg kafka.Message) error
}

// Consumer feeds broker messages to handlers and commits after dispatch.
type Consumer struct {
	source   MessageSource
	handlers []Handler
}

func NewConsumer(source MessageSource, handlers ...Handler) *Consumer {
	return &Consumer{source: source, handlers: handlers}
}

// Run blocks until ctx is cancelled or the source fails.
func (c *Consumer) Run(ctx context.Context) error {
	util.Info("Event consumer started", util.Int("handlers", len(c.handlers)))
	for {
		msg, err := c.source.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				util.Info("Event consumer stopped")
				return nil
			}
			return err
		}

		var event Event
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			util.Warn("Skipping malformed event",
				util.String("topic", msg.Topic),
				util.Int64("offset", msg.Offset),
				util.ErrorField(err))
		} else {
			dispatch(ctx, c.handlers, event)
		}

		if err := c.source.Commit(ctx, msg); err != nil {
			util.Error("Failed to commit event offset", util.String("topic", msg.Topic), util.ErrorField(err))
		}
	}
}
