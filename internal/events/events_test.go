package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingProducer struct {
	mu       sync.Mutex
	topics   []string
	keys     []string
	payloads [][]byte
	headers  []map[string]string
}

func (p *recordingProducer) ProduceMessage(ctx context.Context, topic string, key, value []byte, headers map[string]string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	p.keys = append(p.keys, string(key))
	p.payloads = append(p.payloads, value)
	p.headers = append(p.headers, headers)
	return nil
}

func (p *recordingProducer) Close() error { return nil }

type sliceSource struct {
	messages  []kafka.Message
	committed []int64
	cancel    context.CancelFunc
}

func (s *sliceSource) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if len(s.messages) == 0 {
		s.cancel()
		return kafka.Message{}, context.Canceled
	}
	msg := s.messages[0]
	s.messages = s.messages[1:]
	return msg, nil
}

func (s *sliceSource) Commit(ctx context.Context, msg kafka.Message) error {
	s.committed = append(s.committed, msg.Offset)
	return nil
}

func TestTypeTopic(t *testing.T) {
	assert.Equal(t, "identity", IdentityRegistered.Topic())
	assert.Equal(t, "message", ConversationMarkedRead.Topic())
	assert.Equal(t, "plain", Type("plain").Topic())
}

func TestKafkaPublisherRoutesByAggregate(t *testing.T) {
	producer := &recordingProducer{}
	publisher := NewKafkaPublisher(producer, "social")

	event := New(FriendshipRequested, "identity-1", map[string]string{"request_id": "r1"})
	require.NoError(t, publisher.Publish(context.Background(), event))

	require.Len(t, producer.topics, 1)
	assert.Equal(t, "social.friendship", producer.topics[0])
	assert.Equal(t, "identity-1", producer.keys[0])
	assert.Equal(t, string(FriendshipRequested), producer.headers[0]["event_type"])

	var decoded Event
	require.NoError(t, json.Unmarshal(producer.payloads[0], &decoded))
	assert.Equal(t, event.ID, decoded.ID)
	assert.JSONEq(t, `{"request_id":"r1"}`, string(decoded.Payload))
}

func TestInProcessPublisherDispatchesAndSwallowsHandlerErrors(t *testing.T) {
	var seen []Type
	publisher := NewInProcessPublisher(
		HandlerFunc(func(ctx context.Context, e Event) error { return errors.New("index down") }),
		HandlerFunc(func(ctx context.Context, e Event) error {
			seen = append(seen, e.Type)
			return nil
		}),
	)

	require.NoError(t, publisher.Publish(context.Background(), New(IdentityRegistered, "a", nil)))
	assert.Equal(t, []Type{IdentityRegistered}, seen)
}

func TestConsumerDispatchesAndCommitsEveryMessage(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	good, err := json.Marshal(New(IdentityVerified, "a", nil))
	require.NoError(t, err)
	source := &sliceSource{
		messages: []kafka.Message{
			{Topic: "social.identity", Offset: 1, Value: good},
			{Topic: "social.identity", Offset: 2, Value: []byte("not json")},
		},
		cancel: cancel,
	}

	var handled []string
	consumer := NewConsumer(source, HandlerFunc(func(ctx context.Context, e Event) error {
		handled = append(handled, e.Subject)
		return nil
	}))

	require.NoError(t, consumer.Run(ctx))
	assert.Equal(t, []string{"a"}, handled)
	assert.Equal(t, []int64{1, 2}, source.committed)
}
