package events

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/pubsub"

	"github.com/hanko-field/orderflow/internal/services"
)

// PubSubPublisher publishes workflow events to a Pub/Sub topic. Messages are ordered per order when
// the topic has message ordering enabled.
type PubSubPublisher struct {
	topic *pubsub.Topic
}

// NewPubSubPublisher constructs a Pub/Sub backed event publisher.
func NewPubSubPublisher(topic *pubsub.Topic) (*PubSubPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub event publisher: topic is required")
	}
	return &PubSubPublisher{topic: topic}, nil
}

// Publish implements services.EventPublisher and waits for the server acknowledgement.
func (p *PubSubPublisher) Publish(ctx context.Context, event services.Event) error {
	if p == nil || p.topic == nil {
		return errors.New("pubsub event publisher: not initialised")
	}

	data, err := encode(event)
	if err != nil {
		return err
	}
	msg := &pubsub.Message{
		Data:       data,
		Attributes: attributes(event),
	}
	if p.topic.EnableMessageOrdering {
		msg.OrderingKey = msg.Attributes["orderId"]
	}

	if _, err := p.topic.Publish(ctx, msg).Get(ctx); err != nil {
		return fmt.Errorf("publish event %s: %w", event.Type, err)
	}
	return nil
}

// Stop flushes pending messages and releases the topic's goroutines.
func (p *PubSubPublisher) Stop() {
	if p != nil && p.topic != nil {
		p.topic.Stop()
	}
}

var _ services.EventPublisher = (*PubSubPublisher)(nil)
