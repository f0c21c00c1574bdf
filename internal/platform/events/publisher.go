package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hanko-field/orderflow/internal/services"
)

// Message is the wire shape shared by every publisher backend.
type Message struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	OrderID    uint64         `json:"orderId"`
	OccurredAt time.Time      `json:"occurredAt"`
	Payload    map[string]any `json:"payload,omitempty"`
}

func newMessage(event services.Event) Message {
	return Message{
		ID:         event.ID,
		Type:       event.Type,
		OrderID:    event.OrderID,
		OccurredAt: event.OccurredAt.UTC(),
		Payload:    event.Payload,
	}
}

func encode(event services.Event) ([]byte, error) {
	data, err := json.Marshal(newMessage(event))
	if err != nil {
		return nil, fmt.Errorf("marshal event %s: %w", event.Type, err)
	}
	return data, nil
}

// attributes returns the routing metadata brokers can filter on without decoding the body.
func attributes(event services.Event) map[string]string {
	attrs := make(map[string]string, 3)
	setAttr(attrs, "eventId", event.ID)
	setAttr(attrs, "eventType", event.Type)
	if event.OrderID != 0 {
		attrs["orderId"] = strconv.FormatUint(event.OrderID, 10)
	}
	return attrs
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}

// LogPublisher writes events to the structured log. It is the default backend for local runs.
type LogPublisher struct {
	logger *zap.Logger
}

// NewLogPublisher constructs a publisher that logs each event at info level.
func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogPublisher{logger: logger.Named("events")}
}

// Publish implements services.EventPublisher.
func (p *LogPublisher) Publish(_ context.Context, event services.Event) error {
	p.logger.Info("event published",
		zap.String("event_id", event.ID),
		zap.String("event_type", event.Type),
		zap.Uint64("order_id", event.OrderID),
		zap.Time("occurred_at", event.OccurredAt),
		zap.Any("payload", event.Payload),
	)
	return nil
}

var _ services.EventPublisher = (*LogPublisher)(nil)
