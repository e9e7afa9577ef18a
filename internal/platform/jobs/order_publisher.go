package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"

	"github.com/kioskflow/api/internal/domain"
	"github.com/kioskflow/api/internal/services"
)

// PubSubOrderPublisher publishes order lifecycle events. Messages share the order id as ordering
// key so consumers observe events of one order in sequence.
type PubSubOrderPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

var _ services.OrderEventPublisher = (*PubSubOrderPublisher)(nil)

type orderEventMessage struct {
	Type                  string             `json:"type"`
	OrderID               string             `json:"orderId"`
	KioskID               string             `json:"kioskId,omitempty"`
	PreviousStatus        string             `json:"previousStatus,omitempty"`
	CurrentStatus         string             `json:"currentStatus"`
	PaymentStatus         string             `json:"paymentStatus,omitempty"`
	PreviousPaymentStatus string             `json:"previousPaymentStatus,omitempty"`
	OccurredAt            time.Time          `json:"occurredAt"`
	Order                 domain.PublicOrder `json:"order"`
}

func NewPubSubOrderPublisher(topic *pubsub.Topic) (*PubSubOrderPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub order publisher: topic is required")
	}
	topic.EnableMessageOrdering = true
	return &PubSubOrderPublisher{topic: topic, marshal: json.Marshal}, nil
}

// PublishOrderEvent blocks until Pub/Sub acknowledges the message.
func (p *PubSubOrderPublisher) PublishOrderEvent(ctx context.Context, event services.OrderEvent) error {
	if p == nil || p.topic == nil {
		return errors.New("pubsub order publisher: not initialised")
	}
	data, err := p.marshal(orderEventMessage{
		Type:                  event.Type,
		OrderID:               event.OrderID,
		KioskID:               event.KioskID,
		PreviousStatus:        event.PreviousStatus,
		CurrentStatus:         event.CurrentStatus,
		PaymentStatus:         event.PaymentStatus,
		PreviousPaymentStatus: event.PreviousPaymentStatus,
		OccurredAt:            event.OccurredAt.UTC(),
		Order:                 event.Order,
	})
	if err != nil {
		return fmt.Errorf("marshal order event: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "type", event.Type)
	setAttr(attrs, "orderId", event.OrderID)
	setAttr(attrs, "kioskId", event.KioskID)
	setAttr(attrs, "status", event.CurrentStatus)

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:        data,
		Attributes:  attrs,
		OrderingKey: event.OrderID,
	})
	if _, err := result.Get(ctx); err != nil {
		// A failed publish pauses the ordering key until resumed.
		p.topic.ResumePublish(event.OrderID)
		return fmt.Errorf("publish order event: %w", err)
	}
	return nil
}

func setAttr(attrs map[string]string, key, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
