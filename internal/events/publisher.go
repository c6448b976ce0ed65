package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"

	"github.com/shopeasy/storefront/internal/domain"
)

// Event types carried in the eventType attribute.
const (
	TypeOrderPlaced        = "order.placed"
	TypeOrderStatusChanged = "order.status_changed"
)

// CreditPayload is an applied credit as seen by downstream consumers, which settle redemption.
type CreditPayload struct {
	Source string `json:"source"`
	Code   string `json:"code"`
	Amount string `json:"amount"`
}

// OrderEvent is the JSON body published for order lifecycle events.
type OrderEvent struct {
	Type             string          `json:"type"`
	OrderID          string          `json:"orderId"`
	UserID           string          `json:"userId"`
	Status           string          `json:"status"`
	PreviousStatus   string          `json:"previousStatus,omitempty"`
	Total            string          `json:"total"`
	Currency         string          `json:"currency"`
	ItemCount        int             `json:"itemCount"`
	PaymentMethod    string          `json:"paymentMethod"`
	PaymentStatus    string          `json:"paymentStatus"`
	PaymentReference string          `json:"paymentReference,omitempty"`
	Credits          []CreditPayload `json:"credits,omitempty"`
	OccurredAt       time.Time       `json:"occurredAt"`
}

// PubSubOrderPublisher publishes order events to a Pub/Sub topic.
type PubSubOrderPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubOrderPublisher constructs a publisher for topic.
func NewPubSubOrderPublisher(topic *pubsub.Topic) (*PubSubOrderPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub order publisher: topic is required")
	}
	return &PubSubOrderPublisher{topic: topic, marshal: json.Marshal}, nil
}

// PublishOrderPlaced announces a newly placed order.
func (p *PubSubOrderPublisher) PublishOrderPlaced(ctx context.Context, order domain.Order) error {
	event := newOrderEvent(TypeOrderPlaced, order)
	event.OccurredAt = order.CreatedAt.UTC()
	_, err := p.publish(ctx, event)
	return err
}

// PublishOrderStatusChanged announces a fulfilment status transition.
func (p *PubSubOrderPublisher) PublishOrderStatusChanged(ctx context.Context, order domain.Order, previous domain.OrderStatus) error {
	event := newOrderEvent(TypeOrderStatusChanged, order)
	event.PreviousStatus = string(previous)
	event.OccurredAt = order.UpdatedAt.UTC()
	_, err := p.publish(ctx, event)
	return err
}

func (p *PubSubOrderPublisher) publish(ctx context.Context, event OrderEvent) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("pubsub order publisher: not initialised")
	}
	data, err := p.marshal(event)
	if err != nil {
		return "", fmt.Errorf("marshal %s: %w", event.Type, err)
	}
	attrs := map[string]string{"eventType": event.Type}
	setAttr(attrs, "orderId", event.OrderID)
	setAttr(attrs, "userId", event.UserID)
	setAttr(attrs, "status", event.Status)

	id, err := p.topic.Publish(ctx, &pubsub.Message{Data: data, Attributes: attrs}).Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish %s: %w", event.Type, err)
	}
	return id, nil
}

func newOrderEvent(eventType string, order domain.Order) OrderEvent {
	event := OrderEvent{
		Type:             eventType,
		OrderID:          order.ID,
		UserID:           order.UserID,
		Status:           string(order.Status),
		Total:            domain.FormatMoney(order.Total),
		Currency:         order.Currency,
		ItemCount:        order.ItemCount(),
		PaymentMethod:    string(order.Payment.Method),
		PaymentStatus:    string(order.PaymentStatus),
		PaymentReference: order.Payment.Reference,
	}
	for _, credit := range order.Credits {
		event.Credits = append(event.Credits, CreditPayload{
			Source: string(credit.Source),
			Code:   credit.Code,
			Amount: domain.FormatMoney(credit.Amount),
		})
	}
	return event
}

func setAttr(attrs map[string]string, key, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
