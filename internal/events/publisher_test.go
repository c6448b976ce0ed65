package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/shopeasy/storefront/internal/domain"
)

func newTestTopic(t *testing.T) (*pstest.Server, *pubsub.Topic) {
	t.Helper()
	ctx := context.Background()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	client, err := pubsub.NewClient(ctx, "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	topic, err := client.CreateTopic(ctx, "orders")
	require.NoError(t, err)
	t.Cleanup(topic.Stop)
	return srv, topic
}

func sampleOrder() domain.Order {
	placed := time.Date(2025, 2, 10, 9, 30, 0, 0, time.UTC)
	return domain.Order{
		ID:     "ord_1",
		UserID: "u1",
		Lines: []domain.CartLine{
			{ProductID: "milk", UnitPriceSnapshot: decimal.RequireFromString("40"), Quantity: 2},
		},
		Total:         decimal.RequireFromString("72"),
		Credits:       []domain.Credit{{Source: domain.CreditSourceGiftCard, Code: "GIFT10", Amount: decimal.RequireFromString("10")}},
		Currency:      "INR",
		Payment:       domain.PaymentMethodUsed{Method: domain.PaymentMethodCard, Last4: "4242", Reference: "pi_1"},
		PaymentStatus: domain.PaymentStatusPaid,
		Status:        domain.OrderStatusPlaced,
		CreatedAt:     placed,
		UpdatedAt:     placed,
	}
}

func TestPublishOrderPlaced(t *testing.T) {
	srv, topic := newTestTopic(t)
	publisher, err := NewPubSubOrderPublisher(topic)
	require.NoError(t, err)
	require.NoError(t, publisher.PublishOrderPlaced(context.Background(), sampleOrder()))

	messages := srv.Messages()
	require.Len(t, messages, 1)
	var payload OrderEvent
	require.NoError(t, json.Unmarshal(messages[0].Data, &payload))
	assert.Equal(t, TypeOrderPlaced, payload.Type)
	assert.Equal(t, "ord_1", payload.OrderID)
	assert.Equal(t, "72.00", payload.Total)
	assert.Equal(t, 2, payload.ItemCount)
	require.Len(t, payload.Credits, 1)
	assert.Equal(t, "10.00", payload.Credits[0].Amount)
	assert.Equal(t, TypeOrderPlaced, messages[0].Attributes["eventType"])
	assert.Equal(t, "u1", messages[0].Attributes["userId"])
}

func TestPublishOrderStatusChanged(t *testing.T) {
	srv, topic := newTestTopic(t)
	publisher, _ := NewPubSubOrderPublisher(topic)

	order := sampleOrder()
	order.Status = domain.OrderStatusCancelled
	require.NoError(t, publisher.PublishOrderStatusChanged(context.Background(), order, domain.OrderStatusPlaced))
	messages := srv.Messages()
	require.Len(t, messages, 1)
	var payload OrderEvent
	require.NoError(t, json.Unmarshal(messages[0].Data, &payload))
	assert.Equal(t, "placed", payload.PreviousStatus)
	assert.Equal(t, "cancelled", payload.Status)
}

func TestNewPubSubOrderPublisherRequiresTopic(t *testing.T) {
	_, err := NewPubSubOrderPublisher(nil)
	assert.Error(t, err)
}
