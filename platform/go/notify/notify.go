// Package notify publishes customer and merchant notifications to RabbitMQ. Delivery
// of the actual e-mail happens downstream; a publish failure is reported to the caller
// and never retried here.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/streadway/amqp"
	"go.uber.org/zap"

	"github.com/zenGate-Global/palmyra-commerce/platform/go/logging"
)

// Kind names a notification template.
type Kind string

const (
	KindOrderConfirmation Kind = "order_confirmation"
	KindOrderCancelled    Kind = "order_cancelled"
	KindPaymentReceipt    Kind = "payment_receipt"
	KindLowStock          Kind = "low_stock"
)

var ErrInvalidNotification = errors.New("invalid notification")

// Notification is one message for one recipient of one tenant.
type Notification struct {
	ID        string         `json:"id"`
	TenantID  string         `json:"tenantId"`
	Kind      Kind           `json:"kind"`
	Recipient string         `json:"recipient"`
	Data      map[string]any `json:"data,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// Sender is what workflows depend on.
type Sender interface {
	Send(ctx context.Context, n Notification) error
}

// Channel is the subset of *amqp.Channel used for publishing.
type Channel interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Publisher sends notifications to a topic exchange with routing key
// "tenant.<tenantId>.<kind>".
type Publisher struct {
	ch       Channel
	exchange string
	logger   *zap.Logger
	now      func() time.Time
}

func NewPublisher(ch Channel, exchange string, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{ch: ch, exchange: exchange, logger: logger, now: time.Now}
}

func (p *Publisher) Send(ctx context.Context, n Notification) error {
	if n.TenantID == "" || n.Kind == "" || n.Recipient == "" {
		return fmt.Errorf("%w: tenant, kind and recipient are required", ErrInvalidNotification)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = p.now().UTC()
	}

	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	key := RoutingKey(n.TenantID, n.Kind)
	err = p.ch.Publish(p.exchange, key, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    n.ID,
		Timestamp:    n.CreatedAt,
		Type:         string(n.Kind),
		Headers:      amqp.Table{"tenant_id": n.TenantID},
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", key, err)
	}

	logger := logging.FromContextOr(ctx, p.logger)
	logger.Debug("notification published", zap.String("routing_key", key), zap.String("notification_id", n.ID))
	return nil
}

func RoutingKey(tenantID string, kind Kind) string {
	return fmt.Sprintf("tenant.%s.%s", tenantID, kind)
}
