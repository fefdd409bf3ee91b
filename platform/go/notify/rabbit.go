package notify

import (
	"context"
	"fmt"

	"github.com/streadway/amqp"
	"go.uber.org/zap"
)

// RabbitConnection owns the AMQP connection and channel behind a Publisher.
type RabbitConnection struct {
	conn    *amqp.Connection
	channel *amqp.Channel
}

// DialRabbit connects and declares the durable topic exchange notifications go to.
func DialRabbit(url, exchange string) (*RabbitConnection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return &RabbitConnection{conn: conn, channel: ch}, nil
}

func (r *RabbitConnection) Publisher(exchange string, logger *zap.Logger) *Publisher {
	return NewPublisher(r.channel, exchange, logger)
}

func (r *RabbitConnection) Close() error {
	if err := r.channel.Close(); err != nil {
		return err
	}
	return r.conn.Close()
}

// Discard drops notifications; used when no broker is configured.
type Discard struct {
	Logger *zap.Logger
}

func (d Discard) Send(_ context.Context, n Notification) error {
	if d.Logger != nil {
		d.Logger.Info("notification discarded: no broker configured", zap.String("kind", string(n.Kind)), zap.String("tenant_id", n.TenantID))
	}
	return nil
}
