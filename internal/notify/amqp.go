// internal/notify/amqp.go
package notify

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/ursuslabs/agent-launchpad/internal/events"
)

// AMQPSink publishes serialized events to a durable topic exchange. The event
// type doubles as the routing key, so consumers bind with patterns like
// "token.*" or "trade.executed".
type AMQPSink struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	logger   *zap.Logger
}

// NewAMQPSink dials the broker and declares the topic exchange.
func NewAMQPSink(url, exchange string, logger *zap.Logger) (*AMQPSink, error) {
	if url == "" {
		return nil, fmt.Errorf("empty amqp url")
	}
	if exchange == "" {
		return nil, fmt.Errorf("empty amqp exchange")
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to amqp broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}

	return &AMQPSink{
		conn:     conn,
		ch:       ch,
		exchange: exchange,
		logger:   logger.Named("amqp_sink"),
	}, nil
}

func (s *AMQPSink) Name() string { return "amqp" }

func (s *AMQPSink) Deliver(ctx context.Context, eventType events.EventType, payload []byte) error {
	err := s.ch.PublishWithContext(ctx, s.exchange, string(eventType), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         payload,
	})
	if err != nil {
		return fmt.Errorf("amqp publish failed: %w", err)
	}
	s.logger.Debug("Event published",
		zap.String("exchange", s.exchange),
		zap.String("routing_key", string(eventType)))
	return nil
}

func (s *AMQPSink) Close() error {
	_ = s.ch.Close()
	return s.conn.Close()
}
