// Package notify forwards bus events to external delivery channels: a Redis
// pub/sub channel, an AMQP topic exchange, and an HTTPS webhook. Events are
// serialized to JSON once and handed to every configured sink; each delivery
// is retried with bounded exponential backoff, so consumers see at-least-once
// delivery while the bus itself emits each event exactly once.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/ursuslabs/agent-launchpad/internal/events"
	"github.com/ursuslabs/agent-launchpad/internal/metrics"
)

const (
	deliveryMaxTries   = 3
	deliveryRetryDelay = 200 * time.Millisecond
)

// Sink delivers a serialized event to one external channel. Deliver returns
// backoff.Permanent for failures a retry cannot fix.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, eventType events.EventType, payload []byte) error
	Close() error
}

// forwardedEvents lists every event type the notifier mirrors outward.
var forwardedEvents = []events.EventType{
	events.TokenCreated,
	events.TokenGraduated,
	events.TradeExecuted,
	events.StateInconsistent,
	events.StateResynced,
	events.PaymentRecorded,
}

// Notifier bridges the in-process event bus to the configured sinks. A sink
// failure never blocks the other sinks or the bus.
type Notifier struct {
	sinks      []Sink
	subs       []events.Subscription
	metrics    *metrics.Collector
	logger     *zap.Logger
	maxTries   uint
	retryDelay time.Duration
}

func NewNotifier(collector *metrics.Collector, logger *zap.Logger, sinks ...Sink) *Notifier {
	return &Notifier{
		sinks:      sinks,
		metrics:    collector,
		logger:     logger.Named("notifier"),
		maxTries:   deliveryMaxTries,
		retryDelay: deliveryRetryDelay,
	}
}

// Attach subscribes the notifier to every forwarded event type. Calling it
// with no sinks configured is a no-op.
func (n *Notifier) Attach(bus *events.Bus) {
	if len(n.sinks) == 0 {
		return
	}
	for _, eventType := range forwardedEvents {
		n.subs = append(n.subs, bus.SubscribeFunc(eventType, n.forward))
	}
	names := make([]string, 0, len(n.sinks))
	for _, sink := range n.sinks {
		names = append(names, sink.Name())
	}
	n.logger.Info("Notification sinks attached", zap.Strings("sinks", names))
}

func (n *Notifier) forward(ctx context.Context, event events.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to serialize event %s: %w", event.Type(), err)
	}

	for _, sink := range n.sinks {
		if err := n.deliver(ctx, sink, event.Type(), payload); err != nil {
			n.logger.Warn("Sink delivery failed",
				zap.String("sink", sink.Name()),
				zap.String("event_type", string(event.Type())),
				zap.String("event_id", event.ID()),
				zap.Error(err))
			n.metrics.RecordNotifyDelivery(sink.Name(), false)
			continue
		}
		n.metrics.RecordNotifyDelivery(sink.Name(), true)
	}

	// Delivery failures are logged and counted above; surfacing them to the
	// bus would only produce a second log line.
	return nil
}

func (n *Notifier) deliver(ctx context.Context, sink Sink, eventType events.EventType, payload []byte) error {
	operation := func() (struct{}, error) {
		return struct{}{}, sink.Deliver(ctx, eventType, payload)
	}

	backoffPolicy := backoff.NewExponentialBackOff()
	backoffPolicy.InitialInterval = n.retryDelay
	backoffPolicy.MaxInterval = n.retryDelay * 10

	notify := func(err error, duration time.Duration) {
		n.logger.Debug("Retrying sink delivery",
			zap.String("sink", sink.Name()),
			zap.String("event_type", string(eventType)),
			zap.Duration("backoff", duration),
			zap.Error(err))
	}

	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoffPolicy),
		backoff.WithMaxTries(n.maxTries),
		backoff.WithNotify(notify))
	return err
}

// Close unsubscribes from the bus and closes every sink.
func (n *Notifier) Close() error {
	for _, sub := range n.subs {
		sub.Unsubscribe()
	}
	n.subs = nil

	var errs []error
	for _, sink := range n.sinks {
		if err := sink.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close sink %s: %w", sink.Name(), err))
		}
	}
	return errors.Join(errs...)
}
