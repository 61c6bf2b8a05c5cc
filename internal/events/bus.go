// internal/events/bus.go
package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// subscriber pairs a handler with the id its subscription unsubscribes by.
type subscriber struct {
	id      string
	handler Handler
}

// Bus dispatches domain events to subscribed handlers in-process. Publish is
// non-blocking: events queue into a bounded channel and a dispatch goroutine
// delivers them; when the queue is full the event is dropped and counted
// rather than stalling the publisher. Shutdown drains whatever is queued.
type Bus struct {
	mu   sync.RWMutex
	subs map[EventType][]subscriber

	queue   chan Event
	closing chan struct{}
	done    chan struct{}
	closeMu sync.Mutex
	closed  bool
	dropped atomic.Uint64

	logger *zap.Logger
}

// NewBus starts a bus with the given queue capacity.
func NewBus(logger *zap.Logger, bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	b := &Bus{
		subs:    make(map[EventType][]subscriber),
		queue:   make(chan Event, bufferSize),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
		logger:  logger.Named("event_bus"),
	}
	go b.dispatch()
	return b
}

// Subscribe registers a handler for one event type and returns its
// subscription handle.
func (b *Bus) Subscribe(eventType EventType, handler Handler) Subscription {
	id := uuid.New().String()

	b.mu.Lock()
	b.subs[eventType] = append(b.subs[eventType], subscriber{id: id, handler: handler})
	b.mu.Unlock()

	b.logger.Debug("Handler subscribed",
		zap.String("event_type", string(eventType)),
		zap.String("subscription_id", id))

	return &subscription{bus: b, eventType: eventType, id: id}
}

// SubscribeFunc subscribes a plain function.
func (b *Bus) SubscribeFunc(eventType EventType, fn func(context.Context, Event) error) Subscription {
	return b.Subscribe(eventType, HandlerFunc(fn))
}

// Publish queues an event for asynchronous delivery. It never blocks: a full
// queue drops the event with an error so publishers on the trade path cannot
// be stalled by slow handlers.
func (b *Bus) Publish(event Event) error {
	select {
	case <-b.closing:
		return fmt.Errorf("event bus is shutting down")
	default:
	}

	select {
	case b.queue <- event:
		return nil
	default:
		b.dropped.Add(1)
		b.logger.Warn("Event queue full, dropping event",
			zap.String("event_type", string(event.Type())),
			zap.Uint64("dropped_total", b.dropped.Load()))
		return fmt.Errorf("event queue full, %s dropped", event.Type())
	}
}

// PublishSync delivers an event to every current handler before returning.
// Handler errors are logged and joined; one failing handler never prevents
// delivery to the rest.
func (b *Bus) PublishSync(ctx context.Context, event Event) error {
	b.mu.RLock()
	subs := append([]subscriber(nil), b.subs[event.Type()]...)
	b.mu.RUnlock()

	var errs []error
	for _, sub := range subs {
		if err := sub.handler.Handle(ctx, event); err != nil {
			b.logger.Error("Event handler failed",
				zap.String("event_type", string(event.Type())),
				zap.String("subscription_id", sub.id),
				zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// dispatch delivers queued events until shutdown, then drains the queue.
func (b *Bus) dispatch() {
	defer close(b.done)
	for {
		select {
		case event := <-b.queue:
			_ = b.PublishSync(context.Background(), event)
		case <-b.closing:
			for {
				select {
				case event := <-b.queue:
					_ = b.PublishSync(context.Background(), event)
				default:
					return
				}
			}
		}
	}
}

// Shutdown stops accepting events, drains the queue, and waits for the
// dispatch goroutine to exit or the context to expire.
func (b *Bus) Shutdown(ctx context.Context) error {
	b.closeMu.Lock()
	if !b.closed {
		b.closed = true
		close(b.closing)
	}
	b.closeMu.Unlock()

	select {
	case <-b.done:
		if n := b.dropped.Load(); n > 0 {
			b.logger.Warn("Event bus stopped with dropped events", zap.Uint64("dropped_total", n))
		}
		return nil
	case <-ctx.Done():
		b.logger.Warn("Event bus shutdown timed out")
		return ctx.Err()
	}
}

// Dropped reports how many events were discarded on a full queue.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

func (b *Bus) unsubscribe(eventType EventType, id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[eventType]
	for i, sub := range subs {
		if sub.id == id {
			b.subs[eventType] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(b.subs[eventType]) == 0 {
		delete(b.subs, eventType)
	}
}
