// internal/events/handler.go
package events

import "context"

// Handler consumes events of the type it subscribed to. Handlers run on the
// bus dispatch goroutine and should hand long work off rather than block.
type Handler interface {
	Handle(ctx context.Context, event Event) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, event Event) error

func (f HandlerFunc) Handle(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// Subscription is the handle returned by Subscribe; Unsubscribe detaches the
// handler and is safe to call more than once.
type Subscription interface {
	Unsubscribe()
}

type subscription struct {
	bus       *Bus
	eventType EventType
	id        string
}

func (s *subscription) Unsubscribe() {
	s.bus.unsubscribe(s.eventType, s.id)
}
