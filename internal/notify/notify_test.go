// internal/notify/notify_test.go
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ursuslabs/agent-launchpad/internal/events"
	"github.com/ursuslabs/agent-launchpad/internal/metrics"
)

type delivery struct {
	eventType events.EventType
	payload   []byte
}

type fakeSink struct {
	mu         sync.Mutex
	name       string
	deliveries []delivery
	failures   int
	permanent  bool
	closed     bool
}

func (f *fakeSink) Name() string { return f.name }

func (f *fakeSink) Deliver(_ context.Context, eventType events.EventType, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		if f.permanent {
			return backoff.Permanent(errors.New("payload rejected"))
		}
		return errors.New("connection reset")
	}
	f.deliveries = append(f.deliveries, delivery{eventType: eventType, payload: payload})
	return nil
}

func (f *fakeSink) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSink) delivered() []delivery {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]delivery, len(f.deliveries))
	copy(out, f.deliveries)
	return out
}

func newTestNotifier(t *testing.T, sinks ...Sink) *Notifier {
	t.Helper()
	n := NewNotifier(metrics.NewCollector(), zaptest.NewLogger(t), sinks...)
	n.retryDelay = time.Millisecond
	return n
}

func graduationEvent(tokenID string) *events.TokenGraduatedEvent {
	return &events.TokenGraduatedEvent{
		BaseEvent:       events.NewBase(events.TokenGraduated),
		TokenID:         tokenID,
		RealSolReserves: 30_000_100_000,
		Threshold:       30_000_000_000,
	}
}

func TestNotifierFanOut(t *testing.T) {
	first := &fakeSink{name: "first"}
	second := &fakeSink{name: "second"}
	notifier := newTestNotifier(t, first, second)

	bus := events.NewBus(zaptest.NewLogger(t), 16)
	notifier.Attach(bus)

	require.NoError(t, bus.Publish(graduationEvent("mint-a")))
	require.NoError(t, bus.Shutdown(context.Background()))

	for _, sink := range []*fakeSink{first, second} {
		got := sink.delivered()
		require.Len(t, got, 1, "sink %s", sink.name)
		assert.Equal(t, events.TokenGraduated, got[0].eventType)

		var decoded map[string]any
		require.NoError(t, json.Unmarshal(got[0].payload, &decoded))
		assert.Equal(t, "mint-a", decoded["token_id"])
		assert.Equal(t, "token.graduated", decoded["event_type"])
		assert.EqualValues(t, 30_000_100_000, decoded["real_sol_reserves"])
		assert.NotEmpty(t, decoded["event_id"])
	}
}

func TestNotifierSinkFailureIsolated(t *testing.T) {
	broken := &fakeSink{name: "broken", failures: 1 << 30, permanent: true}
	healthy := &fakeSink{name: "healthy"}
	notifier := newTestNotifier(t, broken, healthy)

	err := notifier.forward(context.Background(), graduationEvent("mint-a"))
	require.NoError(t, err)

	assert.Empty(t, broken.delivered())
	assert.Len(t, healthy.delivered(), 1)
}

func TestNotifierRetriesTransientFailures(t *testing.T) {
	flaky := &fakeSink{name: "flaky", failures: 1}
	notifier := newTestNotifier(t, flaky)

	err := notifier.forward(context.Background(), graduationEvent("mint-a"))
	require.NoError(t, err)

	// One transient failure, then the retry lands.
	assert.Len(t, flaky.delivered(), 1)
}

func TestNotifierGivesUpAfterMaxTries(t *testing.T) {
	down := &fakeSink{name: "down", failures: 1 << 30}
	notifier := newTestNotifier(t, down)

	err := notifier.forward(context.Background(), graduationEvent("mint-a"))
	require.NoError(t, err)
	assert.Empty(t, down.delivered())
}

func TestNotifierForwardsAllEventTypes(t *testing.T) {
	sink := &fakeSink{name: "all"}
	notifier := newTestNotifier(t, sink)

	bus := events.NewBus(zaptest.NewLogger(t), 16)
	notifier.Attach(bus)

	published := []events.Event{
		&events.TokenCreatedEvent{BaseEvent: events.NewBase(events.TokenCreated), TokenID: "mint-a", AgentID: 1},
		&events.TradeExecutedEvent{BaseEvent: events.NewBase(events.TradeExecuted), TokenID: "mint-a", Side: "buy"},
		graduationEvent("mint-a"),
		&events.StateInconsistentEvent{BaseEvent: events.NewBase(events.StateInconsistent), TokenID: "mint-a", Field: "real_sol_reserves"},
		&events.StateResyncedEvent{BaseEvent: events.NewBase(events.StateResynced), TokenID: "mint-a"},
		&events.PaymentRecordedEvent{BaseEvent: events.NewBase(events.PaymentRecorded), PaymentID: "pay-1", TokenID: "mint-a"},
	}
	for _, event := range published {
		require.NoError(t, bus.Publish(event))
	}
	require.NoError(t, bus.Shutdown(context.Background()))

	got := sink.delivered()
	require.Len(t, got, len(published))

	seen := make(map[events.EventType]int)
	for _, d := range got {
		seen[d.eventType]++
	}
	for _, eventType := range forwardedEvents {
		assert.Equal(t, 1, seen[eventType], "event type %s", eventType)
	}
}

func TestNotifierAttachWithoutSinks(t *testing.T) {
	notifier := newTestNotifier(t)

	bus := events.NewBus(zaptest.NewLogger(t), 16)
	notifier.Attach(bus)

	require.NoError(t, bus.Publish(graduationEvent("mint-a")))
	require.NoError(t, bus.Shutdown(context.Background()))
	require.NoError(t, notifier.Close())
}

func TestNotifierClose(t *testing.T) {
	sink := &fakeSink{name: "closing"}
	notifier := newTestNotifier(t, sink)

	bus := events.NewBus(zaptest.NewLogger(t), 16)
	notifier.Attach(bus)
	require.NoError(t, notifier.Close())
	assert.True(t, sink.closed)

	// Unsubscribed: later events no longer reach the sink.
	require.NoError(t, bus.Publish(graduationEvent("mint-b")))
	require.NoError(t, bus.Shutdown(context.Background()))
	assert.Empty(t, sink.delivered())
}
