// internal/events/types.go
package events

import (
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of event.
type EventType string

const (
	// Token lifecycle events
	TokenCreated   EventType = "token.created"
	TokenGraduated EventType = "token.graduated"

	// Trade events
	TradeExecuted EventType = "trade.executed"

	// Reconciliation events
	StateInconsistent EventType = "state.inconsistent"
	StateResynced     EventType = "state.resynced"

	// Payment events
	PaymentRecorded EventType = "payment.recorded"
)

// Event is the base interface for all events.
type Event interface {
	Type() EventType
	ID() string
	Timestamp() time.Time
}

// BaseEvent provides common fields for all events. The json tags define the
// wire form notification sinks deliver.
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType EventType `json:"event_type"`
	EventTime time.Time `json:"timestamp"`
}

// NewBase stamps a fresh event envelope.
func NewBase(eventType EventType) BaseEvent {
	return BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		EventTime: time.Now().UTC(),
	}
}

// Type returns the event type.
func (e BaseEvent) Type() EventType {
	return e.EventType
}

// ID returns the unique event id.
func (e BaseEvent) ID() string {
	return e.EventID
}

// Timestamp returns when the event occurred.
func (e BaseEvent) Timestamp() time.Time {
	return e.EventTime
}

// TokenCreatedEvent is emitted once when an agent token launches.
type TokenCreatedEvent struct {
	BaseEvent
	TokenID string `json:"token_id"`
	AgentID uint64 `json:"agent_id"`
	Creator string `json:"creator"`
	Name    string `json:"name"`
	Symbol  string `json:"symbol"`
}

// TradeExecutedEvent is emitted after every committed curve trade.
type TradeExecutedEvent struct {
	BaseEvent
	TradeID    string `json:"trade_id"`
	TokenID    string `json:"token_id"`
	Side       string `json:"side"`
	AmountIn   uint64 `json:"amount_in"`
	AmountOut  uint64 `json:"amount_out"`
	FeeTotal   uint64 `json:"fee_total"`
	PriceAfter uint64 `json:"price_after"`
	Graduated  bool   `json:"graduated"`
}

// TokenGraduatedEvent is emitted exactly once, by the trade that crossed the
// graduation threshold.
type TokenGraduatedEvent struct {
	BaseEvent
	TokenID         string `json:"token_id"`
	RealSolReserves uint64 `json:"real_sol_reserves"`
	Threshold       uint64 `json:"threshold"`
}

// StateInconsistentEvent is emitted when the reconciler finds the local state
// diverged from the chain account beyond tolerance.
type StateInconsistentEvent struct {
	BaseEvent
	TokenID string `json:"token_id"`
	Field   string `json:"field"`
	Local   uint64 `json:"local"`
	Chain   uint64 `json:"chain"`
}

// StateResyncedEvent is emitted after a token's local state is re-adopted
// from the chain.
type StateResyncedEvent struct {
	BaseEvent
	TokenID string `json:"token_id"`
}

// PaymentRecordedEvent is emitted when an x402 service payment is accepted.
type PaymentRecordedEvent struct {
	BaseEvent
	PaymentID string `json:"payment_id"`
	TokenID   string `json:"token_id"`
	Payer     string `json:"payer"`
	Amount    uint64 `json:"amount"`
	ServiceID string `json:"service_id"`
}
