// internal/payments/types.go

// Package payments implements x402 service payments: per-agent payment
// config with nonce replay protection, payment records, and their settlement
// lifecycle.
package payments

import (
	"errors"
	"time"
)

// Payment lifecycle. Records enter as pending and move forward only:
// pending -> verified -> settled, with failed reachable from any
// non-terminal status.
const (
	StatusPending  = "pending"
	StatusVerified = "verified"
	StatusSettled  = "settled"
	StatusFailed   = "failed"
)

const (
	// MaxServiceIDLen bounds the service identifier.
	MaxServiceIDLen = 32

	// MaxServiceParamsLen bounds serialized params on agent-to-agent calls.
	MaxServiceParamsLen = 1024
)

var (
	// ErrNotConfigured is returned when a token has no payment config.
	ErrNotConfigured = errors.New("payments not configured")

	// ErrAlreadyConfigured is returned when Configure hits an existing config.
	ErrAlreadyConfigured = errors.New("payments already configured")

	// ErrPaymentsDisabled is returned when the config exists but is disabled.
	ErrPaymentsDisabled = errors.New("payments not enabled")

	// ErrPaymentTooLow is returned when the amount is below the minimum.
	ErrPaymentTooLow = errors.New("payment below minimum")

	// ErrPaymentTooHigh is returned when the amount exceeds the cap.
	ErrPaymentTooHigh = errors.New("payment above maximum")

	// ErrNonceMismatch is returned when the request nonce is not exactly one
	// past the stored nonce.
	ErrNonceMismatch = errors.New("nonce mismatch")

	// ErrInvalidServiceID is returned for an empty or oversized service id.
	ErrInvalidServiceID = errors.New("invalid service id")

	// ErrInvalidTransition is returned for a status change the lifecycle
	// does not allow.
	ErrInvalidTransition = errors.New("invalid payment status transition")
)

// Config is the x402 settings for one agent token.
type Config struct {
	TokenID        string
	Recipient      string
	Enabled        bool
	MinAmount      uint64
	MaxAmount      uint64 // 0 = no cap
	TimeoutSeconds uint64
	TotalReceived  uint64
	TotalCalls     uint64
	Nonce          uint64
}

// ConfigParams describes a Configure or Update call. Update ignores
// Recipient; the recipient is fixed at configure time.
type ConfigParams struct {
	TokenID        string
	Recipient      string
	Enabled        bool
	MinAmount      uint64
	MaxAmount      uint64
	TimeoutSeconds uint64
}

// PaymentRequest is one x402 service payment.
type PaymentRequest struct {
	TokenID   string
	Payer     string
	Amount    uint64
	ServiceID string
	Nonce     uint64
}

// ServiceCall is an agent-to-agent service invocation. The calling agent's
// creator pays the target agent.
type ServiceCall struct {
	CallerTokenID string
	TargetTokenID string
	Amount        uint64
	ServiceID     string
	Nonce         uint64
	Params        []byte
}

// Payment is the service-facing view of a payment record.
type Payment struct {
	PaymentID string
	TokenID   string
	Payer     string
	Amount    uint64
	ServiceID string
	Status    string
	CreatedAt time.Time
}
