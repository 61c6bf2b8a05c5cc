// internal/payments/payments.go
package payments

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ursuslabs/agent-launchpad/internal/curve"
	"github.com/ursuslabs/agent-launchpad/internal/engine"
	"github.com/ursuslabs/agent-launchpad/internal/events"
	"github.com/ursuslabs/agent-launchpad/internal/metrics"
	"github.com/ursuslabs/agent-launchpad/internal/storage"
	"github.com/ursuslabs/agent-launchpad/internal/storage/models"
)

// keyedMutex serializes payment operations per token. Entries are never
// removed; the set of tokens is small and append-only.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}

// Service owns x402 payment configs and records. Nonce checks, totals, and
// record writes for one token never interleave.
type Service struct {
	storage storage.Storage
	bus     *events.Bus
	metrics *metrics.Collector
	logger  *zap.Logger
	locks   keyedMutex
}

func NewService(st storage.Storage, bus *events.Bus, collector *metrics.Collector, logger *zap.Logger) *Service {
	return &Service{
		storage: st,
		bus:     bus,
		metrics: collector,
		logger:  logger.Named("payments"),
		locks:   keyedMutex{locks: make(map[string]*sync.Mutex)},
	}
}

// Configure sets up x402 payments for an agent token. It is first-time only;
// use Update to change settings later. The recipient and all counters are
// fixed here: totals and the nonce start at zero.
func (s *Service) Configure(ctx context.Context, params ConfigParams) (*Config, error) {
	if params.TokenID == "" {
		return nil, fmt.Errorf("token id is required")
	}
	if params.Recipient == "" {
		return nil, fmt.Errorf("payment recipient is required")
	}
	if params.MaxAmount > 0 && params.MinAmount > params.MaxAmount {
		return nil, fmt.Errorf("minimum %d exceeds maximum %d", params.MinAmount, params.MaxAmount)
	}

	unlock := s.locks.lock(params.TokenID)
	defer unlock()

	if _, err := s.storage.GetAgent(ctx, params.TokenID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("agent %s: %w", params.TokenID, engine.ErrTokenNotFound)
		}
		return nil, fmt.Errorf("failed to load agent %s: %w", params.TokenID, err)
	}

	_, err := s.storage.GetPaymentConfig(ctx, params.TokenID)
	if err == nil {
		return nil, fmt.Errorf("token %s: %w", params.TokenID, ErrAlreadyConfigured)
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("failed to load payment config for %s: %w", params.TokenID, err)
	}

	row := &models.PaymentConfig{
		Mint:           params.TokenID,
		Recipient:      params.Recipient,
		Enabled:        params.Enabled,
		MinAmount:      params.MinAmount,
		MaxAmount:      params.MaxAmount,
		TimeoutSeconds: params.TimeoutSeconds,
	}
	if err := s.storage.SavePaymentConfig(ctx, row); err != nil {
		return nil, fmt.Errorf("failed to persist payment config for %s: %w", params.TokenID, err)
	}

	s.logger.Info("Payments configured",
		zap.String("token_id", params.TokenID),
		zap.String("recipient", params.Recipient),
		zap.Bool("enabled", params.Enabled),
		zap.Uint64("min_amount", params.MinAmount),
		zap.Uint64("max_amount", params.MaxAmount))

	return configFromModel(row), nil
}

// Update changes the settings of an existing config. The recipient, nonce,
// and totals are untouched.
func (s *Service) Update(ctx context.Context, params ConfigParams) (*Config, error) {
	if params.MaxAmount > 0 && params.MinAmount > params.MaxAmount {
		return nil, fmt.Errorf("minimum %d exceeds maximum %d", params.MinAmount, params.MaxAmount)
	}

	unlock := s.locks.lock(params.TokenID)
	defer unlock()

	row, err := s.loadConfig(ctx, params.TokenID)
	if err != nil {
		return nil, err
	}

	row.Enabled = params.Enabled
	row.MinAmount = params.MinAmount
	row.MaxAmount = params.MaxAmount
	row.TimeoutSeconds = params.TimeoutSeconds
	if err := s.storage.SavePaymentConfig(ctx, row); err != nil {
		return nil, fmt.Errorf("failed to persist payment config for %s: %w", params.TokenID, err)
	}

	s.logger.Info("Payments updated",
		zap.String("token_id", params.TokenID),
		zap.Bool("enabled", params.Enabled),
		zap.Uint64("min_amount", params.MinAmount),
		zap.Uint64("max_amount", params.MaxAmount))

	return configFromModel(row), nil
}

// PayForService accepts one x402 payment against a token's service. The nonce
// must be exactly one past the stored nonce; the config's counters advance
// before the record is written, so a replayed nonce can never produce a
// second record. The record enters the lifecycle as pending.
func (s *Service) PayForService(ctx context.Context, req PaymentRequest) (*Payment, error) {
	if req.Payer == "" {
		return nil, fmt.Errorf("payment payer is required")
	}
	if n := len(req.ServiceID); n == 0 || n > MaxServiceIDLen {
		return nil, fmt.Errorf("service id must be 1-%d bytes: %w", MaxServiceIDLen, ErrInvalidServiceID)
	}

	unlock := s.locks.lock(req.TokenID)
	defer unlock()

	cfg, err := s.loadConfig(ctx, req.TokenID)
	if err != nil {
		return nil, err
	}
	if !cfg.Enabled {
		return nil, fmt.Errorf("token %s: %w", req.TokenID, ErrPaymentsDisabled)
	}
	if req.Amount < cfg.MinAmount {
		return nil, fmt.Errorf("amount %d below minimum %d: %w", req.Amount, cfg.MinAmount, ErrPaymentTooLow)
	}
	if cfg.MaxAmount > 0 && req.Amount > cfg.MaxAmount {
		return nil, fmt.Errorf("amount %d above maximum %d: %w", req.Amount, cfg.MaxAmount, ErrPaymentTooHigh)
	}
	if req.Nonce != cfg.Nonce+1 {
		return nil, fmt.Errorf("nonce %d, expected %d: %w", req.Nonce, cfg.Nonce+1, ErrNonceMismatch)
	}

	totalReceived, carry := addChecked(cfg.TotalReceived, req.Amount)
	if carry {
		return nil, fmt.Errorf("total received for %s: %w", req.TokenID, curve.ErrOverflow)
	}

	cfg.Nonce++
	cfg.TotalReceived = totalReceived
	cfg.TotalCalls++
	if err := s.storage.SavePaymentConfig(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to persist payment config for %s: %w", req.TokenID, err)
	}

	record := &models.PaymentRecord{
		PaymentID: uuid.New().String(),
		Mint:      req.TokenID,
		Payer:     req.Payer,
		Amount:    req.Amount,
		ServiceID: req.ServiceID,
		Status:    StatusPending,
	}
	if err := s.storage.SavePaymentRecord(ctx, record); err != nil {
		// The nonce is already consumed; surface loudly rather than risk a
		// replayable retry.
		s.logger.Error("Payment record not persisted",
			zap.String("token_id", req.TokenID),
			zap.String("payment_id", record.PaymentID),
			zap.Uint64("nonce", req.Nonce),
			zap.Error(err))
		return nil, fmt.Errorf("failed to persist payment record for %s: %w", req.TokenID, err)
	}

	s.metrics.RecordPayment(StatusPending)
	s.logger.Info("Payment recorded",
		zap.String("token_id", req.TokenID),
		zap.String("payment_id", record.PaymentID),
		zap.String("payer", req.Payer),
		zap.Uint64("amount", req.Amount),
		zap.String("service_id", req.ServiceID),
		zap.Uint64("nonce", req.Nonce))

	s.publish(&events.PaymentRecordedEvent{
		BaseEvent: events.NewBase(events.PaymentRecorded),
		PaymentID: record.PaymentID,
		TokenID:   req.TokenID,
		Payer:     req.Payer,
		Amount:    req.Amount,
		ServiceID: req.ServiceID,
	})

	return paymentFromModel(record), nil
}

// CallAgentService pays the target agent's service on behalf of the calling
// agent; the caller's creator wallet is the payer. Nonce and bounds are the
// target's.
func (s *Service) CallAgentService(ctx context.Context, call ServiceCall) (*Payment, error) {
	if len(call.Params) > MaxServiceParamsLen {
		return nil, fmt.Errorf("service params exceed %d bytes: %w", MaxServiceParamsLen, ErrInvalidServiceID)
	}

	caller, err := s.storage.GetAgent(ctx, call.CallerTokenID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("caller agent %s: %w", call.CallerTokenID, engine.ErrTokenNotFound)
		}
		return nil, fmt.Errorf("failed to load caller agent %s: %w", call.CallerTokenID, err)
	}

	payment, err := s.PayForService(ctx, PaymentRequest{
		TokenID:   call.TargetTokenID,
		Payer:     caller.Creator,
		Amount:    call.Amount,
		ServiceID: call.ServiceID,
		Nonce:     call.Nonce,
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Agent service call recorded",
		zap.String("caller", call.CallerTokenID),
		zap.String("target", call.TargetTokenID),
		zap.String("service_id", call.ServiceID),
		zap.Uint64("amount", call.Amount))
	return payment, nil
}

// VerifyPayment moves a pending payment to verified.
func (s *Service) VerifyPayment(ctx context.Context, paymentID string) error {
	return s.transition(ctx, paymentID, StatusVerified, StatusPending)
}

// SettlePayment moves a verified payment to settled.
func (s *Service) SettlePayment(ctx context.Context, paymentID string) error {
	return s.transition(ctx, paymentID, StatusSettled, StatusVerified)
}

// FailPayment moves any non-terminal payment to failed.
func (s *Service) FailPayment(ctx context.Context, paymentID string) error {
	return s.transition(ctx, paymentID, StatusFailed, StatusPending, StatusVerified)
}

// GetPayment returns one payment record.
func (s *Service) GetPayment(ctx context.Context, paymentID string) (*Payment, error) {
	record, err := s.storage.GetPaymentRecord(ctx, paymentID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("payment %s not found", paymentID)
		}
		return nil, fmt.Errorf("failed to load payment %s: %w", paymentID, err)
	}
	return paymentFromModel(record), nil
}

// GetConfig returns the x402 settings for a token.
func (s *Service) GetConfig(ctx context.Context, tokenID string) (*Config, error) {
	row, err := s.loadConfig(ctx, tokenID)
	if err != nil {
		return nil, err
	}
	return configFromModel(row), nil
}

func (s *Service) transition(ctx context.Context, paymentID, to string, from ...string) error {
	record, err := s.storage.GetPaymentRecord(ctx, paymentID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("payment %s not found", paymentID)
		}
		return fmt.Errorf("failed to load payment %s: %w", paymentID, err)
	}

	unlock := s.locks.lock(record.Mint)
	defer unlock()

	// Reload under the lock; a concurrent transition may have advanced it.
	record, err = s.storage.GetPaymentRecord(ctx, paymentID)
	if err != nil {
		return fmt.Errorf("failed to load payment %s: %w", paymentID, err)
	}

	allowed := false
	for _, status := range from {
		if record.Status == status {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("payment %s is %s, cannot become %s: %w", paymentID, record.Status, to, ErrInvalidTransition)
	}

	if err := s.storage.UpdatePaymentStatus(ctx, paymentID, to); err != nil {
		return fmt.Errorf("failed to update payment %s: %w", paymentID, err)
	}

	s.metrics.RecordPayment(to)
	s.logger.Info("Payment status changed",
		zap.String("payment_id", paymentID),
		zap.String("from", record.Status),
		zap.String("to", to))
	return nil
}

func (s *Service) loadConfig(ctx context.Context, tokenID string) (*models.PaymentConfig, error) {
	row, err := s.storage.GetPaymentConfig(ctx, tokenID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("token %s: %w", tokenID, ErrNotConfigured)
		}
		return nil, fmt.Errorf("failed to load payment config for %s: %w", tokenID, err)
	}
	return row, nil
}

func (s *Service) publish(event events.Event) {
	if err := s.bus.Publish(event); err != nil {
		s.logger.Warn("Failed to publish event",
			zap.String("event_type", string(event.Type())),
			zap.Error(err))
		return
	}
	s.metrics.RecordEvent(string(event.Type()))
}

func addChecked(a, b uint64) (uint64, bool) {
	sum := a + b
	return sum, sum < a
}

func configFromModel(row *models.PaymentConfig) *Config {
	return &Config{
		TokenID:        row.Mint,
		Recipient:      row.Recipient,
		Enabled:        row.Enabled,
		MinAmount:      row.MinAmount,
		MaxAmount:      row.MaxAmount,
		TimeoutSeconds: row.TimeoutSeconds,
		TotalReceived:  row.TotalReceived,
		TotalCalls:     row.TotalCalls,
		Nonce:          row.Nonce,
	}
}

func paymentFromModel(record *models.PaymentRecord) *Payment {
	return &Payment{
		PaymentID: record.PaymentID,
		TokenID:   record.Mint,
		Payer:     record.Payer,
		Amount:    record.Amount,
		ServiceID: record.ServiceID,
		Status:    record.Status,
		CreatedAt: record.CreatedAt,
	}
}
