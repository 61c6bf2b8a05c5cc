// internal/launchpad/service.go

// Package launchpad wires the curve engine, agent registry, payments, venue
// router, and notification sinks into one service with a managed lifecycle.
package launchpad

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/ursuslabs/agent-launchpad/internal/agent"
	"github.com/ursuslabs/agent-launchpad/internal/curve"
	"github.com/ursuslabs/agent-launchpad/internal/dex"
	"github.com/ursuslabs/agent-launchpad/internal/engine"
	"github.com/ursuslabs/agent-launchpad/internal/export"
	"github.com/ursuslabs/agent-launchpad/internal/metrics"
	"github.com/ursuslabs/agent-launchpad/internal/payments"
	"github.com/ursuslabs/agent-launchpad/internal/storage"
	"github.com/ursuslabs/agent-launchpad/internal/storage/models"
)

// Components collects the engine pieces the service fronts. Reconciler is nil
// when no chain mirror is configured.
type Components struct {
	Storage    storage.Storage
	Store      *engine.Store
	Quoter     *curve.Quoter
	Executor   *engine.TradeExecutor
	Registry   *agent.Registry
	Payments   *payments.Service
	Router     *dex.Router
	Venues     *dex.Registry
	Reconciler *engine.Reconciler
	Metrics    *metrics.Collector
}

// Service is the single entry point callers use: agent launches, quotes,
// trades, routed swaps, status queries, and x402 payments.
type Service struct {
	storage    storage.Storage
	store      *engine.Store
	quoter     *curve.Quoter
	executor   *engine.TradeExecutor
	registry   *agent.Registry
	payments   *payments.Service
	router     *dex.Router
	venues     *dex.Registry
	reconciler *engine.Reconciler
	metrics    *metrics.Collector
	exporter   *export.TradeExporter
	logger     *zap.Logger
}

func NewService(c Components, logger *zap.Logger) *Service {
	return &Service{
		storage:    c.Storage,
		store:      c.Store,
		quoter:     c.Quoter,
		executor:   c.Executor,
		registry:   c.Registry,
		payments:   c.Payments,
		router:     c.Router,
		venues:     c.Venues,
		reconciler: c.Reconciler,
		metrics:    c.Metrics,
		exporter:   export.NewTradeExporter(logger),
		logger:     logger.Named("launchpad"),
	}
}

// TokenStatus is a point-in-time public view of one token.
type TokenStatus struct {
	TokenID              string
	AgentID              uint64
	Graduated            bool
	Inconsistent         bool
	PriceLamports        uint64
	MarketCapLamports    uint64
	GraduationProgress   uint64
	VirtualSolReserves   uint64
	VirtualTokenReserves uint64
	RealSolReserves      uint64
	RealTokenReserves    uint64
	CirculatingSupply    uint64
	GraduationThreshold  uint64
}

// Stats reports store-level counters for operators.
type Stats struct {
	TrackedTokens      int
	InconsistentTokens int
	TotalAgents        uint64
}

// Launch validates metadata, assigns the next agent id, and registers the
// token with its initial reserve state.
func (s *Service) Launch(ctx context.Context, params agent.CreateParams) (*agent.Agent, error) {
	return s.registry.CreateAgent(ctx, params)
}

// Agent returns one launched agent by mint.
func (s *Service) Agent(ctx context.Context, mint string) (*agent.Agent, error) {
	return s.registry.GetAgent(ctx, mint)
}

// Agents pages through launched agents ordered by agent id.
func (s *Service) Agents(ctx context.Context, limit, offset int) ([]*agent.Agent, error) {
	return s.registry.ListAgents(ctx, limit, offset)
}

// Factory returns the current factory settings.
func (s *Service) Factory() agent.FactoryState {
	return s.registry.Factory()
}

// UpdateCreationFee changes the launch fee; only the factory authority may.
func (s *Service) UpdateCreationFee(authority string, newFee uint64) error {
	return s.registry.UpdateCreationFee(authority, newFee)
}

// QuoteBuy prices a buy against the last committed state. The quote carries
// no reservation: execution reprices under the token's trade lock.
func (s *Service) QuoteBuy(tokenID string, solIn uint64, slippageBps uint32) (*curve.BuyQuote, error) {
	state, err := s.store.Snapshot(tokenID)
	if err != nil {
		s.metrics.RecordQuote(string(curve.SideBuy), false)
		return nil, err
	}
	quote, err := s.quoter.QuoteBuy(state, solIn, slippageBps)
	s.metrics.RecordQuote(string(curve.SideBuy), err == nil)
	return quote, err
}

// QuoteSell prices a sell against the last committed state.
func (s *Service) QuoteSell(tokenID string, tokensIn uint64, slippageBps uint32) (*curve.SellQuote, error) {
	state, err := s.store.Snapshot(tokenID)
	if err != nil {
		s.metrics.RecordQuote(string(curve.SideSell), false)
		return nil, err
	}
	quote, err := s.quoter.QuoteSell(state, tokensIn, slippageBps)
	s.metrics.RecordQuote(string(curve.SideSell), err == nil)
	return quote, err
}

// Trade executes a trade directly against the bonding curve.
func (s *Service) Trade(ctx context.Context, req engine.TradeRequest) (*engine.TradeResult, error) {
	return s.executor.ExecuteTrade(ctx, req)
}

// Swap routes a trade by graduation status: active tokens trade on the curve,
// graduated ones on the configured external venue.
func (s *Service) Swap(ctx context.Context, req dex.SwapRequest) (*dex.SwapResult, error) {
	return s.router.Swap(ctx, req)
}

// RegisterVenue adds an external DEX venue to the routing registry.
func (s *Service) RegisterVenue(v dex.Venue) error {
	return s.venues.Register(v)
}

// TokenStatus reports the committed state of one token, including tokens
// flagged inconsistent (the flag is part of the answer, not an error).
func (s *Service) TokenStatus(tokenID string) (*TokenStatus, error) {
	info, err := s.store.Inspect(tokenID)
	if err != nil {
		return nil, err
	}
	return statusFromInfo(info), nil
}

// Tokens lists the status of every tracked token, ordered by mint.
func (s *Service) Tokens() []*TokenStatus {
	infos := s.store.Tracked()
	statuses := make([]*TokenStatus, 0, len(infos))
	for _, info := range infos {
		statuses = append(statuses, statusFromInfo(info))
	}
	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].TokenID < statuses[j].TokenID
	})
	return statuses
}

// Trades pages through the trade journal of one token, newest first.
func (s *Service) Trades(ctx context.Context, tokenID string, limit, offset int) ([]*models.Trade, error) {
	return s.storage.ListTrades(ctx, tokenID, limit, offset)
}

// ExportTrades writes one token's full trade journal to a CSV or JSON file
// and returns the path of the written file.
func (s *Service) ExportTrades(ctx context.Context, tokenID string, opts export.Options) (string, error) {
	const page = 500
	var rows []*models.Trade
	for offset := 0; ; offset += page {
		batch, err := s.storage.ListTrades(ctx, tokenID, page, offset)
		if err != nil {
			return "", fmt.Errorf("failed to load trade journal for %s: %w", tokenID, err)
		}
		rows = append(rows, batch...)
		if len(batch) < page {
			break
		}
	}
	return s.exporter.Export(rows, opts)
}

// Resync re-adopts the chain account for a token flagged inconsistent.
func (s *Service) Resync(ctx context.Context, tokenID string) error {
	if s.reconciler == nil {
		return errors.New("chain reconciliation is not configured")
	}
	return s.reconciler.Resync(ctx, tokenID)
}

// Stats returns operator-facing counters.
func (s *Service) Stats() Stats {
	return Stats{
		TrackedTokens:      s.store.Count(),
		InconsistentTokens: s.store.InconsistentCount(),
		TotalAgents:        s.registry.Factory().TotalAgents,
	}
}

// ConfigurePayments enables x402 payments for an agent token.
func (s *Service) ConfigurePayments(ctx context.Context, params payments.ConfigParams) (*payments.Config, error) {
	return s.payments.Configure(ctx, params)
}

// UpdatePayments changes the bounds of an existing payment config.
func (s *Service) UpdatePayments(ctx context.Context, params payments.ConfigParams) (*payments.Config, error) {
	return s.payments.Update(ctx, params)
}

// PayForService records an x402 payment for an agent's service.
func (s *Service) PayForService(ctx context.Context, req payments.PaymentRequest) (*payments.Payment, error) {
	return s.payments.PayForService(ctx, req)
}

// CallAgentService pays for one agent calling another agent's service.
func (s *Service) CallAgentService(ctx context.Context, call payments.ServiceCall) (*payments.Payment, error) {
	return s.payments.CallAgentService(ctx, call)
}

// VerifyPayment moves a pending payment to verified.
func (s *Service) VerifyPayment(ctx context.Context, paymentID string) error {
	return s.payments.VerifyPayment(ctx, paymentID)
}

// SettlePayment moves a verified payment to settled.
func (s *Service) SettlePayment(ctx context.Context, paymentID string) error {
	return s.payments.SettlePayment(ctx, paymentID)
}

// FailPayment moves a non-terminal payment to failed.
func (s *Service) FailPayment(ctx context.Context, paymentID string) error {
	return s.payments.FailPayment(ctx, paymentID)
}

// Payment returns one payment record.
func (s *Service) Payment(ctx context.Context, paymentID string) (*payments.Payment, error) {
	return s.payments.GetPayment(ctx, paymentID)
}

// PaymentConfig returns a token's payment configuration.
func (s *Service) PaymentConfig(ctx context.Context, tokenID string) (*payments.Config, error) {
	return s.payments.GetConfig(ctx, tokenID)
}

func statusFromInfo(info *engine.TokenInfo) *TokenStatus {
	state := info.State
	return &TokenStatus{
		TokenID:              info.TokenID,
		AgentID:              info.AgentID,
		Graduated:            state.Graduated,
		Inconsistent:         info.Inconsistent,
		PriceLamports:        state.PriceLamports(),
		MarketCapLamports:    state.MarketCapLamports(),
		GraduationProgress:   state.GraduationProgress(),
		VirtualSolReserves:   state.VirtualSolReserves,
		VirtualTokenReserves: state.VirtualTokenReserves,
		RealSolReserves:      state.RealSolReserves,
		RealTokenReserves:    state.RealTokenReserves,
		CirculatingSupply:    state.CirculatingSupply(),
		GraduationThreshold:  state.GraduationThreshold,
	}
}
