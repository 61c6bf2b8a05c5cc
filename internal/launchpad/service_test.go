// internal/launchpad/service_test.go
package launchpad

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ursuslabs/agent-launchpad/internal/agent"
	"github.com/ursuslabs/agent-launchpad/internal/curve"
	"github.com/ursuslabs/agent-launchpad/internal/dex"
	"github.com/ursuslabs/agent-launchpad/internal/engine"
	"github.com/ursuslabs/agent-launchpad/internal/events"
	"github.com/ursuslabs/agent-launchpad/internal/export"
	"github.com/ursuslabs/agent-launchpad/internal/metrics"
	"github.com/ursuslabs/agent-launchpad/internal/payments"
	"github.com/ursuslabs/agent-launchpad/internal/storage"
	"github.com/ursuslabs/agent-launchpad/internal/storage/models"
)

// memStore is an in-memory storage.Storage used to test the facade wiring.
type memStore struct {
	mu      sync.Mutex
	agents  map[string]*models.Agent
	states  map[string]*models.ReserveState
	trades  []*models.Trade
	configs map[string]*models.PaymentConfig
	records map[string]*models.PaymentRecord
}

var _ storage.Storage = (*memStore)(nil)

func newMemStore() *memStore {
	return &memStore{
		agents:  make(map[string]*models.Agent),
		states:  make(map[string]*models.ReserveState),
		configs: make(map[string]*models.PaymentConfig),
		records: make(map[string]*models.PaymentRecord),
	}
}

func (m *memStore) SaveAgent(_ context.Context, a *models.Agent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *a
	m.agents[a.Mint] = &cp
	return nil
}

func (m *memStore) GetAgent(_ context.Context, mint string) (*models.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[mint]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *memStore) ListAgents(_ context.Context, limit, offset int) ([]*models.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := make([]*models.Agent, 0, len(m.agents))
	for _, a := range m.agents {
		cp := *a
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].AgentID < all[j].AgentID })
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

func (m *memStore) CountAgents(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.agents)), nil
}

func (m *memStore) SaveReserveState(_ context.Context, state *models.ReserveState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *state
	m.states[state.Mint] = &cp
	return nil
}

func (m *memStore) GetReserveState(_ context.Context, mint string) (*models.ReserveState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.states[mint]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *state
	return &cp, nil
}

func (m *memStore) ListReserveStates(_ context.Context) ([]*models.ReserveState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.ReserveState, 0, len(m.states))
	for _, state := range m.states {
		cp := *state
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memStore) SaveTrade(_ context.Context, trade *models.Trade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *trade
	m.trades = append(m.trades, &cp)
	return nil
}

func (m *memStore) ListTrades(_ context.Context, mint string, limit, offset int) ([]*models.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var matched []*models.Trade
	for i := len(m.trades) - 1; i >= 0; i-- {
		if m.trades[i].Mint == mint {
			cp := *m.trades[i]
			matched = append(matched, &cp)
		}
	}
	if offset >= len(matched) {
		return nil, nil
	}
	matched = matched[offset:]
	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}
	return matched, nil
}

func (m *memStore) SavePaymentConfig(_ context.Context, cfg *models.PaymentConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *cfg
	m.configs[cfg.Mint] = &cp
	return nil
}

func (m *memStore) GetPaymentConfig(_ context.Context, mint string) (*models.PaymentConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg, ok := m.configs[mint]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *cfg
	return &cp, nil
}

func (m *memStore) SavePaymentRecord(_ context.Context, record *models.PaymentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *record
	m.records[record.PaymentID] = &cp
	return nil
}

func (m *memStore) GetPaymentRecord(_ context.Context, paymentID string) (*models.PaymentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.records[paymentID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *record
	return &cp, nil
}

func (m *memStore) UpdatePaymentStatus(_ context.Context, paymentID string, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.records[paymentID]
	if !ok {
		return storage.ErrNotFound
	}
	record.Status = status
	return nil
}

func (m *memStore) RunMigrations() error { return nil }

type fakeVenue struct {
	mu    sync.Mutex
	name  string
	calls int
}

func (f *fakeVenue) Name() string { return f.name }

func (f *fakeVenue) Swap(_ context.Context, req dex.SwapRequest) (*dex.SwapResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return &dex.SwapResult{
		Venue:     f.name,
		TokenID:   req.TokenID,
		Side:      req.Side,
		AmountIn:  req.AmountIn,
		AmountOut: req.AmountIn,
	}, nil
}

func (f *fakeVenue) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type serviceRig struct {
	svc      *Service
	store    *engine.Store
	external *fakeVenue
	storage  *memStore
}

func newServiceRig(t *testing.T) *serviceRig {
	t.Helper()

	log := zaptest.NewLogger(t)
	st := newMemStore()
	collector := metrics.NewCollector()
	bus := events.NewBus(log, 64)
	t.Cleanup(func() { _ = bus.Shutdown(context.Background()) })

	profile := curve.DefaultProfile()
	store := engine.NewStore(st, log, 200*time.Millisecond)
	quoter := curve.NewQuoter(profile.FeeCalculator(), profile.DefaultSlippageBps)
	executor := engine.NewTradeExecutor(store, quoter, bus, collector, log)

	registry := agent.NewRegistry(st, store, bus, collector, profile, agent.FactoryConfig{
		Authority:   "AuthorityWa11et1111111111111111111111111111",
		Treasury:    "TreasuryWa11et11111111111111111111111111111",
		CreationFee: 100_000_000,
	}, log)

	pay := payments.NewService(st, bus, collector, log)

	venues := dex.NewRegistry(log)
	curveVenue := dex.NewCurveVenue(executor)
	require.NoError(t, venues.Register(curveVenue))
	external := &fakeVenue{name: "raydium"}
	require.NoError(t, venues.Register(external))
	router := dex.NewRouter(store, curveVenue, venues, "raydium", log)

	svc := NewService(Components{
		Storage:  st,
		Store:    store,
		Quoter:   quoter,
		Executor: executor,
		Registry: registry,
		Payments: pay,
		Router:   router,
		Venues:   venues,
		Metrics:  collector,
	}, log)

	return &serviceRig{svc: svc, store: store, external: external, storage: st}
}

func launchParams(mint string) agent.CreateParams {
	return agent.CreateParams{
		Mint:         mint,
		Creator:      "CreatorWa11et111111111111111111111111111111",
		Name:         "Atlas Research",
		Symbol:       "ATLAS",
		Description:  "Autonomous research agent",
		Instructions: "Track market structure and report anomalies",
		Model:        "gpt-4o",
		Category:     "research",
	}
}

func TestServiceLifecycle(t *testing.T) {
	rig := newServiceRig(t)
	ctx := context.Background()

	launched, err := rig.svc.Launch(ctx, launchParams("mint-a"))
	require.NoError(t, err)
	assert.Equal(t, uint64(0), launched.AgentID)
	assert.Equal(t, uint64(100_000_000), launched.CreationFee)

	status, err := rig.svc.TokenStatus("mint-a")
	require.NoError(t, err)
	assert.Equal(t, uint64(27), status.PriceLamports)
	assert.Equal(t, uint64(27_000_000_000), status.MarketCapLamports)
	assert.Equal(t, uint64(0), status.GraduationProgress)
	assert.Equal(t, uint64(0), status.CirculatingSupply)
	assert.False(t, status.Graduated)

	quote, err := rig.svc.QuoteBuy("mint-a", 10_000_000, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(9_800_000), quote.SolInNet)
	assert.Equal(t, uint64(200_000), quote.Fees.Total)
	assert.Equal(t, uint64(350_398_869_702_564), quote.TokensOut)

	result, err := rig.svc.Trade(ctx, engine.TradeRequest{
		TokenID:  "mint-a",
		Side:     curve.SideBuy,
		AmountIn: 10_000_000,
		MinOut:   quote.TokensOut,
	})
	require.NoError(t, err)
	assert.Equal(t, quote.TokensOut, result.AmountOut)
	assert.Equal(t, uint64(27), result.PriceAfter)

	status, err = rig.svc.TokenStatus("mint-a")
	require.NoError(t, err)
	assert.Equal(t, uint64(30_009_800_000), status.VirtualSolReserves)
	assert.Equal(t, uint64(9_800_000), status.RealSolReserves)
	assert.Equal(t, quote.TokensOut, status.CirculatingSupply)

	trades, err := rig.svc.Trades(ctx, "mint-a", 10, 0)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, result.TradeID, trades[0].TradeID)
	assert.Equal(t, "buy", trades[0].Side)

	_, err = rig.svc.Launch(ctx, launchParams("mint-b"))
	require.NoError(t, err)

	tokens := rig.svc.Tokens()
	require.Len(t, tokens, 2)
	assert.Equal(t, "mint-a", tokens[0].TokenID)
	assert.Equal(t, "mint-b", tokens[1].TokenID)

	stats := rig.svc.Stats()
	assert.Equal(t, 2, stats.TrackedTokens)
	assert.Equal(t, 0, stats.InconsistentTokens)
	assert.Equal(t, uint64(2), stats.TotalAgents)

	agents, err := rig.svc.Agents(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, agents, 2)
	assert.Equal(t, "mint-a", agents[0].Mint)
}

func TestServiceSwapRouting(t *testing.T) {
	rig := newServiceRig(t)
	ctx := context.Background()

	_, err := rig.svc.Launch(ctx, launchParams("mint-a"))
	require.NoError(t, err)

	result, err := rig.svc.Swap(ctx, dex.SwapRequest{
		TokenID: "mint-a", Side: curve.SideBuy, AmountIn: 10_000_000,
	})
	require.NoError(t, err)
	assert.Equal(t, dex.CurveVenueName, result.Venue)
	assert.Equal(t, uint64(350_398_869_702_564), result.AmountOut)
	assert.Equal(t, 0, rig.external.callCount())

	// Flip the stored flag the way a threshold-crossing trade would.
	info, err := rig.store.Inspect("mint-a")
	require.NoError(t, err)
	state := info.State
	state.Graduated = true
	require.NoError(t, rig.store.Commit(ctx, state, nil))

	routed, err := rig.svc.Swap(ctx, dex.SwapRequest{
		TokenID: "mint-a", Side: curve.SideBuy, AmountIn: 1_000,
	})
	require.NoError(t, err)
	assert.Equal(t, "raydium", routed.Venue)
	assert.Equal(t, 1, rig.external.callCount())

	_, err = rig.svc.QuoteBuy("mint-a", 1_000, 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, curve.ErrGraduated))

	status, err := rig.svc.TokenStatus("mint-a")
	require.NoError(t, err)
	assert.True(t, status.Graduated)
}

func TestServiceQuoteUnknownToken(t *testing.T) {
	rig := newServiceRig(t)

	_, err := rig.svc.QuoteBuy("missing", 1_000, 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, engine.ErrTokenNotFound))

	_, err = rig.svc.QuoteSell("missing", 1_000, 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, engine.ErrTokenNotFound))
}

func TestServiceResyncWithoutReconciler(t *testing.T) {
	rig := newServiceRig(t)

	err := rig.svc.Resync(context.Background(), "mint-a")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not configured")
}

func TestServicePaymentsFlow(t *testing.T) {
	rig := newServiceRig(t)
	ctx := context.Background()

	_, err := rig.svc.Launch(ctx, launchParams("mint-a"))
	require.NoError(t, err)

	cfg, err := rig.svc.ConfigurePayments(ctx, payments.ConfigParams{
		TokenID:        "mint-a",
		Recipient:      "CreatorWa11et111111111111111111111111111111",
		Enabled:        true,
		MinAmount:      1_000,
		TimeoutSeconds: 60,
	})
	require.NoError(t, err)
	assert.True(t, cfg.Enabled)

	payment, err := rig.svc.PayForService(ctx, payments.PaymentRequest{
		TokenID:   "mint-a",
		Payer:     "PayerWa11et11111111111111111111111111111111",
		Amount:    5_000,
		ServiceID: "inference",
		Nonce:     1,
	})
	require.NoError(t, err)
	assert.Equal(t, payments.StatusPending, payment.Status)

	require.NoError(t, rig.svc.VerifyPayment(ctx, payment.PaymentID))

	got, err := rig.svc.Payment(ctx, payment.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, payments.StatusVerified, got.Status)

	cfg, err = rig.svc.PaymentConfig(ctx, "mint-a")
	require.NoError(t, err)
	assert.Equal(t, uint64(5_000), cfg.TotalReceived)
	assert.Equal(t, uint64(1), cfg.TotalCalls)
	assert.Equal(t, uint64(1), cfg.Nonce)
}

func TestServiceExportTrades(t *testing.T) {
	rig := newServiceRig(t)
	ctx := context.Background()

	_, err := rig.svc.Launch(ctx, launchParams("mint-a"))
	require.NoError(t, err)

	quote, err := rig.svc.QuoteBuy("mint-a", 10_000_000, 0)
	require.NoError(t, err)
	_, err = rig.svc.Trade(ctx, engine.TradeRequest{
		TokenID:  "mint-a",
		Side:     curve.SideBuy,
		AmountIn: 10_000_000,
		MinOut:   quote.TokensOut,
	})
	require.NoError(t, err)

	path, err := rig.svc.ExportTrades(ctx, "mint-a", export.Options{
		Format:    export.FormatCSV,
		OutputDir: t.TempDir(),
	})
	require.NoError(t, err)
	assert.FileExists(t, path)
}

func TestServiceUpdateCreationFee(t *testing.T) {
	rig := newServiceRig(t)
	ctx := context.Background()

	err := rig.svc.UpdateCreationFee("IntruderWa11et", 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, agent.ErrUnauthorized))

	require.NoError(t, rig.svc.UpdateCreationFee("AuthorityWa11et1111111111111111111111111111", 250_000_000))
	assert.Equal(t, uint64(250_000_000), rig.svc.Factory().CreationFee)

	launched, err := rig.svc.Launch(ctx, launchParams("mint-a"))
	require.NoError(t, err)
	assert.Equal(t, uint64(250_000_000), launched.CreationFee)
}
