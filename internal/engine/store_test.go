// internal/engine/store_test.go
package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ursuslabs/agent-launchpad/internal/chain"
	"github.com/ursuslabs/agent-launchpad/internal/curve"
	"github.com/ursuslabs/agent-launchpad/internal/storage"
	"github.com/ursuslabs/agent-launchpad/internal/storage/models"
)

// memStorage is an in-memory storage.Storage for engine tests.
type memStorage struct {
	mu      sync.Mutex
	agents  map[string]*models.Agent
	states  map[string]*models.ReserveState
	trades  []*models.Trade
	configs map[string]*models.PaymentConfig
	records map[string]*models.PaymentRecord

	// failSaveState makes the next SaveReserveState fail once.
	failSaveState bool
}

func newMemStorage() *memStorage {
	return &memStorage{
		agents:  make(map[string]*models.Agent),
		states:  make(map[string]*models.ReserveState),
		configs: make(map[string]*models.PaymentConfig),
		records: make(map[string]*models.PaymentRecord),
	}
}

func (m *memStorage) SaveAgent(_ context.Context, agent *models.Agent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *agent
	m.agents[agent.Mint] = &cp
	return nil
}

func (m *memStorage) GetAgent(_ context.Context, mint string) (*models.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	agent, ok := m.agents[mint]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *agent
	return &cp, nil
}

func (m *memStorage) ListAgents(_ context.Context, limit, offset int) ([]*models.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	agents := make([]*models.Agent, 0, len(m.agents))
	for _, agent := range m.agents {
		cp := *agent
		agents = append(agents, &cp)
	}
	return agents, nil
}

func (m *memStorage) CountAgents(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.agents)), nil
}

func (m *memStorage) SaveReserveState(_ context.Context, state *models.ReserveState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSaveState {
		m.failSaveState = false
		return errors.New("storage unavailable")
	}
	cp := *state
	m.states[state.Mint] = &cp
	return nil
}

func (m *memStorage) GetReserveState(_ context.Context, mint string) (*models.ReserveState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.states[mint]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *state
	return &cp, nil
}

func (m *memStorage) ListReserveStates(_ context.Context) ([]*models.ReserveState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	states := make([]*models.ReserveState, 0, len(m.states))
	for _, state := range m.states {
		cp := *state
		states = append(states, &cp)
	}
	return states, nil
}

func (m *memStorage) SaveTrade(_ context.Context, trade *models.Trade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *trade
	m.trades = append(m.trades, &cp)
	return nil
}

func (m *memStorage) ListTrades(_ context.Context, mint string, limit, offset int) ([]*models.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var trades []*models.Trade
	for _, trade := range m.trades {
		if trade.Mint == mint {
			cp := *trade
			trades = append(trades, &cp)
		}
	}
	return trades, nil
}

func (m *memStorage) SavePaymentConfig(_ context.Context, cfg *models.PaymentConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *cfg
	m.configs[cfg.Mint] = &cp
	return nil
}

func (m *memStorage) GetPaymentConfig(_ context.Context, mint string) (*models.PaymentConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg, ok := m.configs[mint]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *cfg
	return &cp, nil
}

func (m *memStorage) SavePaymentRecord(_ context.Context, record *models.PaymentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *record
	m.records[record.PaymentID] = &cp
	return nil
}

func (m *memStorage) GetPaymentRecord(_ context.Context, paymentID string) (*models.PaymentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.records[paymentID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *record
	return &cp, nil
}

func (m *memStorage) UpdatePaymentStatus(_ context.Context, paymentID string, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.records[paymentID]
	if !ok {
		return storage.ErrNotFound
	}
	record.Status = status
	return nil
}

func (m *memStorage) RunMigrations() error {
	return nil
}

func (m *memStorage) tradeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.trades)
}

func (m *memStorage) savedState(mint string) *models.ReserveState {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.states[mint]
	if !ok {
		return nil
	}
	cp := *state
	return &cp
}

// launchState builds a fresh launch-time state; a non-zero threshold
// overrides the profile default.
func launchState(tokenID string, threshold uint64) *curve.ReserveState {
	p := curve.DefaultProfile()
	if threshold > 0 {
		p.GraduationThreshold = threshold
	}
	return curve.NewReserveState(tokenID, "CreatorWa11et11111111111111111111111111111111", p)
}

func TestStoreRegisterAndSnapshot(t *testing.T) {
	mem := newMemStorage()
	store := NewStore(mem, zaptest.NewLogger(t), time.Second)
	ctx := context.Background()

	state := launchState("mint-a", 0)
	require.NoError(t, store.Register(ctx, state, 1))

	snap, err := store.Snapshot("mint-a")
	require.NoError(t, err)
	assert.Equal(t, state.VirtualSolReserves, snap.VirtualSolReserves)
	assert.Equal(t, state.RealTokenReserves, snap.RealTokenReserves)

	// Mutating a snapshot must not leak into the committed state.
	snap.RealSolReserves = 12345
	again, err := store.Snapshot("mint-a")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), again.RealSolReserves)

	row := mem.savedState("mint-a")
	require.NotNil(t, row)
	assert.Equal(t, uint64(1), row.AgentID)
	assert.False(t, row.Inconsistent)

	err = store.Register(ctx, launchState("mint-a", 0), 2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
}

func TestStoreSnapshotUnknownToken(t *testing.T) {
	store := NewStore(newMemStorage(), zaptest.NewLogger(t), time.Second)

	_, err := store.Snapshot("missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTokenNotFound))
}

func TestStoreLoad(t *testing.T) {
	mem := newMemStorage()
	ctx := context.Background()

	require.NoError(t, mem.SaveReserveState(ctx, stateToModel(launchState("mint-a", 0), 1, false)))
	graduated := launchState("mint-b", 0)
	graduated.Graduated = true
	require.NoError(t, mem.SaveReserveState(ctx, stateToModel(graduated, 2, false)))
	require.NoError(t, mem.SaveReserveState(ctx, stateToModel(launchState("mint-c", 0), 3, true)))

	store := NewStore(mem, zaptest.NewLogger(t), time.Second)
	require.NoError(t, store.Load(ctx))
	assert.Equal(t, 3, store.Count())
	assert.Equal(t, 1, store.InconsistentCount())

	snap, err := store.Snapshot("mint-b")
	require.NoError(t, err)
	assert.True(t, snap.Graduated)

	_, err = store.Snapshot("mint-c")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInconsistentState))

	info, err := store.Inspect("mint-c")
	require.NoError(t, err)
	assert.True(t, info.Inconsistent)
	assert.Equal(t, uint64(3), info.AgentID)
}

func TestStoreAcquireTimeout(t *testing.T) {
	store := NewStore(newMemStorage(), zaptest.NewLogger(t), 50*time.Millisecond)
	ctx := context.Background()
	require.NoError(t, store.Register(ctx, launchState("mint-a", 0), 1))

	release, err := store.Acquire(ctx, "mint-a")
	require.NoError(t, err)

	_, err = store.Acquire(ctx, "mint-a")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLockTimeout))

	release()

	release2, err := store.Acquire(ctx, "mint-a")
	require.NoError(t, err)
	release2()
}

func TestStoreAcquireCallerCanceled(t *testing.T) {
	store := NewStore(newMemStorage(), zaptest.NewLogger(t), time.Second)
	ctx := context.Background()
	require.NoError(t, store.Register(ctx, launchState("mint-a", 0), 1))

	canceled, cancel := context.WithCancel(ctx)
	cancel()

	_, err := store.Acquire(canceled, "mint-a")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.False(t, errors.Is(err, ErrLockTimeout))
}

func TestStoreCommit(t *testing.T) {
	mem := newMemStorage()
	store := NewStore(mem, zaptest.NewLogger(t), time.Second)
	ctx := context.Background()
	require.NoError(t, store.Register(ctx, launchState("mint-a", 0), 1))

	state, err := store.Snapshot("mint-a")
	require.NoError(t, err)
	require.NoError(t, state.ApplyBuy(9_800_000, 350_398_869_702_564))

	trade := &models.Trade{TradeID: "t-1", Mint: "mint-a", Side: "buy", AmountIn: 10_000_000, AmountOut: 350_398_869_702_564}
	require.NoError(t, store.Commit(ctx, state, trade))

	snap, err := store.Snapshot("mint-a")
	require.NoError(t, err)
	assert.Equal(t, uint64(9_800_000), snap.RealSolReserves)
	assert.Equal(t, uint64(30_009_800_000), snap.VirtualSolReserves)

	row := mem.savedState("mint-a")
	require.NotNil(t, row)
	assert.Equal(t, uint64(9_800_000), row.RealSolReserves)
	assert.Equal(t, 1, mem.tradeCount())

	// Unknown token fails before touching storage.
	orphan := launchState("mint-x", 0)
	err = store.Commit(ctx, orphan, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTokenNotFound))
}

func TestStoreCommitPersistFailure(t *testing.T) {
	mem := newMemStorage()
	store := NewStore(mem, zaptest.NewLogger(t), time.Second)
	ctx := context.Background()
	require.NoError(t, store.Register(ctx, launchState("mint-a", 0), 1))

	state, err := store.Snapshot("mint-a")
	require.NoError(t, err)
	require.NoError(t, state.ApplyBuy(9_800_000, 350_398_869_702_564))

	mem.failSaveState = true
	err = store.Commit(ctx, state, nil)
	require.Error(t, err)

	// Committed snapshot is unchanged after the failed persist.
	snap, err := store.Snapshot("mint-a")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), snap.RealSolReserves)
	assert.Equal(t, uint64(30_000_000_000), snap.VirtualSolReserves)
}

func TestStoreMarkInconsistentAndResync(t *testing.T) {
	mem := newMemStorage()
	store := NewStore(mem, zaptest.NewLogger(t), time.Second)
	ctx := context.Background()
	require.NoError(t, store.Register(ctx, launchState("mint-a", 0), 1))

	require.NoError(t, store.MarkInconsistent(ctx, "mint-a"))

	_, err := store.Snapshot("mint-a")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInconsistentState))

	row := mem.savedState("mint-a")
	require.NotNil(t, row)
	assert.True(t, row.Inconsistent)

	account := &chain.AgentAccount{
		AgentID:              1,
		Mint:                 "mint-a",
		Creator:              "CreatorWa11et11111111111111111111111111111111",
		VirtualSolReserves:   30_009_800_000,
		VirtualTokenReserves: 1_072_649_601_130_297_436,
		RealSolReserves:      9_800_000,
		RealTokenReserves:    799_649_601_130_297_436,
		GraduationThreshold:  30_000 * curve.LamportsPerSol,
		BondingCurveSupply:   800_000_000 * curve.TokenBaseUnits,
		TotalSupply:          1_000_000_000 * curve.TokenBaseUnits,
	}
	require.NoError(t, store.Resync(ctx, "mint-a", account))

	snap, err := store.Snapshot("mint-a")
	require.NoError(t, err)
	assert.Equal(t, uint64(9_800_000), snap.RealSolReserves)
	assert.Equal(t, uint64(30_009_800_000), snap.VirtualSolReserves)

	row = mem.savedState("mint-a")
	require.NotNil(t, row)
	assert.False(t, row.Inconsistent)
	assert.Equal(t, uint64(9_800_000), row.RealSolReserves)

	// The chain account must describe the same token.
	err = store.Resync(ctx, "mint-a", &chain.AgentAccount{Mint: "mint-z"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not match")
}

func TestStoreResyncRefusesGraduationDowngrade(t *testing.T) {
	mem := newMemStorage()
	store := NewStore(mem, zaptest.NewLogger(t), time.Second)
	ctx := context.Background()
	require.NoError(t, store.Register(ctx, launchState("mint-a", 0), 1))

	state, err := store.Snapshot("mint-a")
	require.NoError(t, err)
	state.Graduated = true
	require.NoError(t, store.Commit(ctx, state, nil))
	require.NoError(t, store.MarkInconsistent(ctx, "mint-a"))

	account := &chain.AgentAccount{
		AgentID:              1,
		Mint:                 "mint-a",
		Creator:              "CreatorWa11et11111111111111111111111111111111",
		VirtualSolReserves:   30_000_000_000,
		VirtualTokenReserves: 1_073_000_000 * curve.TokenBaseUnits,
		RealTokenReserves:    800_000_000 * curve.TokenBaseUnits,
		GraduationThreshold:  30_000 * curve.LamportsPerSol,
		BondingCurveSupply:   800_000_000 * curve.TokenBaseUnits,
		TotalSupply:          1_000_000_000 * curve.TokenBaseUnits,
		Graduated:            false,
	}
	err = store.Resync(ctx, "mint-a", account)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInconsistentState))

	// Still flagged, still graduated.
	info, err := store.Inspect("mint-a")
	require.NoError(t, err)
	assert.True(t, info.Inconsistent)
	assert.True(t, info.State.Graduated)
}
