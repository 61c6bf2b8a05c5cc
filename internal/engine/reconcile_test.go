// internal/engine/reconcile_test.go
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
	"github.com/ursuslabs/agent-launchpad/internal/events"
	"github.com/ursuslabs/agent-launchpad/internal/metrics"
)

// fakeLedger serves canned chain accounts keyed by agent id.
type fakeLedger struct {
	mu       sync.Mutex
	accounts map[uint64]*chain.AgentAccount
	errs     map[uint64]error
	calls    int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		accounts: make(map[uint64]*chain.AgentAccount),
		errs:     make(map[uint64]error),
	}
}

func (f *fakeLedger) FetchAgentAccount(_ context.Context, agentID uint64) (*chain.AgentAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err := f.errs[agentID]; err != nil {
		return nil, err
	}
	account, ok := f.accounts[agentID]
	if !ok {
		return nil, errors.New("agent account not found")
	}
	cp := *account
	return &cp, nil
}

func (f *fakeLedger) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// accountFromState builds a chain account that mirrors a local state exactly.
func accountFromState(state *curve.ReserveState, agentID uint64) *chain.AgentAccount {
	return &chain.AgentAccount{
		AgentID:              agentID,
		Mint:                 state.TokenID,
		Creator:              state.Creator,
		Graduated:            state.Graduated,
		VirtualSolReserves:   state.VirtualSolReserves,
		VirtualTokenReserves: state.VirtualTokenReserves,
		RealSolReserves:      state.RealSolReserves,
		RealTokenReserves:    state.RealTokenReserves,
		GraduationThreshold:  state.GraduationThreshold,
		BondingCurveSupply:   state.BondingCurveSupply,
		TotalSupply:          state.TotalSupply,
	}
}

type reconcilerRig struct {
	mem    *memStorage
	store  *Store
	ledger *fakeLedger
	bus    *events.Bus
	rec    *Reconciler
}

func newReconcilerRig(t *testing.T, cfg ReconcilerConfig) *reconcilerRig {
	t.Helper()

	mem := newMemStorage()
	logger := zaptest.NewLogger(t)
	store := NewStore(mem, logger, time.Second)
	ledger := newFakeLedger()
	bus := events.NewBus(logger, 64)
	rec := NewReconciler(store, ledger, bus, metrics.NewCollector(), logger, cfg)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = bus.Shutdown(ctx)
	})

	return &reconcilerRig{mem: mem, store: store, ledger: ledger, bus: bus, rec: rec}
}

// register launches a token and, unless mirror is false, serves a matching
// chain account for it.
func (r *reconcilerRig) register(t *testing.T, tokenID string, agentID uint64, mirror bool) *curve.ReserveState {
	t.Helper()
	state := launchState(tokenID, 0)
	require.NoError(t, r.store.Register(context.Background(), state, agentID))
	if mirror {
		r.ledger.accounts[agentID] = accountFromState(state, agentID)
	}
	return state
}

func TestReconcilerSweepClean(t *testing.T) {
	rig := newReconcilerRig(t, ReconcilerConfig{Tolerance: 5, Workers: 2})
	rig.register(t, "mint-a", 1, true)
	rig.register(t, "mint-b", 2, true)

	checked, flagged := rig.rec.Sweep(context.Background())
	assert.Equal(t, 2, checked)
	assert.Equal(t, 0, flagged)
	assert.Equal(t, 0, rig.store.InconsistentCount())

	_, err := rig.store.Snapshot("mint-a")
	assert.NoError(t, err)
}

func TestReconcilerSweepTolerance(t *testing.T) {
	rig := newReconcilerRig(t, ReconcilerConfig{Tolerance: 5, Workers: 2})

	// mint-a drifts by exactly the tolerance, mint-b by one lamport more.
	a := rig.register(t, "mint-a", 1, true)
	rig.ledger.accounts[1].RealSolReserves = a.RealSolReserves + 5
	b := rig.register(t, "mint-b", 2, true)
	rig.ledger.accounts[2].RealSolReserves = b.RealSolReserves + 6

	var (
		mu       sync.Mutex
		received []*events.StateInconsistentEvent
	)
	rig.bus.SubscribeFunc(events.StateInconsistent, func(_ context.Context, e events.Event) error {
		mu.Lock()
		received = append(received, e.(*events.StateInconsistentEvent))
		mu.Unlock()
		return nil
	})

	checked, flagged := rig.rec.Sweep(context.Background())
	assert.Equal(t, 2, checked)
	assert.Equal(t, 1, flagged)
	assert.Equal(t, 1, rig.store.InconsistentCount())

	_, err := rig.store.Snapshot("mint-a")
	assert.NoError(t, err)

	_, err = rig.store.Snapshot("mint-b")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInconsistentState))

	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, rig.bus.Shutdown(shutCtx))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 1)
	assert.Equal(t, "mint-b", received[0].TokenID)
	assert.Equal(t, "real_sol_reserves", received[0].Field)
	assert.Equal(t, b.RealSolReserves, received[0].Local)
	assert.Equal(t, b.RealSolReserves+6, received[0].Chain)
}

func TestReconcilerSweepSkipsFlaggedTokens(t *testing.T) {
	rig := newReconcilerRig(t, ReconcilerConfig{Workers: 2})
	rig.register(t, "mint-a", 1, true)
	rig.register(t, "mint-b", 2, true)
	require.NoError(t, rig.store.MarkInconsistent(context.Background(), "mint-b"))

	checked, flagged := rig.rec.Sweep(context.Background())
	assert.Equal(t, 1, checked)
	assert.Equal(t, 0, flagged)
	assert.Equal(t, 1, rig.ledger.callCount())
}

func TestReconcilerSweepFetchErrorSkips(t *testing.T) {
	rig := newReconcilerRig(t, ReconcilerConfig{Workers: 2})
	rig.register(t, "mint-a", 1, true)
	rig.register(t, "mint-b", 2, false)
	rig.ledger.errs[2] = errors.New("rpc unavailable")

	checked, flagged := rig.rec.Sweep(context.Background())
	assert.Equal(t, 1, checked)
	assert.Equal(t, 0, flagged)

	// A failed fetch is not evidence of divergence.
	_, err := rig.store.Snapshot("mint-b")
	assert.NoError(t, err)
}

func TestReconcilerAutoResync(t *testing.T) {
	rig := newReconcilerRig(t, ReconcilerConfig{Tolerance: 5, Workers: 2, AutoResync: true})
	state := rig.register(t, "mint-a", 1, true)

	// The chain saw trades this process missed.
	rig.ledger.accounts[1].VirtualSolReserves = state.VirtualSolReserves + 9_800_000
	rig.ledger.accounts[1].RealSolReserves = state.RealSolReserves + 9_800_000

	var (
		mu       sync.Mutex
		resynced int
	)
	rig.bus.SubscribeFunc(events.StateResynced, func(context.Context, events.Event) error {
		mu.Lock()
		resynced++
		mu.Unlock()
		return nil
	})

	checked, flagged := rig.rec.Sweep(context.Background())
	assert.Equal(t, 1, checked)
	assert.Equal(t, 1, flagged)

	// The token is consistent again and carries the chain's figures.
	snap, err := rig.store.Snapshot("mint-a")
	require.NoError(t, err)
	assert.Equal(t, state.VirtualSolReserves+9_800_000, snap.VirtualSolReserves)
	assert.Equal(t, state.RealSolReserves+9_800_000, snap.RealSolReserves)
	assert.Equal(t, 0, rig.store.InconsistentCount())

	row := rig.mem.savedState("mint-a")
	require.NotNil(t, row)
	assert.False(t, row.Inconsistent)

	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, rig.bus.Shutdown(shutCtx))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, resynced)
}

func TestReconcilerResyncAdoptsGraduation(t *testing.T) {
	rig := newReconcilerRig(t, ReconcilerConfig{Workers: 1})
	rig.register(t, "mint-a", 1, true)
	rig.ledger.accounts[1].Graduated = true

	checked, flagged := rig.rec.Sweep(context.Background())
	assert.Equal(t, 1, checked)
	assert.Equal(t, 1, flagged)

	require.NoError(t, rig.rec.Resync(context.Background(), "mint-a"))

	snap, err := rig.store.Snapshot("mint-a")
	require.NoError(t, err)
	assert.True(t, snap.Graduated)
	assert.Equal(t, 0, rig.store.InconsistentCount())
}

func TestReconcilerResyncRefusesDowngrade(t *testing.T) {
	rig := newReconcilerRig(t, ReconcilerConfig{Workers: 1})
	state := rig.register(t, "mint-a", 1, true)
	ctx := context.Background()

	// Locally graduated, but the served chain account still says not.
	state.Graduated = true
	require.NoError(t, rig.store.Commit(ctx, state, nil))

	checked, flagged := rig.rec.Sweep(ctx)
	assert.Equal(t, 1, checked)
	assert.Equal(t, 1, flagged)

	err := rig.rec.Resync(ctx, "mint-a")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInconsistentState))

	// Still flagged until the chain account catches up.
	info, err := rig.store.Inspect("mint-a")
	require.NoError(t, err)
	assert.True(t, info.Inconsistent)
	assert.True(t, info.State.Graduated)

	// Once it does, the resync goes through.
	rig.ledger.accounts[1].Graduated = true
	require.NoError(t, rig.rec.Resync(ctx, "mint-a"))
	assert.Equal(t, 0, rig.store.InconsistentCount())
}

func TestReconcilerRunStopsOnCancel(t *testing.T) {
	rig := newReconcilerRig(t, ReconcilerConfig{Interval: 10 * time.Millisecond, Workers: 1})
	rig.register(t, "mint-a", 1, true)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()

	err := rig.rec.Run(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.GreaterOrEqual(t, rig.ledger.callCount(), 1)
}
