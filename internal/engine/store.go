// internal/engine/store.go
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/ursuslabs/agent-launchpad/internal/chain"
	"github.com/ursuslabs/agent-launchpad/internal/curve"
	"github.com/ursuslabs/agent-launchpad/internal/storage"
	"github.com/ursuslabs/agent-launchpad/internal/storage/models"
)

const defaultLockTimeout = 5 * time.Second

// tokenEntry pairs a token's committed snapshot with its trade lock. Entries
// are never removed, so pointers handed out under the map lock stay valid.
type tokenEntry struct {
	sem          *semaphore.Weighted
	committed    *curve.ReserveState
	agentID      uint64
	inconsistent bool
}

// TokenInfo is a read-only view of one tracked token.
type TokenInfo struct {
	TokenID      string
	AgentID      uint64
	State        *curve.ReserveState
	Inconsistent bool
}

// Store is the concurrency and persistence boundary around reserve states.
// Each token gets a weighted semaphore of one permit so at most one trade is
// in flight per token, while quotes read the last committed snapshot without
// touching the per-token locks. Every commit writes through to storage.
type Store struct {
	mu          sync.RWMutex
	entries     map[string]*tokenEntry
	storage     storage.Storage
	logger      *zap.Logger
	lockTimeout time.Duration
}

func NewStore(st storage.Storage, logger *zap.Logger, lockTimeout time.Duration) *Store {
	if lockTimeout <= 0 {
		lockTimeout = defaultLockTimeout
	}
	return &Store{
		entries:     make(map[string]*tokenEntry),
		storage:     st,
		logger:      logger.Named("reserve_store"),
		lockTimeout: lockTimeout,
	}
}

// Load warm-loads every persisted reserve state into memory. Called once at
// startup before the store serves quotes or trades.
func (s *Store) Load(ctx context.Context) error {
	rows, err := s.storage.ListReserveStates(ctx)
	if err != nil {
		return fmt.Errorf("failed to load reserve states: %w", err)
	}

	s.mu.Lock()
	for _, row := range rows {
		s.entries[row.Mint] = &tokenEntry{
			sem:          semaphore.NewWeighted(1),
			committed:    stateFromModel(row),
			agentID:      row.AgentID,
			inconsistent: row.Inconsistent,
		}
	}
	count := len(s.entries)
	s.mu.Unlock()

	s.logger.Info("Reserve states loaded", zap.Int("count", count))
	return nil
}

// Register adds a newly launched token and persists its initial state.
func (s *Store) Register(ctx context.Context, state *curve.ReserveState, agentID uint64) error {
	s.mu.Lock()
	if _, exists := s.entries[state.TokenID]; exists {
		s.mu.Unlock()
		return fmt.Errorf("token %s is already registered", state.TokenID)
	}
	s.entries[state.TokenID] = &tokenEntry{
		sem:       semaphore.NewWeighted(1),
		committed: state.Clone(),
		agentID:   agentID,
	}
	s.mu.Unlock()

	if err := s.storage.SaveReserveState(ctx, stateToModel(state, agentID, false)); err != nil {
		s.mu.Lock()
		delete(s.entries, state.TokenID)
		s.mu.Unlock()
		return fmt.Errorf("failed to persist reserve state for %s: %w", state.TokenID, err)
	}
	return nil
}

// Snapshot returns a copy of the last committed state. Both the quote path
// and the trade path read through here; a token marked inconsistent fails
// hard until it is resynced.
func (s *Store) Snapshot(tokenID string) (*curve.ReserveState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[tokenID]
	if !ok {
		return nil, fmt.Errorf("token %s: %w", tokenID, ErrTokenNotFound)
	}
	if entry.inconsistent {
		return nil, fmt.Errorf("token %s: %w", tokenID, ErrInconsistentState)
	}
	return entry.committed.Clone(), nil
}

// Inspect returns the committed state and bookkeeping flags without the
// consistency gate. Status queries use it; trading paths go through Snapshot.
func (s *Store) Inspect(tokenID string) (*TokenInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[tokenID]
	if !ok {
		return nil, fmt.Errorf("token %s: %w", tokenID, ErrTokenNotFound)
	}
	return &TokenInfo{
		TokenID:      tokenID,
		AgentID:      entry.agentID,
		State:        entry.committed.Clone(),
		Inconsistent: entry.inconsistent,
	}, nil
}

// Tracked lists every token the store knows.
func (s *Store) Tracked() []*TokenInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	infos := make([]*TokenInfo, 0, len(s.entries))
	for tokenID, entry := range s.entries {
		infos = append(infos, &TokenInfo{
			TokenID:      tokenID,
			AgentID:      entry.agentID,
			State:        entry.committed.Clone(),
			Inconsistent: entry.inconsistent,
		})
	}
	return infos
}

// Count returns the number of tracked tokens.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// InconsistentCount returns how many tokens are currently marked diverged.
func (s *Store) InconsistentCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, entry := range s.entries {
		if entry.inconsistent {
			count++
		}
	}
	return count
}

func (s *Store) lookup(tokenID string) (*tokenEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[tokenID]
	if !ok {
		return nil, fmt.Errorf("token %s: %w", tokenID, ErrTokenNotFound)
	}
	return entry, nil
}

// Acquire takes the token's trade lock, waiting at most the configured
// timeout. The returned release function must be called exactly once. Caller
// cancellation before acquisition returns the context error; expiry of the
// wait bound returns ErrLockTimeout.
func (s *Store) Acquire(ctx context.Context, tokenID string) (func(), error) {
	entry, err := s.lookup(tokenID)
	if err != nil {
		return nil, err
	}

	waitCtx, cancel := context.WithTimeout(ctx, s.lockTimeout)
	defer cancel()

	if err := entry.sem.Acquire(waitCtx, 1); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("token %s: lock not acquired within %s: %w",
			tokenID, s.lockTimeout, ErrLockTimeout)
	}
	return func() { entry.sem.Release(1) }, nil
}

// Commit persists the working state and swaps it in as the new committed
// snapshot. Must be called while holding the token's trade lock. Persistence
// runs on a detached context so caller cancellation cannot interrupt a trade
// that already applied. The trade row is a journal entry: its failure is
// logged, never returned.
func (s *Store) Commit(ctx context.Context, state *curve.ReserveState, trade *models.Trade) error {
	entry, err := s.lookup(state.TokenID)
	if err != nil {
		return err
	}

	ctx = context.WithoutCancel(ctx)

	s.mu.RLock()
	inconsistent := entry.inconsistent
	s.mu.RUnlock()

	if err := s.storage.SaveReserveState(ctx, stateToModel(state, entry.agentID, inconsistent)); err != nil {
		return fmt.Errorf("failed to persist reserve state for %s: %w", state.TokenID, err)
	}

	s.mu.Lock()
	entry.committed = state.Clone()
	s.mu.Unlock()

	if trade != nil {
		if err := s.storage.SaveTrade(ctx, trade); err != nil {
			s.logger.Error("Failed to persist trade record",
				zap.String("token_id", state.TokenID),
				zap.String("trade_id", trade.TradeID),
				zap.Error(err))
		}
	}
	return nil
}

// MarkInconsistent flags a token as diverged from its chain account. Trades
// and quotes on it fail until Resync adopts the chain state.
func (s *Store) MarkInconsistent(ctx context.Context, tokenID string) error {
	s.mu.Lock()
	entry, ok := s.entries[tokenID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("token %s: %w", tokenID, ErrTokenNotFound)
	}
	entry.inconsistent = true
	state := entry.committed.Clone()
	agentID := entry.agentID
	s.mu.Unlock()

	if err := s.storage.SaveReserveState(context.WithoutCancel(ctx), stateToModel(state, agentID, true)); err != nil {
		return fmt.Errorf("failed to persist inconsistent flag for %s: %w", tokenID, err)
	}
	return nil
}

// Resync adopts the chain account as the new committed state, under the
// token's trade lock. Graduation is monotonic: if the chain account reports
// graduated=false for a locally graduated token the resync is refused and
// the token stays inconsistent.
func (s *Store) Resync(ctx context.Context, tokenID string, account *chain.AgentAccount) error {
	entry, err := s.lookup(tokenID)
	if err != nil {
		return err
	}
	if account.Mint != tokenID {
		return fmt.Errorf("chain account mint %s does not match token %s", account.Mint, tokenID)
	}

	release, err := s.Acquire(ctx, tokenID)
	if err != nil {
		return err
	}
	defer release()

	s.mu.RLock()
	graduatedLocally := entry.committed.Graduated
	s.mu.RUnlock()

	if graduatedLocally && !account.Graduated {
		return fmt.Errorf("token %s: chain reports graduated=false after local graduation, refusing downgrade: %w",
			tokenID, ErrInconsistentState)
	}

	adopted := &curve.ReserveState{
		TokenID:              tokenID,
		Creator:              account.Creator,
		VirtualSolReserves:   account.VirtualSolReserves,
		VirtualTokenReserves: account.VirtualTokenReserves,
		RealSolReserves:      account.RealSolReserves,
		RealTokenReserves:    account.RealTokenReserves,
		BondingCurveSupply:   account.BondingCurveSupply,
		TotalSupply:          account.TotalSupply,
		GraduationThreshold:  account.GraduationThreshold,
		Graduated:            account.Graduated,
	}

	if err := s.storage.SaveReserveState(context.WithoutCancel(ctx), stateToModel(adopted, entry.agentID, false)); err != nil {
		return fmt.Errorf("failed to persist resynced state for %s: %w", tokenID, err)
	}

	s.mu.Lock()
	entry.committed = adopted
	entry.inconsistent = false
	s.mu.Unlock()

	s.logger.Info("Reserve state resynced from chain",
		zap.String("token_id", tokenID),
		zap.Uint64("real_sol_reserves", adopted.RealSolReserves),
		zap.Bool("graduated", adopted.Graduated))
	return nil
}

func stateToModel(state *curve.ReserveState, agentID uint64, inconsistent bool) *models.ReserveState {
	return &models.ReserveState{
		Mint:                 state.TokenID,
		AgentID:              agentID,
		Creator:              state.Creator,
		VirtualSolReserves:   state.VirtualSolReserves,
		VirtualTokenReserves: state.VirtualTokenReserves,
		RealSolReserves:      state.RealSolReserves,
		RealTokenReserves:    state.RealTokenReserves,
		BondingCurveSupply:   state.BondingCurveSupply,
		TotalSupply:          state.TotalSupply,
		GraduationThreshold:  state.GraduationThreshold,
		Graduated:            state.Graduated,
		Inconsistent:         inconsistent,
	}
}

func stateFromModel(m *models.ReserveState) *curve.ReserveState {
	return &curve.ReserveState{
		TokenID:              m.Mint,
		Creator:              m.Creator,
		VirtualSolReserves:   m.VirtualSolReserves,
		VirtualTokenReserves: m.VirtualTokenReserves,
		RealSolReserves:      m.RealSolReserves,
		RealTokenReserves:    m.RealTokenReserves,
		BondingCurveSupply:   m.BondingCurveSupply,
		TotalSupply:          m.TotalSupply,
		GraduationThreshold:  m.GraduationThreshold,
		Graduated:            m.Graduated,
	}
}
