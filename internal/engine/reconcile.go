// internal/engine/reconcile.go
package engine

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ursuslabs/agent-launchpad/internal/chain"
	"github.com/ursuslabs/agent-launchpad/internal/curve"
	"github.com/ursuslabs/agent-launchpad/internal/events"
	"github.com/ursuslabs/agent-launchpad/internal/metrics"
)

// LedgerClient is the consumer-side view of the chain reader.
type LedgerClient interface {
	FetchAgentAccount(ctx context.Context, agentID uint64) (*chain.AgentAccount, error)
}

// ReconcilerConfig bounds the reconciliation loop.
type ReconcilerConfig struct {
	Interval   time.Duration
	Tolerance  uint64
	Workers    int
	AutoResync bool
}

// Reconciler periodically compares every consistent local state against its
// authoritative chain account. Divergence beyond tolerance on any reserve
// field, or any graduation-flag mismatch, marks the token inconsistent so
// trades and quotes fail hard until a resync adopts the chain state.
type Reconciler struct {
	store   *Store
	client  LedgerClient
	bus     *events.Bus
	metrics *metrics.Collector
	logger  *zap.Logger
	cfg     ReconcilerConfig
}

func NewReconciler(store *Store, client LedgerClient, bus *events.Bus, collector *metrics.Collector, logger *zap.Logger, cfg ReconcilerConfig) *Reconciler {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 5
	}
	return &Reconciler{
		store:   store,
		client:  client,
		bus:     bus,
		metrics: collector,
		logger:  logger.Named("reconciler"),
		cfg:     cfg,
	}
}

// Run executes sweeps on the configured interval until the context ends.
func (r *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep compares every consistent token against its chain account once, with
// bounded parallelism. Fetch failures are logged and skipped; tokens already
// marked inconsistent wait for resync and are not re-checked.
func (r *Reconciler) Sweep(ctx context.Context) (checked, flagged int) {
	start := time.Now()

	var checkedCount, flaggedCount atomic.Int64
	tokenCh := make(chan *TokenInfo)

	g, gCtx := errgroup.WithContext(ctx)
	for i := 0; i < r.cfg.Workers; i++ {
		g.Go(func() error {
			for info := range tokenCh {
				if gCtx.Err() != nil {
					continue
				}
				didFlag, err := r.reconcileToken(gCtx, info)
				if err != nil {
					r.logger.Warn("Reconcile check failed",
						zap.String("token_id", info.TokenID),
						zap.Error(err))
					continue
				}
				checkedCount.Add(1)
				if didFlag {
					flaggedCount.Add(1)
				}
			}
			return nil
		})
	}

	for _, info := range r.store.Tracked() {
		if info.Inconsistent {
			continue
		}
		tokenCh <- info
	}
	close(tokenCh)
	_ = g.Wait()

	checked = int(checkedCount.Load())
	flagged = int(flaggedCount.Load())
	r.metrics.RecordReconcileSweep(time.Since(start), checked, r.store.InconsistentCount())

	r.logger.Debug("Reconciliation sweep complete",
		zap.Int("checked", checked),
		zap.Int("flagged", flagged),
		zap.Duration("duration", time.Since(start)))
	return checked, flagged
}

func (r *Reconciler) reconcileToken(ctx context.Context, info *TokenInfo) (bool, error) {
	account, err := r.client.FetchAgentAccount(ctx, info.AgentID)
	if err != nil {
		return false, fmt.Errorf("failed to fetch chain account for %s: %w", info.TokenID, err)
	}

	div := diverged(info.State, account, r.cfg.Tolerance)
	if div == nil {
		return false, nil
	}
	div.TokenID = info.TokenID

	r.logger.Warn("Local state diverged from chain",
		zap.String("token_id", info.TokenID),
		zap.String("field", div.Field),
		zap.Uint64("local", div.Local),
		zap.Uint64("chain", div.Chain))

	if err := r.store.MarkInconsistent(ctx, info.TokenID); err != nil {
		return false, err
	}

	r.publish(&events.StateInconsistentEvent{
		BaseEvent: events.NewBase(events.StateInconsistent),
		TokenID:   info.TokenID,
		Field:     div.Field,
		Local:     div.Local,
		Chain:     div.Chain,
	})

	if r.cfg.AutoResync {
		if err := r.Resync(ctx, info.TokenID); err != nil {
			r.logger.Error("Automatic resync failed",
				zap.String("token_id", info.TokenID),
				zap.Error(err))
		}
	}

	return true, nil
}

// Resync re-reads the chain account and adopts it as the local state. Serves
// both auto-resync and the operator path. A graduation downgrade is refused
// by the store; the token then stays inconsistent until the chain catches up.
func (r *Reconciler) Resync(ctx context.Context, tokenID string) error {
	info, err := r.store.Inspect(tokenID)
	if err != nil {
		return err
	}

	account, err := r.client.FetchAgentAccount(ctx, info.AgentID)
	if err != nil {
		return fmt.Errorf("failed to fetch chain account for %s: %w", tokenID, err)
	}

	if err := r.store.Resync(ctx, tokenID, account); err != nil {
		return err
	}

	r.publish(&events.StateResyncedEvent{
		BaseEvent: events.NewBase(events.StateResynced),
		TokenID:   tokenID,
	})
	return nil
}

func (r *Reconciler) publish(event events.Event) {
	if err := r.bus.Publish(event); err != nil {
		r.logger.Warn("Failed to publish event",
			zap.String("event_type", string(event.Type())),
			zap.Error(err))
		return
	}
	r.metrics.RecordEvent(string(event.Type()))
}

// diverged returns the first field whose local and chain values disagree
// beyond tolerance. The graduation flag is compared exactly.
func diverged(local *curve.ReserveState, account *chain.AgentAccount, tolerance uint64) *InconsistencyError {
	if local.Graduated != account.Graduated {
		return &InconsistencyError{
			Field: "graduated",
			Local: boolToUint64(local.Graduated),
			Chain: boolToUint64(account.Graduated),
		}
	}

	checks := []struct {
		field string
		local uint64
		chain uint64
	}{
		{"virtual_sol_reserves", local.VirtualSolReserves, account.VirtualSolReserves},
		{"virtual_token_reserves", local.VirtualTokenReserves, account.VirtualTokenReserves},
		{"real_sol_reserves", local.RealSolReserves, account.RealSolReserves},
		{"real_token_reserves", local.RealTokenReserves, account.RealTokenReserves},
	}
	for _, c := range checks {
		if absDiff(c.local, c.chain) > tolerance {
			return &InconsistencyError{Field: c.field, Local: c.local, Chain: c.chain}
		}
	}
	return nil
}

func absDiff(a, b uint64) uint64 {
	if a > b {
		return a - b
	}
	return b - a
}

func boolToUint64(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}
