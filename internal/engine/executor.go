// internal/engine/executor.go
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ursuslabs/agent-launchpad/internal/curve"
	"github.com/ursuslabs/agent-launchpad/internal/events"
	"github.com/ursuslabs/agent-launchpad/internal/metrics"
	"github.com/ursuslabs/agent-launchpad/internal/storage/models"
)

// TradeRequest describes one trade against a token's bonding curve.
type TradeRequest struct {
	TokenID  string
	Side     curve.Side
	AmountIn uint64

	// MinOut is the caller's output floor, usually taken from an earlier
	// quote's MinimumReceived. Zero disables the floor.
	MinOut      uint64
	SlippageBps uint32
}

// TradeResult reports a committed trade.
type TradeResult struct {
	TradeID    string
	TokenID    string
	Side       curve.Side
	AmountIn   uint64
	AmountOut  uint64
	Fees       curve.FeeBreakdown
	PriceAfter uint64
	NewState   *curve.ReserveState

	// Graduated is true when this trade crossed the graduation threshold.
	Graduated bool
}

// TradeExecutor is the only writer of reserve states. It re-quotes inside the
// per-token critical section, applies the deltas to a working copy, runs the
// graduation detector, commits, and publishes events. Any failure before the
// commit leaves the stored state untouched.
type TradeExecutor struct {
	store    *Store
	quoter   *curve.Quoter
	detector GraduationDetector
	bus      *events.Bus
	metrics  *metrics.Collector
	logger   *zap.Logger
}

func NewTradeExecutor(store *Store, quoter *curve.Quoter, bus *events.Bus, collector *metrics.Collector, logger *zap.Logger) *TradeExecutor {
	return &TradeExecutor{
		store:   store,
		quoter:  quoter,
		bus:     bus,
		metrics: collector,
		logger:  logger.Named("trade_executor"),
	}
}

// ExecuteTrade runs one trade end to end and publishes trade.executed, plus
// token.graduated exactly once when the trade caused the flip.
func (e *TradeExecutor) ExecuteTrade(ctx context.Context, req TradeRequest) (*TradeResult, error) {
	start := time.Now()
	result, err := e.execute(ctx, req)
	e.metrics.RecordTrade(string(req.Side), time.Since(start), err == nil)

	if err != nil {
		e.logger.Debug("Trade rejected",
			zap.String("token_id", req.TokenID),
			zap.String("side", string(req.Side)),
			zap.Uint64("amount_in", req.AmountIn),
			zap.Error(err))
		return nil, err
	}

	e.logger.Info("Trade executed",
		zap.String("token_id", result.TokenID),
		zap.String("trade_id", result.TradeID),
		zap.String("side", string(result.Side)),
		zap.Uint64("amount_in", result.AmountIn),
		zap.Uint64("amount_out", result.AmountOut),
		zap.Uint64("fee_total", result.Fees.Total),
		zap.Bool("graduated", result.Graduated))

	e.publish(&events.TradeExecutedEvent{
		BaseEvent:  events.NewBase(events.TradeExecuted),
		TradeID:    result.TradeID,
		TokenID:    result.TokenID,
		Side:       string(result.Side),
		AmountIn:   result.AmountIn,
		AmountOut:  result.AmountOut,
		FeeTotal:   result.Fees.Total,
		PriceAfter: result.PriceAfter,
		Graduated:  result.Graduated,
	})

	if result.Graduated {
		e.metrics.RecordGraduation()
		e.publish(&events.TokenGraduatedEvent{
			BaseEvent:       events.NewBase(events.TokenGraduated),
			TokenID:         result.TokenID,
			RealSolReserves: result.NewState.RealSolReserves,
			Threshold:       result.NewState.GraduationThreshold,
		})
	}

	return result, nil
}

// execute is the critical section: acquire the lock, reprice, apply, detect
// graduation, commit.
func (e *TradeExecutor) execute(ctx context.Context, req TradeRequest) (*TradeResult, error) {
	if req.AmountIn == 0 {
		return nil, fmt.Errorf("trade amount must be positive: %w", curve.ErrInvalidAmount)
	}
	if req.Side != curve.SideBuy && req.Side != curve.SideSell {
		return nil, fmt.Errorf("unknown trade side %q: %w", req.Side, curve.ErrInvalidAmount)
	}

	waitStart := time.Now()
	release, err := e.store.Acquire(ctx, req.TokenID)
	if err != nil {
		if errors.Is(err, ErrLockTimeout) {
			e.metrics.RecordLockWait(time.Since(waitStart), false)
		}
		return nil, err
	}
	e.metrics.RecordLockWait(time.Since(waitStart), true)
	defer release()

	// Never trust an earlier quote: reprice against the committed state now
	// that the lock is held.
	state, err := e.store.Snapshot(req.TokenID)
	if err != nil {
		return nil, err
	}
	if state.Graduated {
		return nil, fmt.Errorf("token %s: %w", req.TokenID, curve.ErrGraduated)
	}

	var (
		amountOut uint64
		fees      curve.FeeBreakdown
	)

	switch req.Side {
	case curve.SideBuy:
		quote, err := e.quoter.QuoteBuy(state, req.AmountIn, req.SlippageBps)
		if err != nil {
			return nil, err
		}
		if req.MinOut > 0 && quote.TokensOut < req.MinOut {
			return nil, &SlippageError{Expected: quote.TokensOut, Minimum: req.MinOut}
		}
		if err := state.ApplyBuy(quote.SolInNet, quote.TokensOut); err != nil {
			return nil, err
		}
		amountOut = quote.TokensOut
		fees = quote.Fees

	case curve.SideSell:
		quote, err := e.quoter.QuoteSell(state, req.AmountIn, req.SlippageBps)
		if err != nil {
			return nil, err
		}
		if req.MinOut > 0 && quote.SolOut < req.MinOut {
			return nil, &SlippageError{Expected: quote.SolOut, Minimum: req.MinOut}
		}
		if err := state.ApplySell(req.AmountIn, quote.SolOutGross); err != nil {
			return nil, err
		}
		amountOut = quote.SolOut
		fees = quote.Fees
	}

	graduated := e.detector.Evaluate(state)

	tradeID := uuid.New().String()
	trade := &models.Trade{
		TradeID:     tradeID,
		Mint:        req.TokenID,
		Side:        string(req.Side),
		AmountIn:    req.AmountIn,
		AmountOut:   amountOut,
		PlatformFee: fees.Platform,
		CreatorFee:  fees.Creator,
		PriceAfter:  state.PriceLamports(),
		Graduated:   graduated,
	}

	if err := e.store.Commit(ctx, state, trade); err != nil {
		return nil, err
	}

	return &TradeResult{
		TradeID:    tradeID,
		TokenID:    req.TokenID,
		Side:       req.Side,
		AmountIn:   req.AmountIn,
		AmountOut:  amountOut,
		Fees:       fees,
		PriceAfter: state.PriceLamports(),
		NewState:   state,
		Graduated:  graduated,
	}, nil
}

func (e *TradeExecutor) publish(event events.Event) {
	if err := e.bus.Publish(event); err != nil {
		e.logger.Warn("Failed to publish event",
			zap.String("event_type", string(event.Type())),
			zap.Error(err))
		return
	}
	e.metrics.RecordEvent(string(event.Type()))
}
