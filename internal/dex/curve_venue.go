// internal/dex/curve_venue.go
package dex

import (
	"context"

	"github.com/ursuslabs/agent-launchpad/internal/engine"
)

// CurveVenueName identifies the bonding-curve venue in the registry and in
// swap results.
const CurveVenueName = "bonding-curve"

// CurveVenue adapts the trade executor to the venue interface.
type CurveVenue struct {
	executor *engine.TradeExecutor
}

func NewCurveVenue(executor *engine.TradeExecutor) *CurveVenue {
	return &CurveVenue{executor: executor}
}

func (v *CurveVenue) Name() string { return CurveVenueName }

func (v *CurveVenue) Swap(ctx context.Context, req SwapRequest) (*SwapResult, error) {
	result, err := v.executor.ExecuteTrade(ctx, engine.TradeRequest{
		TokenID:  req.TokenID,
		Side:     req.Side,
		AmountIn: req.AmountIn,
		MinOut:   req.MinOut,
	})
	if err != nil {
		return nil, err
	}
	return &SwapResult{
		Venue:      v.Name(),
		TradeID:    result.TradeID,
		TokenID:    result.TokenID,
		Side:       result.Side,
		AmountIn:   result.AmountIn,
		AmountOut:  result.AmountOut,
		FeeTotal:   result.Fees.Total,
		PriceAfter: result.PriceAfter,
	}, nil
}
