// internal/dex/types.go

// Package dex routes swaps between the bonding curve and external venues.
// Both sides of the graduation boundary share one request shape, so callers
// never branch on where a token trades.
package dex

import (
	"context"

	"github.com/ursuslabs/agent-launchpad/internal/curve"
)

// Venue executes swaps for tokens routed to it.
type Venue interface {
	Name() string
	Swap(ctx context.Context, req SwapRequest) (*SwapResult, error)
}

// SwapRequest is one swap in either direction. MinOut of zero disables the
// output floor.
type SwapRequest struct {
	TokenID  string
	Side     curve.Side
	AmountIn uint64
	MinOut   uint64
}

// SwapResult reports the executed swap. External venues fill what they know;
// PriceAfter is zero when the venue does not track it.
type SwapResult struct {
	Venue      string
	TradeID    string
	TokenID    string
	Side       curve.Side
	AmountIn   uint64
	AmountOut  uint64
	FeeTotal   uint64
	PriceAfter uint64
}
