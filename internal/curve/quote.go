// internal/curve/quote.go
package curve

import (
	"fmt"

	"github.com/holiman/uint256"
)

// DefaultSlippageBps is the slippage tolerance applied when the caller does
// not supply one (0.5%).
const DefaultSlippageBps = 50

// BuyQuote is the result of pricing a buy against a reserve snapshot.
type BuyQuote struct {
	SolIn     uint64
	SolInNet  uint64
	TokensOut uint64
	Fees      FeeBreakdown

	// NewPriceLamports is the spot price after the trade would execute,
	// in lamports per whole token.
	NewPriceLamports uint64
	PriceImpactPct   float64

	// MinimumReceived is TokensOut reduced by the slippage tolerance,
	// rounded down.
	MinimumReceived uint64
	SlippageBps     uint32
}

// SellQuote is the result of pricing a sell against a reserve snapshot.
type SellQuote struct {
	TokensIn    uint64
	SolOutGross uint64
	SolOut      uint64
	Fees        FeeBreakdown

	NewPriceLamports uint64
	PriceImpactPct   float64

	MinimumReceived uint64
	SlippageBps     uint32
}

// Quoter prices trades against reserve snapshots. Both quote methods are pure:
// they never mutate the snapshot, and the virtual-reserve product is conserved
// up to integer rounding, with the rounding always favoring the curve over the
// trader. Fees are charged before the swap on buys and after the swap on
// sells; the asymmetry matches the on-chain program and is part of the
// economic contract.
type Quoter struct {
	fees               FeeCalculator
	defaultSlippageBps uint32
}

// NewQuoter builds a Quoter. A zero defaultSlippageBps falls back to
// DefaultSlippageBps.
func NewQuoter(fees FeeCalculator, defaultSlippageBps uint32) *Quoter {
	if defaultSlippageBps == 0 {
		defaultSlippageBps = DefaultSlippageBps
	}
	return &Quoter{fees: fees, defaultSlippageBps: defaultSlippageBps}
}

// Fees returns the calculator the quoter charges with.
func (q *Quoter) Fees() FeeCalculator { return q.fees }

// QuoteBuy prices a buy of solIn lamports. slippageBps of zero applies the
// quoter default.
func (q *Quoter) QuoteBuy(state *ReserveState, solIn uint64, slippageBps uint32) (*BuyQuote, error) {
	if state.Graduated {
		return nil, fmt.Errorf("buy quote for %s: %w", state.TokenID, ErrGraduated)
	}
	if solIn == 0 {
		return nil, fmt.Errorf("buy quote: zero sol amount: %w", ErrInvalidAmount)
	}

	fees, err := q.fees.Breakdown(solIn)
	if err != nil {
		return nil, err
	}
	if fees.Total >= solIn {
		return nil, fmt.Errorf("buy of %d lamports is below the minimum tradable amount: %w",
			solIn, ErrInvalidAmount)
	}
	solInNet := solIn - fees.Total

	k := new(uint256.Int).Mul(
		uint256.NewInt(state.VirtualSolReserves),
		uint256.NewInt(state.VirtualTokenReserves),
	)

	newVirtualSol, carry := addChecked(state.VirtualSolReserves, solInNet)
	if carry {
		return nil, fmt.Errorf("buy quote: virtual sol reserves: %w", ErrOverflow)
	}

	// Integer division rounds toward zero, which always favors the curve
	// over the trader.
	newVirtualTok := new(uint256.Int).Div(k, uint256.NewInt(newVirtualSol))
	if !newVirtualTok.IsUint64() {
		return nil, fmt.Errorf("buy quote: new virtual token reserves: %w", ErrOverflow)
	}
	tokensOut := state.VirtualTokenReserves - newVirtualTok.Uint64()

	if tokensOut == 0 {
		return nil, fmt.Errorf("buy of %d lamports yields no tokens: %w", solIn, ErrInsufficientOutput)
	}
	if tokensOut > state.RealTokenReserves {
		return nil, fmt.Errorf("buy wants %d tokens but only %d remain on the curve: %w",
			tokensOut, state.RealTokenReserves, ErrInsufficientOutput)
	}

	if slippageBps == 0 {
		slippageBps = q.defaultSlippageBps
	}

	return &BuyQuote{
		SolIn:            solIn,
		SolInNet:         solInNet,
		TokensOut:        tokensOut,
		Fees:             fees,
		NewPriceLamports: spotPriceLamports(newVirtualSol, newVirtualTok.Uint64()),
		PriceImpactPct: priceImpactPct(
			state.VirtualSolReserves, state.VirtualTokenReserves,
			newVirtualSol, newVirtualTok.Uint64(),
		),
		MinimumReceived: applySlippageFloor(tokensOut, slippageBps),
		SlippageBps:     slippageBps,
	}, nil
}

// QuoteSell prices a sell of tokensIn base units. slippageBps of zero applies
// the quoter default.
func (q *Quoter) QuoteSell(state *ReserveState, tokensIn uint64, slippageBps uint32) (*SellQuote, error) {
	if state.Graduated {
		return nil, fmt.Errorf("sell quote for %s: %w", state.TokenID, ErrGraduated)
	}
	if tokensIn == 0 {
		return nil, fmt.Errorf("sell quote: zero token amount: %w", ErrInvalidAmount)
	}
	if tokensIn > state.CirculatingSupply() {
		return nil, fmt.Errorf("sell of %d exceeds circulating supply %d: %w",
			tokensIn, state.CirculatingSupply(), ErrInvalidAmount)
	}

	k := new(uint256.Int).Mul(
		uint256.NewInt(state.VirtualSolReserves),
		uint256.NewInt(state.VirtualTokenReserves),
	)

	newVirtualTok, carry := addChecked(state.VirtualTokenReserves, tokensIn)
	if carry {
		return nil, fmt.Errorf("sell quote: virtual token reserves: %w", ErrOverflow)
	}

	// The retained reserve rounds up, so the gross payout rounds down. A
	// floor here would pay out one lamport more than the buy deposited and
	// overdraw the real reserve on a full exit.
	newVirtualSol := new(uint256.Int).AddUint64(k, newVirtualTok-1)
	newVirtualSol.Div(newVirtualSol, uint256.NewInt(newVirtualTok))
	if !newVirtualSol.IsUint64() {
		return nil, fmt.Errorf("sell quote: new virtual sol reserves: %w", ErrOverflow)
	}
	solOutGross := state.VirtualSolReserves - newVirtualSol.Uint64()

	if solOutGross == 0 {
		return nil, fmt.Errorf("sell of %d tokens yields no sol: %w", tokensIn, ErrInsufficientOutput)
	}
	if solOutGross > state.RealSolReserves {
		return nil, fmt.Errorf("sell payout %d exceeds deposited reserves %d: %w",
			solOutGross, state.RealSolReserves, ErrInsufficientOutput)
	}

	// Fees come out of the gross payout after the swap.
	fees, err := q.fees.Breakdown(solOutGross)
	if err != nil {
		return nil, err
	}
	if fees.Total >= solOutGross {
		return nil, fmt.Errorf("sell payout %d is consumed by fees: %w", solOutGross, ErrInsufficientOutput)
	}
	solOut := solOutGross - fees.Total

	if slippageBps == 0 {
		slippageBps = q.defaultSlippageBps
	}

	return &SellQuote{
		TokensIn:         tokensIn,
		SolOutGross:      solOutGross,
		SolOut:           solOut,
		Fees:             fees,
		NewPriceLamports: spotPriceLamports(newVirtualSol.Uint64(), newVirtualTok),
		PriceImpactPct: priceImpactPct(
			state.VirtualSolReserves, state.VirtualTokenReserves,
			newVirtualSol.Uint64(), newVirtualTok,
		),
		MinimumReceived: applySlippageFloor(solOut, slippageBps),
		SlippageBps:     slippageBps,
	}, nil
}

// spotPriceLamports is the virtual-reserve ratio scaled to lamports per whole
// token.
func spotPriceLamports(virtualSol, virtualTok uint64) uint64 {
	if virtualTok == 0 {
		return 0
	}
	n := new(uint256.Int).Mul(uint256.NewInt(virtualSol), uint256.NewInt(TokenBaseUnits))
	n.Div(n, uint256.NewInt(virtualTok))
	if !n.IsUint64() {
		return 0
	}
	return n.Uint64()
}

// priceImpactPct is the percentage move of the spot price caused by the
// trade. Display metric only; the curve math itself never touches floats.
func priceImpactPct(oldSol, oldTok, newSol, newTok uint64) float64 {
	if oldSol == 0 || oldTok == 0 || newTok == 0 {
		return 0
	}
	oldPrice := float64(oldSol) / float64(oldTok)
	newPrice := float64(newSol) / float64(newTok)
	if oldPrice == 0 {
		return 0
	}
	return (newPrice - oldPrice) / oldPrice * 100
}

// applySlippageFloor reduces output by the slippage tolerance, rounding down.
func applySlippageFloor(output uint64, slippageBps uint32) uint64 {
	if slippageBps >= feeDenominator {
		return 0
	}
	n := new(uint256.Int).Mul(uint256.NewInt(output), uint256.NewInt(uint64(feeDenominator-slippageBps)))
	n.Div(n, uint256.NewInt(feeDenominator))
	return n.Uint64()
}
