// internal/curve/curve.go
package curve

import (
	"fmt"

	"github.com/holiman/uint256"
)

// Side identifies the direction of a trade against the curve.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

const (
	// LamportsPerSol is the number of base units in one SOL.
	LamportsPerSol = 1_000_000_000

	// TokenBaseUnits is the number of base units in one agent token
	// (9 decimals, matching the on-chain mint).
	TokenBaseUnits = 1_000_000_000
)

// ReserveState holds the per-token curve figures. All amounts are raw base
// units (lamports / token base units). Quotes treat a ReserveState as an
// immutable snapshot; only the trade executor mutates one, through ApplyBuy
// and ApplySell, while holding the token's lock.
type ReserveState struct {
	TokenID string
	Creator string

	VirtualSolReserves   uint64
	VirtualTokenReserves uint64

	// RealSolReserves is the SOL actually deposited by trades.
	RealSolReserves uint64

	// RealTokenReserves counts down from BondingCurveSupply as tokens are
	// minted out to traders.
	RealTokenReserves uint64

	BondingCurveSupply  uint64
	TotalSupply         uint64
	GraduationThreshold uint64

	// Graduated is monotonic: once true it never returns to false.
	Graduated bool
}

// NewReserveState creates the launch-time state for a token from a curve
// profile: virtual reserves seeded, the full curve supply still unsold, and
// nothing deposited yet.
func NewReserveState(tokenID, creator string, p Profile) *ReserveState {
	return &ReserveState{
		TokenID:              tokenID,
		Creator:              creator,
		VirtualSolReserves:   p.VirtualSolReserves,
		VirtualTokenReserves: p.VirtualTokenReserves,
		RealSolReserves:      0,
		RealTokenReserves:    p.BondingCurveSupply,
		BondingCurveSupply:   p.BondingCurveSupply,
		TotalSupply:          p.TotalSupply,
		GraduationThreshold:  p.GraduationThreshold,
	}
}

// Clone returns an independent copy of the state.
func (s *ReserveState) Clone() *ReserveState {
	c := *s
	return &c
}

// CirculatingSupply is the number of tokens minted out to traders so far.
func (s *ReserveState) CirculatingSupply() uint64 {
	if s.RealTokenReserves > s.BondingCurveSupply {
		return 0
	}
	return s.BondingCurveSupply - s.RealTokenReserves
}

// PriceLamports is the spot price in lamports per whole token, computed from
// the virtual reserve ratio the same way the on-chain program reports it.
func (s *ReserveState) PriceLamports() uint64 {
	if s.VirtualTokenReserves == 0 {
		return 0
	}
	n := new(uint256.Int).Mul(uint256.NewInt(s.VirtualSolReserves), uint256.NewInt(TokenBaseUnits))
	n.Div(n, uint256.NewInt(s.VirtualTokenReserves))
	if !n.IsUint64() {
		return 0
	}
	return n.Uint64()
}

// MarketCapLamports is spot price times total supply, in lamports.
func (s *ReserveState) MarketCapLamports() uint64 {
	n := new(uint256.Int).Mul(uint256.NewInt(s.PriceLamports()), uint256.NewInt(s.TotalSupply))
	n.Div(n, uint256.NewInt(TokenBaseUnits))
	if !n.IsUint64() {
		return 0
	}
	return n.Uint64()
}

// GraduationProgress reports how far the deposited reserve is toward the
// graduation threshold, as an integer percentage capped at 100.
func (s *ReserveState) GraduationProgress() uint64 {
	if s.GraduationThreshold == 0 {
		return 0
	}
	n := new(uint256.Int).Mul(uint256.NewInt(s.RealSolReserves), uint256.NewInt(100))
	n.Div(n, uint256.NewInt(s.GraduationThreshold))
	if !n.IsUint64() || n.Uint64() > 100 {
		return 100
	}
	return n.Uint64()
}

// ApplyBuy advances the reserves after a buy: the net SOL amount (fees
// already removed) enters both virtual and real SOL reserves, and the minted
// tokens leave both token reserves. Callers must only pass values produced by
// a quote against this same state.
func (s *ReserveState) ApplyBuy(netSolIn, tokensOut uint64) error {
	newVirtualSol, carry := addChecked(s.VirtualSolReserves, netSolIn)
	if carry {
		return fmt.Errorf("virtual sol reserves: %w", ErrOverflow)
	}
	newRealSol, carry := addChecked(s.RealSolReserves, netSolIn)
	if carry {
		return fmt.Errorf("real sol reserves: %w", ErrOverflow)
	}
	if tokensOut > s.VirtualTokenReserves {
		return fmt.Errorf("virtual token reserves underflow: %w", ErrOverflow)
	}
	if tokensOut > s.RealTokenReserves {
		return fmt.Errorf("buy of %d exceeds remaining supply %d: %w",
			tokensOut, s.RealTokenReserves, ErrInsufficientOutput)
	}

	s.VirtualSolReserves = newVirtualSol
	s.VirtualTokenReserves -= tokensOut
	s.RealSolReserves = newRealSol
	s.RealTokenReserves -= tokensOut
	return nil
}

// ApplySell advances the reserves after a sell: returned tokens re-enter both
// token reserves and the gross SOL payout (fees come out of it afterwards)
// leaves both SOL reserves.
func (s *ReserveState) ApplySell(tokensIn, grossSolOut uint64) error {
	newVirtualTok, carry := addChecked(s.VirtualTokenReserves, tokensIn)
	if carry {
		return fmt.Errorf("virtual token reserves: %w", ErrOverflow)
	}
	newRealTok, carry := addChecked(s.RealTokenReserves, tokensIn)
	if carry {
		return fmt.Errorf("real token reserves: %w", ErrOverflow)
	}
	if grossSolOut > s.VirtualSolReserves {
		return fmt.Errorf("virtual sol reserves underflow: %w", ErrOverflow)
	}
	if grossSolOut > s.RealSolReserves {
		return fmt.Errorf("sell payout %d exceeds deposited reserves %d: %w",
			grossSolOut, s.RealSolReserves, ErrInsufficientOutput)
	}

	s.VirtualTokenReserves = newVirtualTok
	s.VirtualSolReserves -= grossSolOut
	s.RealTokenReserves = newRealTok
	s.RealSolReserves -= grossSolOut
	return nil
}
