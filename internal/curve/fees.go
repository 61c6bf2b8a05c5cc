// internal/curve/fees.go
package curve

import (
	"fmt"

	"github.com/holiman/uint256"
)

const feeDenominator = 10_000

// FeeBreakdown is the platform/creator split charged on a trade amount.
type FeeBreakdown struct {
	Platform uint64
	Creator  uint64
	Total    uint64
}

// FeeCalculator computes the fee split from fixed basis-point rates.
// Collected fees round up; anything paid back to the trader rounds down, so
// rounding never leaks value out of the protocol.
type FeeCalculator struct {
	platformBps uint32
	creatorBps  uint32
}

// NewFeeCalculator builds a calculator from basis-point rates. The combined
// rate must not exceed 100%; Profile.Validate enforces this before states are
// created.
func NewFeeCalculator(platformBps, creatorBps uint32) FeeCalculator {
	return FeeCalculator{platformBps: platformBps, creatorBps: creatorBps}
}

// PlatformBps returns the platform rate in basis points.
func (f FeeCalculator) PlatformBps() uint32 { return f.platformBps }

// CreatorBps returns the creator rate in basis points.
func (f FeeCalculator) CreatorBps() uint32 { return f.creatorBps }

// TotalBps returns the combined rate in basis points.
func (f FeeCalculator) TotalBps() uint32 { return f.platformBps + f.creatorBps }

// Breakdown splits amount into platform and creator fees, each rounded up.
func (f FeeCalculator) Breakdown(amount uint64) (FeeBreakdown, error) {
	platform := feeCeil(amount, f.platformBps)
	creator := feeCeil(amount, f.creatorBps)

	total, carry := addChecked(platform, creator)
	if carry {
		return FeeBreakdown{}, fmt.Errorf("fee total for amount %d: %w", amount, ErrOverflow)
	}

	return FeeBreakdown{Platform: platform, Creator: creator, Total: total}, nil
}

// feeCeil computes ceil(amount * bps / 10000) without intermediate overflow.
func feeCeil(amount uint64, bps uint32) uint64 {
	if amount == 0 || bps == 0 {
		return 0
	}
	n := new(uint256.Int).Mul(uint256.NewInt(amount), uint256.NewInt(uint64(bps)))
	n.Add(n, uint256.NewInt(feeDenominator-1))
	n.Div(n, uint256.NewInt(feeDenominator))
	return n.Uint64()
}

func addChecked(a, b uint64) (uint64, bool) {
	sum := a + b
	return sum, sum < a
}
