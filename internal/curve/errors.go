// internal/curve/errors.go
package curve

import "errors"

var (
	// ErrInvalidAmount is returned for zero input amounts, buys too small to
	// survive the fee split, and sells exceeding the circulating supply.
	ErrInvalidAmount = errors.New("invalid trade amount")

	// ErrGraduated is returned for any bonding-curve operation against a
	// token that has already graduated to open DEX trading.
	ErrGraduated = errors.New("token already graduated")

	// ErrInsufficientOutput is returned when a quote rounds to zero output or
	// would exceed the remaining curve supply / deposited reserves.
	ErrInsufficientOutput = errors.New("insufficient output")

	// ErrOverflow is returned when curve arithmetic would wrap. It is always
	// fatal to the request; values are never saturated.
	ErrOverflow = errors.New("arithmetic overflow")
)
