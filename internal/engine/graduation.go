// internal/engine/graduation.go
package engine

import "github.com/ursuslabs/agent-launchpad/internal/curve"

// GraduationDetector owns the single graduation rule. It runs only inside the
// trade executor's critical section, immediately after a trade updates the
// deposited reserves; every other reader consumes the stored flag.
type GraduationDetector struct{}

// Evaluate applies the monotonic rule
//
//	graduated = graduated || realSolReserves >= graduationThreshold
//
// and reports whether this evaluation caused the flip, so the caller can emit
// the graduation event exactly once.
func (GraduationDetector) Evaluate(state *curve.ReserveState) bool {
	if state.Graduated {
		return false
	}
	if state.RealSolReserves >= state.GraduationThreshold {
		state.Graduated = true
		return true
	}
	return false
}
