// internal/chain/chain.go
package chain

// AgentAccount is the decoded on-chain agent account: token identity plus the
// authoritative bonding-curve figures. The reconciler treats these values as
// ground truth when comparing against locally cached reserve state.
type AgentAccount struct {
	AgentID   uint64
	Mint      string
	Creator   string
	Name      string
	Symbol    string
	CreatedAt int64
	Graduated bool

	VirtualSolReserves   uint64
	VirtualTokenReserves uint64
	RealSolReserves      uint64
	RealTokenReserves    uint64
	GraduationThreshold  uint64
	BondingCurveSupply   uint64
	TotalSupply          uint64
}
