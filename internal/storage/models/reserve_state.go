// internal/storage/models/reserve_state.go
package models

// ReserveState is the persisted bonding-curve state for one token. All
// amounts are raw base units (lamports / 9-decimal token units).
type ReserveState struct {
	BaseModel
	Mint                 string `gorm:"uniqueIndex;not null;type:varchar(44)"`
	AgentID              uint64 `gorm:"index;not null"`
	Creator              string `gorm:"index;not null;type:varchar(44)"`
	VirtualSolReserves   uint64 `gorm:"not null"`
	VirtualTokenReserves uint64 `gorm:"not null"`
	RealSolReserves      uint64 `gorm:"not null;default:0"`
	RealTokenReserves    uint64 `gorm:"not null"`
	BondingCurveSupply   uint64 `gorm:"not null"`
	TotalSupply          uint64 `gorm:"not null"`
	GraduationThreshold  uint64 `gorm:"not null"`
	Graduated            bool   `gorm:"not null;default:false;index"`

	// Inconsistent marks a divergence from the authoritative chain account;
	// trades and quotes are refused until the state is resynced.
	Inconsistent bool `gorm:"not null;default:false"`
}
