// internal/storage/models/trade.go
package models

// Trade is the record of one executed curve trade.
type Trade struct {
	BaseModel
	TradeID     string `gorm:"uniqueIndex;not null;type:varchar(36)"`
	Mint        string `gorm:"index;not null;type:varchar(44)"`
	Side        string `gorm:"not null;type:varchar(4)"`
	AmountIn    uint64 `gorm:"not null"`
	AmountOut   uint64 `gorm:"not null"`
	PlatformFee uint64 `gorm:"not null;default:0"`
	CreatorFee  uint64 `gorm:"not null;default:0"`
	PriceAfter  uint64 `gorm:"not null;default:0"`

	// Graduated is true on the single trade that crossed the threshold.
	Graduated bool `gorm:"not null;default:false"`
}
