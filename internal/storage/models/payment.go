// internal/storage/models/payment.go
package models

// PaymentConfig holds the x402 service-payment settings for one agent token.
type PaymentConfig struct {
	BaseModel
	Mint           string `gorm:"uniqueIndex;not null;type:varchar(44)"`
	Recipient      string `gorm:"not null;type:varchar(44)"`
	Enabled        bool   `gorm:"not null;default:false"`
	MinAmount      uint64 `gorm:"not null;default:0"`
	MaxAmount      uint64 `gorm:"not null;default:0"` // 0 = no cap
	TimeoutSeconds uint64 `gorm:"not null;default:0"`
	TotalReceived  uint64 `gorm:"not null;default:0"`
	TotalCalls     uint64 `gorm:"not null;default:0"`
	Nonce          uint64 `gorm:"not null;default:0"`
}

// PaymentRecord stores one x402 payment and its settlement status.
type PaymentRecord struct {
	BaseModel
	PaymentID string `gorm:"uniqueIndex;not null;type:varchar(36)"`
	Mint      string `gorm:"index;not null;type:varchar(44)"`
	Payer     string `gorm:"index;not null;type:varchar(44)"`
	Amount    uint64 `gorm:"not null"`
	ServiceID string `gorm:"not null;type:varchar(32)"`
	Status    string `gorm:"not null;type:varchar(10)"`
}
