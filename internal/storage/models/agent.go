// internal/storage/models/agent.go
package models

// Agent is the launch metadata for one agent token. Graduation status is not
// duplicated here; the reserve state row owns that flag.
type Agent struct {
	BaseModel
	AgentID      uint64 `gorm:"uniqueIndex;not null"`
	Mint         string `gorm:"uniqueIndex;not null;type:varchar(44)"`
	Creator      string `gorm:"index;not null;type:varchar(44)"`
	Name         string `gorm:"not null;type:varchar(32)"`
	Symbol       string `gorm:"not null;type:varchar(10)"`
	Description  string `gorm:"type:varchar(200)"`
	Instructions string `gorm:"type:varchar(500)"`
	Model        string `gorm:"type:varchar(20)"`
	Category     string `gorm:"index;type:varchar(20)"`
	CreationFee  uint64 `gorm:"not null;default:0"`
}
