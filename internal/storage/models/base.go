// internal/storage/models/base.go
package models

import "time"

// BaseModel is the shared row header. DeletedAt is a plain nullable column,
// not gorm.DeletedAt, so queries see every row unless they filter explicitly.
type BaseModel struct {
	ID        uint       `gorm:"primarykey"`
	CreatedAt time.Time  `gorm:"default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time  `gorm:"default:CURRENT_TIMESTAMP"`
	DeletedAt *time.Time `gorm:"index"`
}
