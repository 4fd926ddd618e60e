package models

import (
	"time"

	"gorm.io/datatypes"
)

// Hazard stores a database-managed hazard definition.
type Hazard struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Name     string `gorm:"type:text;not null;uniqueIndex"` // Unique hazard name.
	Type     string `gorm:"type:varchar(32);not null"`      // whitelist, blacklist, attack or throttle.
	Position int    `gorm:"not null;default:0;index"`       // Evaluation order, ascending.

	Rule datatypes.JSON `gorm:"type:jsonb;not null"` // Declarative rule spec.

	BucketSize     int     `gorm:"not null;default:0"`                    // Bucket capacity in hits.
	BucketLeak     float64 `gorm:"type:decimal(20,6);not null;default:0"` // Leak rate in hits per second.
	TimeoutSeconds float64 `gorm:"type:decimal(20,6);not null;default:0"` // Blockage duration in seconds.

	Enabled     bool   `gorm:"not null;default:true"` // Disabled rows are skipped on load.
	Description string `gorm:"type:text"`             // Free-form note.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
