package models

import (
	"time"

	"gorm.io/datatypes"
)

// Admin represents an operator allowed to use the admin API.
type Admin struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Username string `gorm:"type:text;not null;uniqueIndex"` // Unique login name.
	Password string `gorm:"type:text;not null"`             // Hashed password.

	Active       bool           `gorm:"not null;default:true"`  // Whether the admin can sign in.
	IsSuperAdmin bool           `gorm:"not null;default:false"` // Bypasses permission checks.
	Permissions  datatypes.JSON `gorm:"type:jsonb"`             // Granted permission keys.

	TOTPSecret string `gorm:"type:text"` // TOTP secret for MFA.

	LastLoginAt *time.Time
	CreatedAt   time.Time  `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt   time.Time  `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
