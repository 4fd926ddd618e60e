package models

import "time"

// BlockageEvent records a deflected request.
type BlockageEvent struct {
	ID string `gorm:"type:varchar(36);primaryKey"` // UUID.

	Client  string `gorm:"type:text;not null;index"`  // Client key, usually the IP.
	Hazard  string `gorm:"type:text;index"`           // Responsible hazard, empty for method checks.
	Type    string `gorm:"type:varchar(32);not null"` // Deflect type.
	Verdict string `gorm:"type:varchar(16);not null"` // throttled, blocked or rejected.
	Status  int    `gorm:"not null"`                  // HTTP status sent.
	Method  string `gorm:"type:varchar(16)"`          // Request method.
	Path    string `gorm:"type:text"`                 // Request path.

	OccurredAt time.Time `gorm:"not null;index"` // Evaluation time.
}
