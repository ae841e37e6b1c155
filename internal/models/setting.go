package models

import (
	"encoding/json"
	"time"
)

// Setting stores a JSON configuration value keyed by name.
type Setting struct {
	Key   string          `gorm:"primaryKey;type:text"` // Setting name.
	Value json.RawMessage `gorm:"type:jsonb"`           // JSON-encoded value.

	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
