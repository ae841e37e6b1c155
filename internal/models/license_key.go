package models

import "time"

// KeyStatus represents the lifecycle state of a license key.
type KeyStatus string

// KeyStatus constants define license key lifecycle states.
const (
	// KeyStatusActive marks a usable key.
	KeyStatusActive KeyStatus = "active"
	// KeyStatusExpired marks a key past its expiry date.
	KeyStatusExpired KeyStatus = "expired"
)

// LicenseKey is a sellable credential with a duration and a device seat cap.
// Lifetime keys carry no expiry date; non-lifetime keys always carry one.
type LicenseKey struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	LicenseKey string `gorm:"type:text;not null;uniqueIndex"` // Globally unique key string.

	UserID uint64 `gorm:"not null;index"`    // Owning user ID.
	User   User   `gorm:"foreignKey:UserID"` // Owning user record.

	IsLifetime bool       `gorm:"not null;default:false"` // Whether the key never expires.
	ExpiryDate *time.Time // Absolute expiry, nil for lifetime keys.

	MaxDevices  int `gorm:"not null;default:1"` // Device seat cap, at least 1.
	DevicesUsed int `gorm:"not null;default:0"` // Seats consumed, never above MaxDevices.

	Status KeyStatus `gorm:"type:text;not null;default:active"` // Current lifecycle state.

	Devices []Device `gorm:"foreignKey:LicenseKeyID"` // Registered devices.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
