package models

import (
	"time"

	"gorm.io/datatypes"
)

// Device is a seat consumed against a license key's device limit.
type Device struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	LicenseKeyID uint64     `gorm:"not null;uniqueIndex:idx_devices_key_device"` // Owning key ID.
	LicenseKey   LicenseKey `gorm:"foreignKey:LicenseKeyID"`                     // Owning key record.

	DeviceID   string         `gorm:"type:text;not null;uniqueIndex:idx_devices_key_device"` // Caller-supplied device identifier.
	DeviceInfo datatypes.JSON // Free-form device metadata.

	LastUsedAt time.Time `gorm:"not null"` // Last successful validation time.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // First registration time.
}
