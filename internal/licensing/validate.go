package licensing

import (
	"context"
	"errors"
	"fmt"
	"time"

	dbutil "github.com/keyforge-panel/keyforge/internal/db"
	"github.com/keyforge-panel/keyforge/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ValidationResult is the outcome of a successful device validation.
type ValidationResult struct {
	Key       *models.LicenseKey // The validated key with current seat usage.
	Device    *models.Device     // The device row touched by the call.
	NewDevice bool               // True when the call consumed a seat.
}

// ValidateDevice checks a license key on behalf of a device. A device already
// registered on the key refreshes its last-used timestamp without consuming a
// seat; a new device claims a seat through a conditional increment so
// concurrent first contacts cannot oversubscribe the key. A lapsed key is
// flipped to expired before the call fails.
func (s *Service) ValidateDevice(ctx context.Context, keyString, deviceID string, deviceInfo datatypes.JSON) (*ValidationResult, error) {
	if keyString == "" || deviceID == "" {
		return nil, fmt.Errorf("%w: key and device id are required", ErrInvalidInput)
	}

	var key models.LicenseKey
	if errFind := s.db.WithContext(ctx).
		Where("license_key = ?", keyString).
		First(&key).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidKey
		}
		return nil, fmt.Errorf("licensing: query key: %w", errFind)
	}

	now := time.Now().UTC()
	if errExpire := s.expireIfLapsed(ctx, &key, now); errExpire != nil {
		return nil, errExpire
	}
	if key.Status != models.KeyStatusActive {
		if key.Status == models.KeyStatusExpired {
			return nil, ErrKeyExpired
		}
		return nil, &NotActiveError{Status: key.Status}
	}

	result := &ValidationResult{}
	for attempt := 0; ; attempt++ {
		result = &ValidationResult{}
		errTx := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var device models.Device
			errDevice := tx.Where("license_key_id = ? AND device_id = ?", key.ID, deviceID).
				First(&device).Error
			if errDevice == nil {
				updates := map[string]any{
					"last_used_at": now,
					"updated_at":   now,
				}
				if len(deviceInfo) > 0 {
					updates["device_info"] = deviceInfo
				}
				if errTouch := tx.Model(&models.Device{}).
					Where("id = ?", device.ID).
					Updates(updates).Error; errTouch != nil {
					return fmt.Errorf("licensing: touch device: %w", errTouch)
				}
				device.LastUsedAt = now
				result.Device = &device
				return nil
			}
			if !errors.Is(errDevice, gorm.ErrRecordNotFound) {
				return fmt.Errorf("licensing: query device: %w", errDevice)
			}

			// Seat claim. The guard on devices_used makes concurrent first
			// contacts race on the same row update instead of both inserting.
			res := tx.Model(&models.LicenseKey{}).
				Where("id = ? AND devices_used < max_devices", key.ID).
				Updates(map[string]any{
					"devices_used": gorm.Expr("devices_used + 1"),
					"updated_at":   now,
				})
			if res.Error != nil {
				return fmt.Errorf("licensing: claim seat: %w", res.Error)
			}
			if res.RowsAffected == 0 {
				return &SeatLimitError{MaxDevices: key.MaxDevices}
			}

			newDevice := models.Device{
				LicenseKeyID: key.ID,
				DeviceID:     deviceID,
				DeviceInfo:   deviceInfo,
				LastUsedAt:   now,
			}
			if errCreate := tx.Create(&newDevice).Error; errCreate != nil {
				return fmt.Errorf("licensing: register device: %w", errCreate)
			}
			result.Device = &newDevice
			result.NewDevice = true
			return nil
		})
		if errTx == nil {
			break
		}
		// A losing concurrent first contact hits the device unique index;
		// its seat increment rolled back with the insert, so one retry finds
		// the winner's row and takes the refresh path.
		if attempt == 0 && dbutil.IsUniqueViolation(errTx) {
			continue
		}
		return nil, errTx
	}

	if errReload := s.db.WithContext(ctx).First(&key, key.ID).Error; errReload != nil {
		return nil, fmt.Errorf("licensing: reload key: %w", errReload)
	}
	result.Key = &key
	return result, nil
}

// CheckKey looks a key up without registering a device or writing anything.
// A lapsed expiry is reported as expired but the stored status is untouched.
func (s *Service) CheckKey(ctx context.Context, keyString string) (*models.LicenseKey, error) {
	if keyString == "" {
		return nil, fmt.Errorf("%w: key is required", ErrInvalidInput)
	}
	var key models.LicenseKey
	if errFind := s.db.WithContext(ctx).
		Where("license_key = ?", keyString).
		First(&key).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidKey
		}
		return nil, fmt.Errorf("licensing: query key: %w", errFind)
	}
	if key.Status == models.KeyStatusActive && !key.IsLifetime &&
		key.ExpiryDate != nil && !key.ExpiryDate.After(time.Now().UTC()) {
		key.Status = models.KeyStatusExpired
	}
	return &key, nil
}
