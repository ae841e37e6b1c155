// Package licensing implements the license key lifecycle: pricing, minting,
// upgrades, deletion, and device-seat validation. All chip movements go
// through the ledger so every mint and upgrade leaves an audit row.
package licensing

import (
	"context"
	"errors"
	"fmt"
	"time"

	dbutil "github.com/keyforge-panel/keyforge/internal/db"
	"github.com/keyforge-panel/keyforge/internal/ledger"
	"github.com/keyforge-panel/keyforge/internal/models"
	"gorm.io/gorm"
)

// Service owns license key mutations.
type Service struct {
	db  *gorm.DB
	gen *KeyGenerator
}

// NewService constructs a licensing Service.
func NewService(db *gorm.DB) *Service {
	return &Service{db: db, gen: NewKeyGenerator()}
}

// NewServiceWithGenerator constructs a Service with a caller-supplied key
// generator. Used by tests to force candidate collisions.
func NewServiceWithGenerator(db *gorm.DB, gen *KeyGenerator) *Service {
	return &Service{db: db, gen: gen}
}

// GenerateResult is the outcome of a successful key mint.
type GenerateResult struct {
	Key        *models.LicenseKey // The freshly minted key.
	Cost       int64              // Chips debited.
	NewBalance int64              // Owner balance after the debit.
}

// GenerateKey mints a license key for a user, debiting the cost atomically
// with the insert. A custom key that already exists fails immediately; random
// candidates are retried up to the generator's budget, with a constraint
// violation from a concurrent mint counting as one more losing attempt.
func (s *Service) GenerateKey(ctx context.Context, userID uint64, days, maxDevices int, customKey string) (*GenerateResult, error) {
	cost, errCost := Cost(days, maxDevices)
	if errCost != nil {
		return nil, errCost
	}

	var user models.User
	if errFind := s.db.WithContext(ctx).First(&user, userID).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, ledger.ErrUserNotFound
		}
		return nil, fmt.Errorf("licensing: query user: %w", errFind)
	}

	now := time.Now().UTC()
	if customKey != "" {
		candidate, errCandidate := s.gen.Candidate(user.Username, customKey)
		if errCandidate != nil {
			return nil, errCandidate
		}
		return s.mint(ctx, userID, candidate, days, maxDevices, cost, now)
	}

	for attempt := 0; attempt < s.gen.MaxAttempts; attempt++ {
		candidate, errCandidate := s.gen.Candidate(user.Username, "")
		if errCandidate != nil {
			return nil, errCandidate
		}
		result, errMint := s.mint(ctx, userID, candidate, days, maxDevices, cost, now)
		if errors.Is(errMint, ErrDuplicateKey) {
			continue
		}
		return result, errMint
	}
	return nil, ErrGenerationExhausted
}

// mint runs one debit-and-insert attempt for a resolved key string. A taken
// key string rolls the whole attempt back as ErrDuplicateKey, whether caught
// by the pre-check or by the unique constraint.
func (s *Service) mint(ctx context.Context, userID uint64, keyString string, days, maxDevices int, cost int64, now time.Time) (*GenerateResult, error) {
	result := &GenerateResult{Cost: cost}
	errTx := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		taken, errTaken := keyExists(tx, keyString)
		if errTaken != nil {
			return errTaken
		}
		if taken {
			return ErrDuplicateKey
		}

		newBalance, errDebit := ledger.ApplyDeltaTx(tx, userID, -cost,
			models.TransactionKeyGeneration,
			keyNote(days, maxDevices, keyString), nil)
		if errDebit != nil {
			return errDebit
		}

		key := models.LicenseKey{
			LicenseKey: keyString,
			UserID:     userID,
			IsLifetime: days == LifetimeDays,
			ExpiryDate: ExpiryDate(days, now),
			MaxDevices: maxDevices,
			Status:     models.KeyStatusActive,
		}
		if errCreate := tx.Create(&key).Error; errCreate != nil {
			if dbutil.IsUniqueViolation(errCreate) {
				return ErrDuplicateKey
			}
			return fmt.Errorf("licensing: create key: %w", errCreate)
		}
		result.Key = &key
		result.NewBalance = newBalance
		return nil
	})
	if errTx != nil {
		return nil, errTx
	}
	return result, nil
}

// keyExists reports whether a key string is already in use.
func keyExists(tx *gorm.DB, keyString string) (bool, error) {
	var count int64
	if errCount := tx.Model(&models.LicenseKey{}).
		Where("license_key = ?", keyString).
		Count(&count).Error; errCount != nil {
		return false, fmt.Errorf("licensing: check key uniqueness: %w", errCount)
	}
	return count > 0, nil
}

// UpgradeResult is the outcome of a successful key upgrade.
type UpgradeResult struct {
	Key        *models.LicenseKey // The key after the upgrade.
	Cost       int64              // Chips debited; zero for lateral moves.
	NewBalance int64              // Owner balance after the debit.
}

// UpgradeKey moves a key to a new duration and seat count, charging only the
// price difference. The current tier is reconstructed from the stored expiry,
// so near-expiry keys upgrade from the cheapest matching tier. A zero newDays
// or newMaxDevices keeps the key's current duration or seat cap. An expired
// key cannot be upgraded; if the expiry has lapsed the status is flipped to
// expired before the call fails.
func (s *Service) UpgradeKey(ctx context.Context, userID uint64, keyID uint64, newDays, newMaxDevices int) (*UpgradeResult, error) {
	var key models.LicenseKey
	if errFind := s.db.WithContext(ctx).First(&key, keyID).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, ErrKeyNotFound
		}
		return nil, fmt.Errorf("licensing: query key: %w", errFind)
	}
	if key.UserID != userID {
		return nil, ErrForbidden
	}

	now := time.Now().UTC()
	if errExpire := s.expireIfLapsed(ctx, &key, now); errExpire != nil {
		return nil, errExpire
	}
	if key.Status != models.KeyStatusActive {
		return nil, &NotActiveError{Status: key.Status}
	}

	currentTier := ReconstructTier(key.IsLifetime, key.ExpiryDate, now)
	if newDays == 0 {
		newDays = currentTier
	}
	if newMaxDevices == 0 {
		newMaxDevices = key.MaxDevices
	}
	cost, errCost := UpgradeCost(currentTier, newDays, key.MaxDevices, newMaxDevices)
	if errCost != nil {
		return nil, errCost
	}

	result := &UpgradeResult{Cost: cost}
	errTx := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if cost > 0 {
			newBalance, errDebit := ledger.ApplyDeltaTx(tx, userID, -cost,
				models.TransactionKeyUpgrade,
				upgradeNote(key.LicenseKey, currentTier, key.MaxDevices, newDays, newMaxDevices), nil)
			if errDebit != nil {
				return errDebit
			}
			result.NewBalance = newBalance
		} else {
			var user models.User
			if errFind := tx.Select("balance").First(&user, userID).Error; errFind != nil {
				return fmt.Errorf("licensing: read balance: %w", errFind)
			}
			result.NewBalance = user.Balance
		}

		isLifetime := newDays == LifetimeDays
		res := tx.Model(&models.LicenseKey{}).
			Where("id = ?", key.ID).
			Updates(map[string]any{
				"is_lifetime": isLifetime,
				"expiry_date": ExpiryDate(newDays, now),
				"max_devices": newMaxDevices,
				"updated_at":  now,
			})
		if res.Error != nil {
			return fmt.Errorf("licensing: update key: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrKeyNotFound
		}
		return nil
	})
	if errTx != nil {
		return nil, errTx
	}

	if errReload := s.db.WithContext(ctx).First(&key, key.ID).Error; errReload != nil {
		return nil, fmt.Errorf("licensing: reload key: %w", errReload)
	}
	result.Key = &key
	return result, nil
}

// DeleteKey removes a key and its registered devices. Chips are not refunded.
func (s *Service) DeleteKey(ctx context.Context, userID uint64, keyID uint64) error {
	var key models.LicenseKey
	if errFind := s.db.WithContext(ctx).First(&key, keyID).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return ErrKeyNotFound
		}
		return fmt.Errorf("licensing: query key: %w", errFind)
	}
	if key.UserID != userID {
		return ErrForbidden
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if errDevices := tx.Where("license_key_id = ?", key.ID).
			Delete(&models.Device{}).Error; errDevices != nil {
			return fmt.Errorf("licensing: delete devices: %w", errDevices)
		}
		if errKey := tx.Delete(&models.LicenseKey{}, key.ID).Error; errKey != nil {
			return fmt.Errorf("licensing: delete key: %w", errKey)
		}
		return nil
	})
}

// expireIfLapsed flips an active key past its expiry to expired. The flip is
// committed on its own so it sticks even when the surrounding call fails.
func (s *Service) expireIfLapsed(ctx context.Context, key *models.LicenseKey, now time.Time) error {
	if key.Status != models.KeyStatusActive || key.IsLifetime || key.ExpiryDate == nil {
		return nil
	}
	if key.ExpiryDate.After(now) {
		return nil
	}
	res := s.db.WithContext(ctx).Model(&models.LicenseKey{}).
		Where("id = ? AND status = ?", key.ID, models.KeyStatusActive).
		Updates(map[string]any{
			"status":     models.KeyStatusExpired,
			"updated_at": now,
		})
	if res.Error != nil {
		return fmt.Errorf("licensing: expire key: %w", res.Error)
	}
	key.Status = models.KeyStatusExpired
	return nil
}

// keyNote formats the ledger note attached to mints.
func keyNote(days, maxDevices int, keyString string) string {
	return fmt.Sprintf("%s key • %d device(s) • %s", durationLabel(days), maxDevices, keyString)
}

// upgradeNote formats the ledger note attached to upgrades, recording the
// configuration before and after the change.
func upgradeNote(keyString string, oldDays, oldDevices, newDays, newDevices int) string {
	return fmt.Sprintf("Upgraded key %s: %s/%ddev → %s/%ddev",
		keyString, tierLabel(oldDays), oldDevices, tierLabel(newDays), newDevices)
}

// tierLabel renders a duration tier in compact form for upgrade notes.
func tierLabel(days int) string {
	if days == LifetimeDays {
		return "Lifetime"
	}
	return fmt.Sprintf("%dd", days)
}

// durationLabel renders a duration tier for ledger notes.
func durationLabel(days int) string {
	if days == LifetimeDays {
		return "Lifetime"
	}
	if days == 1 {
		return "1 day"
	}
	return fmt.Sprintf("%d days", days)
}
