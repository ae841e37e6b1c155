package licensing

import (
	"fmt"
	"math"
	"time"
)

// LifetimeDays is the sentinel duration for keys that never expire.
const LifetimeDays = -1

// lifetimeCost is the flat chip price of a lifetime key duration.
const lifetimeCost = 50

// deviceBlockSize is the seat granularity; seats are sold in blocks.
const deviceBlockSize = 10

// deviceBlockCost is the chip price of one seat block.
const deviceBlockCost = 10

// tierCosts maps each purchasable duration to its chip price.
var tierCosts = map[int]int64{
	1:  1,
	3:  3,
	7:  7,
	14: 14,
	30: 30,
}

// Cost returns the chip price of a key configuration. Days must be a tier
// value or LifetimeDays; maxDevices must be at least 1.
func Cost(days, maxDevices int) (int64, error) {
	if maxDevices < 1 {
		return 0, fmt.Errorf("%w: max devices must be at least 1", ErrInvalidInput)
	}

	var durationCost int64
	if days == LifetimeDays {
		durationCost = lifetimeCost
	} else {
		tierCost, ok := tierCosts[days]
		if !ok {
			return 0, fmt.Errorf("%w: invalid duration: %d days", ErrInvalidInput, days)
		}
		durationCost = tierCost
	}

	blocks := int64(math.Ceil(float64(maxDevices) / float64(deviceBlockSize)))
	return durationCost + blocks*deviceBlockCost, nil
}

// UpgradeCost returns the incremental price of changing a key configuration.
// Downgrades are never refunded; the result is floored at zero.
func UpgradeCost(currentDays, newDays, currentDevices, newDevices int) (int64, error) {
	currentCost, errCurrent := Cost(currentDays, currentDevices)
	if errCurrent != nil {
		return 0, errCurrent
	}
	newCost, errNew := Cost(newDays, newDevices)
	if errNew != nil {
		return 0, errNew
	}
	if newCost <= currentCost {
		return 0, nil
	}
	return newCost - currentCost, nil
}

// ReconstructTier derives a key's effective duration tier from its stored
// expiry. The originally purchased tier is not stored, so the remaining days
// are bucketed up into the nearest tier boundary. Lifetime keys map to
// LifetimeDays.
func ReconstructTier(isLifetime bool, expiryDate *time.Time, now time.Time) int {
	if isLifetime || expiryDate == nil {
		if isLifetime {
			return LifetimeDays
		}
		return 1
	}
	remaining := int(math.Ceil(expiryDate.Sub(now).Hours() / 24))
	switch {
	case remaining <= 1:
		return 1
	case remaining <= 3:
		return 3
	case remaining <= 7:
		return 7
	case remaining <= 14:
		return 14
	default:
		return 30
	}
}

// ExpiryDate returns the absolute expiry for a duration, or nil for lifetime.
func ExpiryDate(days int, now time.Time) *time.Time {
	if days == LifetimeDays {
		return nil
	}
	expiry := now.AddDate(0, 0, days)
	return &expiry
}
