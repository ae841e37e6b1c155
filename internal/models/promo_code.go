package models

import "time"

// PromoCode is an owner-issued code that credits chips on redemption.
type PromoCode struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Code string `gorm:"type:text;not null;uniqueIndex"` // Uppercase redemption code.

	BonusChips      int64 `gorm:"not null;default:0"` // Chips credited per redemption.
	DiscountPercent int   `gorm:"not null;default:0"` // Advertised discount, informational.

	MaxUses     *int `` // Redemption cap, nil for unlimited.
	CurrentUses int  `gorm:"not null;default:0"` // Redemptions so far.

	ExpiresAt *time.Time // Expiry, nil for no expiry.
	IsActive  bool       `gorm:"not null;default:true"` // Whether the code can be redeemed.

	CreatedByID uint64 `gorm:"not null"` // Owner who issued the code.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// CodeRedemption records a single user's redemption of a promo code.
type CodeRedemption struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	UserID      uint64    `gorm:"not null;uniqueIndex:idx_code_redemptions_user_code"` // Redeeming user ID.
	PromoCodeID uint64    `gorm:"not null;uniqueIndex:idx_code_redemptions_user_code"` // Redeemed code ID.
	PromoCode   PromoCode `gorm:"foreignKey:PromoCodeID"`                              // Redeemed code record.

	ChipsAwarded int64 `gorm:"not null;default:0"` // Chips credited by this redemption.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Redemption time.
}
