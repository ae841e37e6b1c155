package models

import "time"

// TransactionKind classifies a balance transaction.
type TransactionKind string

// TransactionKind constants define the ledger entry kinds.
const (
	// TransactionKeyGeneration records a key mint debit.
	TransactionKeyGeneration TransactionKind = "key_generation"
	// TransactionKeyUpgrade records a key upgrade debit.
	TransactionKeyUpgrade TransactionKind = "key_upgrade"
	// TransactionRegistrationBonus records the signup credit.
	TransactionRegistrationBonus TransactionKind = "registration_bonus"
	// TransactionDiscordLinkBonus records the Discord link credit.
	TransactionDiscordLinkBonus TransactionKind = "discord_link_bonus"
	// TransactionReferralBonus records a referral credit.
	TransactionReferralBonus TransactionKind = "referral_bonus"
	// TransactionAdminGift records an owner gift credit.
	TransactionAdminGift TransactionKind = "admin_gift"
	// TransactionPromoCode records a promo redemption credit.
	TransactionPromoCode TransactionKind = "promo_code"
	// TransactionAFKReward records an AFK claim credit.
	TransactionAFKReward TransactionKind = "afk_reward"
)

// BalanceTransaction is an append-only audit record of one balance change.
// The sum of all rows for a user reconciles with the user's current balance.
type BalanceTransaction struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	UserID uint64 `gorm:"not null;index:idx_balance_transactions_user_created"` // Affected user ID.
	User   User   `gorm:"foreignKey:UserID"`                                    // Affected user record.

	Amount int64           `gorm:"not null"`           // Signed delta, positive = credit.
	Kind   TransactionKind `gorm:"type:text;not null"` // Transaction classification.
	Note   string          `gorm:"type:text"`          // Human-readable summary.

	ActorUserID *uint64 // Who caused the change, for gifts.

	CreatedAt time.Time `gorm:"not null;autoCreateTime;index:idx_balance_transactions_user_created"` // Creation timestamp.
}
