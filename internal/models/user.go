package models

import "time"

// Role is the closed set of panel roles.
type Role string

// Role constants define the panel role hierarchy.
const (
	// RoleUser is a regular panel user.
	RoleUser Role = "user"
	// RoleAdmin can moderate regular users.
	RoleAdmin Role = "admin"
	// RoleOwner can manage admins and gift balance.
	RoleOwner Role = "owner"
)

// Valid reports whether the role is one of the known values.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAdmin, RoleOwner:
		return true
	}
	return false
}

// CanManageUsers reports whether the role may moderate regular users.
func (r Role) CanManageUsers() bool {
	return r == RoleAdmin || r == RoleOwner
}

// CanManageAdmins reports whether the role may promote or demote admins.
func (r Role) CanManageAdmins() bool {
	return r == RoleOwner
}

// CanManageOwners reports whether the role may grant or revoke ownership.
func (r Role) CanManageOwners() bool {
	return r == RoleOwner
}

// CanGiftBalance reports whether the role may credit arbitrary balance.
func (r Role) CanGiftBalance() bool {
	return r == RoleOwner
}

// User represents a panel account and its chip balance.
type User struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	UID      string `gorm:"type:text;not null;uniqueIndex"` // Immutable public identifier.
	Username string `gorm:"type:text;not null;uniqueIndex"` // Unique login name.
	Email    string `gorm:"type:text;not null;uniqueIndex"` // Email address.
	Password string `gorm:"type:text;not null"`             // Hashed password.

	Role    Role  `gorm:"type:text;not null;default:user"` // Panel role.
	Balance int64 `gorm:"not null;default:0"`              // Chip balance, never negative.

	IsTimedOut      bool       `gorm:"not null;default:false"` // Whether a moderation timeout is active.
	TimeoutUntil    *time.Time // Timeout expiry, nil when not timed out.
	TimeoutByUserID *uint64    // Moderator who applied the timeout.

	DiscordID           string `gorm:"type:text"`              // Linked Discord account ID.
	DiscordUsername     string `gorm:"type:text"`              // Linked Discord display name.
	DiscordBonusAwarded bool   `gorm:"not null;default:false"` // Whether the link bonus was paid out.

	ReferralCode string  `gorm:"type:text;not null;uniqueIndex"` // Code other users redeem.
	ReferredByID *uint64 `gorm:"index"`                          // Referrer, set at most once.

	TOTPSecret string `gorm:"type:text"` // TOTP secret when MFA is enabled.

	LicenseKeys []LicenseKey `gorm:"foreignKey:UserID"` // Keys owned by the user.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
