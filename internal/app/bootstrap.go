package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/keyforge-panel/keyforge/internal/models"
	"github.com/keyforge-panel/keyforge/internal/security"
	"gorm.io/gorm"
)

// HasOwnerInitialized reports whether an owner account exists.
func HasOwnerInitialized(conn *gorm.DB) (bool, error) {
	if conn == nil {
		return false, fmt.Errorf("app: nil connection")
	}
	var count int64
	if errCount := conn.Model(&models.User{}).
		Where("role = ?", models.RoleOwner).
		Count(&count).Error; errCount != nil {
		return false, fmt.Errorf("app: count owners: %w", errCount)
	}
	return count > 0, nil
}

// EnsureOwner creates the owner account if none exists. An existing account
// with the same username is promoted instead of duplicated.
func EnsureOwner(conn *gorm.DB, username, email, password string) error {
	if conn == nil {
		return fmt.Errorf("app: nil connection")
	}
	username = strings.TrimSpace(username)
	password = strings.TrimSpace(password)
	if username == "" || password == "" {
		return fmt.Errorf("app: owner username and password are required")
	}

	initialized, errInit := HasOwnerInitialized(conn)
	if errInit != nil {
		return errInit
	}
	if initialized {
		return nil
	}

	var existing models.User
	errFind := conn.Where("username = ?", username).First(&existing).Error
	if errFind == nil {
		return conn.Model(&models.User{}).
			Where("id = ?", existing.ID).
			Updates(map[string]any{
				"role":       models.RoleOwner,
				"updated_at": time.Now().UTC(),
			}).Error
	}
	if !errors.Is(errFind, gorm.ErrRecordNotFound) {
		return fmt.Errorf("app: query owner candidate: %w", errFind)
	}

	hashedPassword, errHash := security.HashPassword(password)
	if errHash != nil {
		return fmt.Errorf("app: hash owner password: %w", errHash)
	}

	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" {
		email = username + "@localhost"
	}

	uid, errUID := security.GenerateUID()
	if errUID != nil {
		return fmt.Errorf("app: generate owner uid: %w", errUID)
	}
	referralCode, errCode := security.GenerateReferralCode()
	if errCode != nil {
		return fmt.Errorf("app: generate owner referral code: %w", errCode)
	}

	now := time.Now().UTC()
	owner := models.User{
		UID:          uid,
		Username:     username,
		Email:        email,
		Password:     hashedPassword,
		Role:         models.RoleOwner,
		ReferralCode: referralCode,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if errCreate := conn.Create(&owner).Error; errCreate != nil {
		return fmt.Errorf("app: create owner: %w", errCreate)
	}
	return nil
}
