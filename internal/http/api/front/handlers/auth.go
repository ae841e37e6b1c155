package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/keyforge-panel/keyforge/internal/config"
	dbutil "github.com/keyforge-panel/keyforge/internal/db"
	"github.com/keyforge-panel/keyforge/internal/ledger"
	"github.com/keyforge-panel/keyforge/internal/models"
	"github.com/keyforge-panel/keyforge/internal/security"
	internalsettings "github.com/keyforge-panel/keyforge/internal/settings"
	"gorm.io/gorm"
)

// AuthHandler handles registration and login.
type AuthHandler struct {
	db     *gorm.DB
	jwtCfg config.JWTConfig
}

// NewAuthHandler constructs an AuthHandler.
func NewAuthHandler(db *gorm.DB, jwtCfg config.JWTConfig) *AuthHandler {
	return &AuthHandler{db: db, jwtCfg: jwtCfg}
}

// registerRequest defines the request body for registration.
type registerRequest struct {
	Username     string `json:"username"`
	Email        string `json:"email"`
	Password     string `json:"password"`
	ReferralCode string `json:"referral_code"`
}

// Register creates an account, credits the signup bonus, and applies an
// optional referral code. Both referral sides are credited atomically with
// the account creation.
func (h *AuthHandler) Register(c *gin.Context) {
	var body registerRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	username := strings.TrimSpace(body.Username)
	email := strings.TrimSpace(strings.ToLower(body.Email))
	password := strings.TrimSpace(body.Password)
	if username == "" || email == "" || password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username, email and password are required"})
		return
	}
	if len(username) < 3 || len(username) > 32 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username must be 3-32 characters"})
		return
	}
	if len(password) < 8 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "password must be at least 8 characters"})
		return
	}

	var referrer *models.User
	if code := strings.TrimSpace(body.ReferralCode); code != "" {
		var found models.User
		if errFind := h.db.WithContext(c.Request.Context()).
			Where("referral_code = ?", strings.ToUpper(code)).
			First(&found).Error; errFind != nil {
			if errors.Is(errFind, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid referral code"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "query referrer failed"})
			return
		}
		referrer = &found
	}

	hash, errHash := security.HashPassword(password)
	if errHash != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "hash password failed"})
		return
	}

	registrationBonus := internalsettings.DBConfigInt(
		internalsettings.RegistrationBonusKey, internalsettings.DefaultRegistrationBonus)
	referralBonus := internalsettings.DBConfigInt(
		internalsettings.ReferralBonusKey, internalsettings.DefaultReferralBonus)

	uid, errUID := security.GenerateUID()
	if errUID != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "generate uid failed"})
		return
	}
	referralCode, errCode := security.GenerateReferralCode()
	if errCode != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "generate referral code failed"})
		return
	}

	now := time.Now().UTC()
	user := models.User{
		UID:          uid,
		Username:     username,
		Email:        email,
		Password:     hash,
		Role:         models.RoleUser,
		ReferralCode: referralCode,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if referrer != nil {
		user.ReferredByID = &referrer.ID
	}

	errTx := h.db.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		if errCreate := tx.Create(&user).Error; errCreate != nil {
			return errCreate
		}
		if registrationBonus > 0 {
			if _, errBonus := ledger.ApplyDeltaTx(tx, user.ID, registrationBonus,
				models.TransactionRegistrationBonus, "Welcome bonus", nil); errBonus != nil {
				return errBonus
			}
		}
		if referrer != nil && referralBonus > 0 {
			if _, errReferred := ledger.ApplyDeltaTx(tx, user.ID, referralBonus,
				models.TransactionReferralBonus,
				fmt.Sprintf("Referred by %s", referrer.Username), nil); errReferred != nil {
				return errReferred
			}
			if _, errReferrer := ledger.ApplyDeltaTx(tx, referrer.ID, referralBonus,
				models.TransactionReferralBonus,
				fmt.Sprintf("Referred %s", user.Username), nil); errReferrer != nil {
				return errReferrer
			}
		}
		return nil
	})
	if errTx != nil {
		if dbutil.IsUniqueViolation(errTx) {
			c.JSON(http.StatusConflict, gin.H{"error": "username or email already taken"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create user failed"})
		return
	}

	if errReload := h.db.WithContext(c.Request.Context()).First(&user, user.ID).Error; errReload != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query user failed"})
		return
	}

	token, errSign := security.SignUserToken(h.jwtCfg.Secret, user.ID, h.jwtCfg.Expiry)
	if errSign != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sign token failed"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"token": token,
		"user":  formatUser(&user),
	})
}

// loginRequest defines the request body for password login.
type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Code     string `json:"code"`
}

// Login authenticates by username or email and password. Accounts with TOTP
// enabled get a totp_required response and finish on the login/totp route.
func (h *AuthHandler) Login(c *gin.Context) {
	var body loginRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	user, ok := h.authenticate(c, body.Username, body.Password)
	if !ok {
		return
	}
	if user.TOTPSecret != "" {
		c.JSON(http.StatusOK, gin.H{"totp_required": true})
		return
	}
	h.issueToken(c, user)
}

// LoginTOTP finishes a login for TOTP-enabled accounts.
func (h *AuthHandler) LoginTOTP(c *gin.Context) {
	var body loginRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	user, ok := h.authenticate(c, body.Username, body.Password)
	if !ok {
		return
	}
	if user.TOTPSecret == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "totp not enabled"})
		return
	}
	if !security.ValidateTOTP(user.TOTPSecret, strings.TrimSpace(body.Code)) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid totp code"})
		return
	}
	h.issueToken(c, user)
}

// authenticate resolves and verifies the credentials, writing the error
// response itself on failure.
func (h *AuthHandler) authenticate(c *gin.Context, username, password string) (*models.User, bool) {
	username = strings.TrimSpace(username)
	password = strings.TrimSpace(password)
	if username == "" || password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and password are required"})
		return nil, false
	}

	var user models.User
	if errFind := h.db.WithContext(c.Request.Context()).
		Where("username = ? OR email = ?", username, strings.ToLower(username)).
		First(&user).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return nil, false
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query user failed"})
		return nil, false
	}
	if !security.VerifyPassword(user.Password, password) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return nil, false
	}
	return &user, true
}

func (h *AuthHandler) issueToken(c *gin.Context, user *models.User) {
	token, errSign := security.SignUserToken(h.jwtCfg.Secret, user.ID, h.jwtCfg.Expiry)
	if errSign != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sign token failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"token": token,
		"user":  formatUser(user),
	})
}

// formatUser converts a user model to a response payload.
func formatUser(user *models.User) gin.H {
	return gin.H{
		"id":               user.ID,
		"uid":              user.UID,
		"username":         user.Username,
		"email":            user.Email,
		"role":             user.Role,
		"balance":          user.Balance,
		"referral_code":    user.ReferralCode,
		"is_timed_out":     user.IsTimedOut,
		"timeout_until":    user.TimeoutUntil,
		"discord_id":       user.DiscordID,
		"discord_username": user.DiscordUsername,
		"totp_enabled":     user.TOTPSecret != "",
		"created_at":       user.CreatedAt,
	}
}
