package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	dbutil "github.com/keyforge-panel/keyforge/internal/db"
	"github.com/keyforge-panel/keyforge/internal/ledger"
	"github.com/keyforge-panel/keyforge/internal/models"
	internalsettings "github.com/keyforge-panel/keyforge/internal/settings"
	"gorm.io/gorm"
)

// AccountHandler serves profile, reward, referral, and promo endpoints.
type AccountHandler struct {
	db     *gorm.DB
	ledger *ledger.Service
}

// NewAccountHandler constructs an AccountHandler.
func NewAccountHandler(db *gorm.DB) *AccountHandler {
	return &AccountHandler{db: db, ledger: ledger.NewService(db)}
}

// Me returns the authenticated user's profile.
func (h *AccountHandler) Me(c *gin.Context) {
	user := getCurrentUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": formatUser(user)})
}

// RecentActions returns the user's latest ledger entries and keys.
func (h *AccountHandler) RecentActions(c *gin.Context) {
	userID := getUserID(c)
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var transactions []models.BalanceTransaction
	if errFind := h.db.WithContext(c.Request.Context()).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(20).
		Find(&transactions).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list transactions failed"})
		return
	}

	var keys []models.LicenseKey
	if errFind := h.db.WithContext(c.Request.Context()).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(10).
		Find(&keys).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list keys failed"})
		return
	}

	now := time.Now().UTC()
	transactionsOut := make([]gin.H, 0, len(transactions))
	for _, row := range transactions {
		transactionsOut = append(transactionsOut, gin.H{
			"id":         row.ID,
			"amount":     row.Amount,
			"kind":       row.Kind,
			"note":       row.Note,
			"created_at": row.CreatedAt,
		})
	}
	keysOut := make([]gin.H, 0, len(keys))
	for _, row := range keys {
		keysOut = append(keysOut, formatKey(&row, now))
	}
	c.JSON(http.StatusOK, gin.H{
		"transactions": transactionsOut,
		"keys":         keysOut,
	})
}

// afkClaimRequest defines the request body for AFK reward claims.
type afkClaimRequest struct {
	Amount int64 `json:"amount"`
}

// AFKClaim credits an AFK reward, capped by the configured claim cap.
func (h *AccountHandler) AFKClaim(c *gin.Context) {
	user := getCurrentUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	if user.IsTimedOut {
		c.JSON(http.StatusForbidden, gin.H{"error": "account is timed out"})
		return
	}

	var body afkClaimRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if body.Amount <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "amount must be positive"})
		return
	}

	claimCap := internalsettings.DBConfigInt(
		internalsettings.AFKClaimCapKey, internalsettings.DefaultAFKClaimCap)
	amount := body.Amount
	if amount > claimCap {
		amount = claimCap
	}

	newBalance, errApply := h.ledger.ApplyDelta(c.Request.Context(), user.ID, amount,
		models.TransactionAFKReward, "AFK reward claim", nil)
	if errApply != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "claim failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"awarded": amount,
		"balance": newBalance,
	})
}

// Referral returns the user's referral code and referral stats.
func (h *AccountHandler) Referral(c *gin.Context) {
	user := getCurrentUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var referredCount int64
	if errCount := h.db.WithContext(c.Request.Context()).
		Model(&models.User{}).
		Where("referred_by_id = ?", user.ID).
		Count(&referredCount).Error; errCount != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "count referrals failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"referral_code":  user.ReferralCode,
		"referred_count": referredCount,
		"referred":       user.ReferredByID != nil,
	})
}

// useReferralRequest defines the request body for redeeming a referral code.
type useReferralRequest struct {
	Code string `json:"code"`
}

// UseReferral applies a referral code once per account. Both sides credit the
// referral bonus; the referred_by assignment is guarded so a double submit
// cannot pay twice.
func (h *AccountHandler) UseReferral(c *gin.Context) {
	user := getCurrentUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var body useReferralRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	code := strings.ToUpper(strings.TrimSpace(body.Code))
	if code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "code is required"})
		return
	}
	if user.ReferredByID != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "referral code already used"})
		return
	}
	if code == user.ReferralCode {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot use your own referral code"})
		return
	}

	var referrer models.User
	if errFind := h.db.WithContext(c.Request.Context()).
		Where("referral_code = ?", code).
		First(&referrer).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid referral code"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query referrer failed"})
		return
	}

	referralBonus := internalsettings.DBConfigInt(
		internalsettings.ReferralBonusKey, internalsettings.DefaultReferralBonus)

	errAlreadyUsed := errors.New("referral already used")
	errTx := h.db.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.User{}).
			Where("id = ? AND referred_by_id IS NULL", user.ID).
			Update("referred_by_id", referrer.ID)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errAlreadyUsed
		}
		if referralBonus > 0 {
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
		if errors.Is(errTx, errAlreadyUsed) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "referral code already used"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "apply referral failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"awarded": referralBonus})
}

// redeemPromoRequest defines the request body for promo redemption.
type redeemPromoRequest struct {
	Code string `json:"code"`
}

// RedeemPromoCode redeems a promo code once per user. The use counter is
// bumped conditionally so a capped code cannot go over its limit under
// concurrent redemptions.
func (h *AccountHandler) RedeemPromoCode(c *gin.Context) {
	user := getCurrentUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	if user.IsTimedOut {
		c.JSON(http.StatusForbidden, gin.H{"error": "account is timed out"})
		return
	}

	var body redeemPromoRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	code := strings.ToUpper(strings.TrimSpace(body.Code))
	if code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "code is required"})
		return
	}

	var promo models.PromoCode
	if errFind := h.db.WithContext(c.Request.Context()).
		Where("code = ? AND is_active = ?", code, true).
		First(&promo).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "invalid promo code"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query promo code failed"})
		return
	}
	now := time.Now().UTC()
	if promo.ExpiresAt != nil && !promo.ExpiresAt.After(now) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "promo code has expired"})
		return
	}

	errExhausted := errors.New("promo code exhausted")
	var newBalance int64
	errTx := h.db.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		usesQuery := tx.Model(&models.PromoCode{}).Where("id = ?", promo.ID)
		if promo.MaxUses != nil {
			usesQuery = usesQuery.Where("current_uses < ?", *promo.MaxUses)
		}
		res := usesQuery.Updates(map[string]any{
			"current_uses": gorm.Expr("current_uses + 1"),
			"updated_at":   now,
		})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errExhausted
		}

		redemption := models.CodeRedemption{
			UserID:       user.ID,
			PromoCodeID:  promo.ID,
			ChipsAwarded: promo.BonusChips,
			CreatedAt:    now,
		}
		if errCreate := tx.Create(&redemption).Error; errCreate != nil {
			return errCreate
		}

		if promo.BonusChips > 0 {
			balance, errApply := ledger.ApplyDeltaTx(tx, user.ID, promo.BonusChips,
				models.TransactionPromoCode,
				fmt.Sprintf("Promo code %s", promo.Code), nil)
			if errApply != nil {
				return errApply
			}
			newBalance = balance
		}
		return nil
	})
	if errTx != nil {
		if errors.Is(errTx, errExhausted) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "promo code has no uses left"})
			return
		}
		if dbutil.IsUniqueViolation(errTx) {
			c.JSON(http.StatusConflict, gin.H{"error": "promo code already redeemed"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "redeem failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"awarded": promo.BonusChips,
		"balance": newBalance,
	})
}

// linkDiscordRequest defines the request body for linking a Discord account.
type linkDiscordRequest struct {
	DiscordID       string `json:"discord_id"`
	DiscordUsername string `json:"discord_username"`
}

// LinkDiscord stores a Discord identity and pays the one-time link bonus. The
// bonus flag is flipped conditionally so re-linking never pays twice.
func (h *AccountHandler) LinkDiscord(c *gin.Context) {
	user := getCurrentUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var body linkDiscordRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	discordID := strings.TrimSpace(body.DiscordID)
	if discordID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "discord_id is required"})
		return
	}

	linkBonus := internalsettings.DBConfigInt(
		internalsettings.DiscordLinkBonusKey, internalsettings.DefaultDiscordLinkBonus)

	var awarded int64
	errTx := h.db.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		if errUpdate := tx.Model(&models.User{}).
			Where("id = ?", user.ID).
			Updates(map[string]any{
				"discord_id":       discordID,
				"discord_username": strings.TrimSpace(body.DiscordUsername),
				"updated_at":       time.Now().UTC(),
			}).Error; errUpdate != nil {
			return errUpdate
		}

		if linkBonus <= 0 {
			return nil
		}
		res := tx.Model(&models.User{}).
			Where("id = ? AND discord_bonus_awarded = ?", user.ID, false).
			Update("discord_bonus_awarded", true)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		if _, errApply := ledger.ApplyDeltaTx(tx, user.ID, linkBonus,
			models.TransactionDiscordLinkBonus, "Discord link bonus", nil); errApply != nil {
			return errApply
		}
		awarded = linkBonus
		return nil
	})
	if errTx != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "link discord failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"awarded": awarded})
}

// UnlinkDiscord clears the Discord identity. The bonus flag is kept so the
// bonus stays one-time.
func (h *AccountHandler) UnlinkDiscord(c *gin.Context) {
	userID := getUserID(c)
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	if errUpdate := h.db.WithContext(c.Request.Context()).Model(&models.User{}).
		Where("id = ?", userID).
		Updates(map[string]any{
			"discord_id":       "",
			"discord_username": "",
			"updated_at":       time.Now().UTC(),
		}).Error; errUpdate != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "unlink discord failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
