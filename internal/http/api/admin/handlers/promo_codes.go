package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	dbutil "github.com/keyforge-panel/keyforge/internal/db"
	"github.com/keyforge-panel/keyforge/internal/models"
	"gorm.io/gorm"
)

// PromoCodeHandler serves the owner-only promo code CRUD endpoints.
type PromoCodeHandler struct {
	db *gorm.DB
}

// NewPromoCodeHandler constructs a PromoCodeHandler.
func NewPromoCodeHandler(db *gorm.DB) *PromoCodeHandler {
	return &PromoCodeHandler{db: db}
}

// List returns all promo codes, newest first.
func (h *PromoCodeHandler) List(c *gin.Context) {
	var rows []models.PromoCode
	if errFind := h.db.WithContext(c.Request.Context()).
		Order("created_at DESC").
		Find(&rows).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list promo codes failed"})
		return
	}
	out := make([]gin.H, 0, len(rows))
	for _, row := range rows {
		out = append(out, formatPromoCode(&row))
	}
	c.JSON(http.StatusOK, gin.H{"promo_codes": out})
}

// createPromoCodeRequest defines the request body for promo code creation.
type createPromoCodeRequest struct {
	Code            string     `json:"code"`
	BonusChips      int64      `json:"bonus_chips"`
	DiscountPercent int        `json:"discount_percent"`
	MaxUses         *int       `json:"max_uses"`
	ExpiresAt       *time.Time `json:"expires_at"`
}

// Create issues a new promo code.
func (h *PromoCodeHandler) Create(c *gin.Context) {
	actor := getActor(c)
	if actor == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var body createPromoCodeRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	code := strings.ToUpper(strings.TrimSpace(body.Code))
	if len(code) < 3 || len(code) > 32 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "code must be 3-32 characters"})
		return
	}
	if body.BonusChips < 0 || body.DiscountPercent < 0 || body.DiscountPercent > 100 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid bonus or discount"})
		return
	}
	if body.MaxUses != nil && *body.MaxUses < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "max_uses must be at least 1"})
		return
	}

	now := time.Now().UTC()
	promo := models.PromoCode{
		Code:            code,
		BonusChips:      body.BonusChips,
		DiscountPercent: body.DiscountPercent,
		MaxUses:         body.MaxUses,
		ExpiresAt:       body.ExpiresAt,
		IsActive:        true,
		CreatedByID:     actor.ID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if errCreate := h.db.WithContext(c.Request.Context()).Create(&promo).Error; errCreate != nil {
		if dbutil.IsUniqueViolation(errCreate) {
			c.JSON(http.StatusConflict, gin.H{"error": "code already exists"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create promo code failed"})
		return
	}
	c.JSON(http.StatusCreated, formatPromoCode(&promo))
}

// updatePromoCodeRequest defines the request body for promo code updates.
type updatePromoCodeRequest struct {
	BonusChips      *int64     `json:"bonus_chips"`
	DiscountPercent *int       `json:"discount_percent"`
	MaxUses         *int       `json:"max_uses"`
	ExpiresAt       *time.Time `json:"expires_at"`
	IsActive        *bool      `json:"is_active"`
}

// Update modifies a promo code.
func (h *PromoCodeHandler) Update(c *gin.Context) {
	id, errParse := strconv.ParseUint(strings.TrimSpace(c.Param("id")), 10, 64)
	if errParse != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	var body updatePromoCodeRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	updates := map[string]any{"updated_at": time.Now().UTC()}
	if body.BonusChips != nil {
		if *body.BonusChips < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid bonus_chips"})
			return
		}
		updates["bonus_chips"] = *body.BonusChips
	}
	if body.DiscountPercent != nil {
		if *body.DiscountPercent < 0 || *body.DiscountPercent > 100 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid discount_percent"})
			return
		}
		updates["discount_percent"] = *body.DiscountPercent
	}
	if body.MaxUses != nil {
		updates["max_uses"] = *body.MaxUses
	}
	if body.ExpiresAt != nil {
		updates["expires_at"] = *body.ExpiresAt
	}
	if body.IsActive != nil {
		updates["is_active"] = *body.IsActive
	}

	res := h.db.WithContext(c.Request.Context()).Model(&models.PromoCode{}).
		Where("id = ?", id).
		Updates(updates)
	if res.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update promo code failed"})
		return
	}
	if res.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "promo code not found"})
		return
	}

	var promo models.PromoCode
	if errFind := h.db.WithContext(c.Request.Context()).First(&promo, id).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query promo code failed"})
		return
	}
	c.JSON(http.StatusOK, formatPromoCode(&promo))
}

// Delete removes a promo code and its redemption records.
func (h *PromoCodeHandler) Delete(c *gin.Context) {
	id, errParse := strconv.ParseUint(strings.TrimSpace(c.Param("id")), 10, 64)
	if errParse != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	errTx := h.db.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		if errRedemptions := tx.Where("promo_code_id = ?", id).
			Delete(&models.CodeRedemption{}).Error; errRedemptions != nil {
			return errRedemptions
		}
		res := tx.Delete(&models.PromoCode{}, id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
	if errTx != nil {
		if errors.Is(errTx, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "promo code not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete promo code failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// formatPromoCode converts a promo code model to a response payload.
func formatPromoCode(promo *models.PromoCode) gin.H {
	return gin.H{
		"id":               promo.ID,
		"code":             promo.Code,
		"bonus_chips":      promo.BonusChips,
		"discount_percent": promo.DiscountPercent,
		"max_uses":         promo.MaxUses,
		"current_uses":     promo.CurrentUses,
		"expires_at":       promo.ExpiresAt,
		"is_active":        promo.IsActive,
		"created_at":       promo.CreatedAt,
	}
}
