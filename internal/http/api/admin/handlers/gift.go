package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/keyforge-panel/keyforge/internal/ledger"
	"github.com/keyforge-panel/keyforge/internal/models"
	"gorm.io/gorm"
)

// GiftHandler serves the owner-only balance gift endpoint.
type GiftHandler struct {
	db     *gorm.DB
	ledger *ledger.Service
}

// NewGiftHandler constructs a GiftHandler.
func NewGiftHandler(db *gorm.DB) *GiftHandler {
	return &GiftHandler{db: db, ledger: ledger.NewService(db)}
}

// giftRequest defines the request body for gifting balance.
type giftRequest struct {
	Username string `json:"username"`
	Amount   int64  `json:"amount"`
	Note     string `json:"note"`
}

// Gift credits chips to a user and records the acting owner on the ledger row.
func (h *GiftHandler) Gift(c *gin.Context) {
	actor := getActor(c)
	if actor == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var body giftRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	username := strings.TrimSpace(body.Username)
	if username == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username is required"})
		return
	}
	if body.Amount <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "amount must be positive"})
		return
	}

	var target models.User
	if errFind := h.db.WithContext(c.Request.Context()).
		Where("username = ?", username).
		First(&target).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query user failed"})
		return
	}

	note := strings.TrimSpace(body.Note)
	if note == "" {
		note = fmt.Sprintf("Gift from %s", actor.Username)
	}

	newBalance, errApply := h.ledger.ApplyDelta(c.Request.Context(), target.ID,
		body.Amount, models.TransactionAdminGift, note, &actor.ID)
	if errApply != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "gift failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"awarded": body.Amount,
		"balance": newBalance,
	})
}
