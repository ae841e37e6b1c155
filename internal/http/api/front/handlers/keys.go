package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/keyforge-panel/keyforge/internal/ledger"
	"github.com/keyforge-panel/keyforge/internal/licensing"
	"github.com/keyforge-panel/keyforge/internal/models"
	"gorm.io/gorm"
)

// KeyHandler manages the authenticated user's license keys.
type KeyHandler struct {
	db  *gorm.DB
	svc *licensing.Service
}

// NewKeyHandler constructs a KeyHandler.
func NewKeyHandler(db *gorm.DB) *KeyHandler {
	return &KeyHandler{db: db, svc: licensing.NewService(db)}
}

// List returns the user's keys, newest first.
func (h *KeyHandler) List(c *gin.Context) {
	userID := getUserID(c)
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var rows []models.LicenseKey
	if errFind := h.db.WithContext(c.Request.Context()).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&rows).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list keys failed"})
		return
	}

	now := time.Now().UTC()
	out := make([]gin.H, 0, len(rows))
	for _, row := range rows {
		out = append(out, formatKey(&row, now))
	}
	c.JSON(http.StatusOK, gin.H{"keys": out})
}

// generateKeyRequest defines the request body for key generation.
type generateKeyRequest struct {
	Days       int    `json:"days"`
	MaxDevices int    `json:"max_devices"`
	CustomKey  string `json:"custom_key"`
}

// Generate mints a new license key, charging the user's balance.
func (h *KeyHandler) Generate(c *gin.Context) {
	user := getCurrentUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	if user.IsTimedOut {
		c.JSON(http.StatusForbidden, gin.H{"error": "account is timed out"})
		return
	}

	var body generateKeyRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if body.MaxDevices == 0 {
		body.MaxDevices = 1
	}

	result, errGenerate := h.svc.GenerateKey(c.Request.Context(), user.ID,
		body.Days, body.MaxDevices, strings.TrimSpace(body.CustomKey))
	if errGenerate != nil {
		writeLicensingError(c, errGenerate)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"key":     formatKey(result.Key, time.Now().UTC()),
		"cost":    result.Cost,
		"balance": result.NewBalance,
	})
}

// upgradeKeyRequest defines the request body for key upgrades. Omitted fields
// keep the key's current configuration.
type upgradeKeyRequest struct {
	Days       int `json:"days"`
	MaxDevices int `json:"max_devices"`
}

// Upgrade changes a key's duration and seat count, charging the difference.
func (h *KeyHandler) Upgrade(c *gin.Context) {
	user := getCurrentUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	if user.IsTimedOut {
		c.JSON(http.StatusForbidden, gin.H{"error": "account is timed out"})
		return
	}

	keyID, errParse := strconv.ParseUint(strings.TrimSpace(c.Param("id")), 10, 64)
	if errParse != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	var body upgradeKeyRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	result, errUpgrade := h.svc.UpgradeKey(c.Request.Context(), user.ID, keyID,
		body.Days, body.MaxDevices)
	if errUpgrade != nil {
		writeLicensingError(c, errUpgrade)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"key":     formatKey(result.Key, time.Now().UTC()),
		"cost":    result.Cost,
		"balance": result.NewBalance,
	})
}

// Delete removes a key and its devices. Chips are not refunded.
func (h *KeyHandler) Delete(c *gin.Context) {
	userID := getUserID(c)
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	keyID, errParse := strconv.ParseUint(strings.TrimSpace(c.Param("id")), 10, 64)
	if errParse != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	if errDelete := h.svc.DeleteKey(c.Request.Context(), userID, keyID); errDelete != nil {
		writeLicensingError(c, errDelete)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// formatKey converts a license key model to a response payload. A lapsed
// expiry is reported as expired even before the stored status catches up.
func formatKey(key *models.LicenseKey, now time.Time) gin.H {
	status := key.Status
	if status == models.KeyStatusActive && !key.IsLifetime &&
		key.ExpiryDate != nil && !key.ExpiryDate.After(now) {
		status = models.KeyStatusExpired
	}
	return gin.H{
		"id":           key.ID,
		"license_key":  key.LicenseKey,
		"is_lifetime":  key.IsLifetime,
		"expiry_date":  key.ExpiryDate,
		"max_devices":  key.MaxDevices,
		"devices_used": key.DevicesUsed,
		"status":       status,
		"created_at":   key.CreatedAt,
	}
}

// writeLicensingError maps licensing and ledger errors to HTTP responses.
func writeLicensingError(c *gin.Context, err error) {
	var insufficientErr *ledger.InsufficientBalanceError
	if errors.As(err, &insufficientErr) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":    "insufficient balance",
			"required": insufficientErr.Required,
			"current":  insufficientErr.Current,
			"needed":   insufficientErr.Needed,
		})
		return
	}
	var notActiveErr *licensing.NotActiveError
	if errors.As(err, &notActiveErr) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "license key is not active", "status": notActiveErr.Status})
		return
	}
	switch {
	case errors.Is(err, licensing.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, licensing.ErrKeyNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "key not found"})
	case errors.Is(err, licensing.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	case errors.Is(err, licensing.ErrDuplicateKey):
		c.JSON(http.StatusConflict, gin.H{"error": "license key already exists"})
	case errors.Is(err, licensing.ErrGenerationExhausted):
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate a unique key, try again"})
	case errors.Is(err, licensing.ErrKeyExpired):
		c.JSON(http.StatusBadRequest, gin.H{"error": "license key has expired"})
	case errors.Is(err, ledger.ErrUserNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "operation failed"})
	}
}
