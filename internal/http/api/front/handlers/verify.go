package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/keyforge-panel/keyforge/internal/licensing"
	"github.com/keyforge-panel/keyforge/internal/models"
	"github.com/keyforge-panel/keyforge/internal/ratelimit"
	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// VerifyHandler serves the public license verification endpoints used by
// external clients. No authentication; requests are rate limited per key.
type VerifyHandler struct {
	db      *gorm.DB
	svc     *licensing.Service
	limiter *ratelimit.Manager
}

// NewVerifyHandler constructs a VerifyHandler.
func NewVerifyHandler(db *gorm.DB, limiter *ratelimit.Manager) *VerifyHandler {
	return &VerifyHandler{db: db, svc: licensing.NewService(db), limiter: limiter}
}

// verifyRequest defines the request body for device verification.
type verifyRequest struct {
	LicenseKey string         `json:"license_key"`
	DeviceID   string         `json:"device_id"`
	DeviceInfo map[string]any `json:"device_info"`
}

// Verify validates a license key for a device, registering the device on
// first contact.
func (h *VerifyHandler) Verify(c *gin.Context) {
	var body verifyRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"valid": false, "error": "invalid json"})
		return
	}
	keyString := strings.TrimSpace(body.LicenseKey)
	deviceID := strings.TrimSpace(body.DeviceID)
	if keyString == "" || deviceID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"valid": false, "error": "license_key and device_id are required"})
		return
	}

	if !h.allow(c, keyString) {
		return
	}

	var deviceInfo datatypes.JSON
	if len(body.DeviceInfo) > 0 {
		if raw, errMarshal := json.Marshal(body.DeviceInfo); errMarshal == nil {
			deviceInfo = raw
		}
	}

	result, errValidate := h.svc.ValidateDevice(c.Request.Context(), keyString, deviceID, deviceInfo)
	if errValidate != nil {
		writeVerifyError(c, errValidate)
		return
	}

	var owner models.User
	ownerUsername := ""
	if errOwner := h.db.WithContext(c.Request.Context()).
		Select("username").
		First(&owner, result.Key.UserID).Error; errOwner == nil {
		ownerUsername = owner.Username
	}

	c.JSON(http.StatusOK, gin.H{
		"valid":        true,
		"owner":        ownerUsername,
		"is_lifetime":  result.Key.IsLifetime,
		"expiry_date":  result.Key.ExpiryDate,
		"max_devices":  result.Key.MaxDevices,
		"devices_used": result.Key.DevicesUsed,
		"new_device":   result.NewDevice,
	})
}

// Check reports a key's validity without registering a device.
func (h *VerifyHandler) Check(c *gin.Context) {
	keyString := strings.TrimSpace(c.Query("key"))
	if keyString == "" {
		c.JSON(http.StatusBadRequest, gin.H{"valid": false, "error": "key is required"})
		return
	}

	if !h.allow(c, keyString) {
		return
	}

	key, errCheck := h.svc.CheckKey(c.Request.Context(), keyString)
	if errCheck != nil {
		writeVerifyError(c, errCheck)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"valid":        key.Status == models.KeyStatusActive,
		"status":       key.Status,
		"is_lifetime":  key.IsLifetime,
		"expiry_date":  key.ExpiryDate,
		"max_devices":  key.MaxDevices,
		"devices_used": key.DevicesUsed,
	})
}

// allow applies the per-key rate limit, writing the 429 itself when blocked.
func (h *VerifyHandler) allow(c *gin.Context, keyString string) bool {
	if h.limiter == nil {
		return true
	}
	result, errAllow := h.limiter.Allow(c.Request.Context(), ratelimit.KeyForLicense(keyString))
	if errAllow != nil {
		log.WithError(errAllow).Warn("verify: rate limit check failed")
		return true
	}
	if !result.Allowed {
		retryAfter := int(time.Until(result.Reset).Seconds()) + 1
		if retryAfter < 1 {
			retryAfter = 1
		}
		c.Header("Retry-After", strconv.Itoa(retryAfter))
		c.JSON(http.StatusTooManyRequests, gin.H{"valid": false, "error": "rate limit exceeded"})
		return false
	}
	return true
}

// writeVerifyError maps licensing errors to public verification responses.
// Everything expected stays HTTP 200 with valid=false so thin clients only
// parse one shape.
func writeVerifyError(c *gin.Context, err error) {
	var notActiveErr *licensing.NotActiveError
	var seatErr *licensing.SeatLimitError
	switch {
	case errors.Is(err, licensing.ErrInvalidKey):
		c.JSON(http.StatusOK, gin.H{"valid": false, "error": "invalid license key"})
	case errors.Is(err, licensing.ErrKeyExpired):
		c.JSON(http.StatusOK, gin.H{"valid": false, "error": "license key has expired"})
	case errors.As(err, &notActiveErr):
		c.JSON(http.StatusOK, gin.H{"valid": false, "error": "license key is not active"})
	case errors.As(err, &seatErr):
		c.JSON(http.StatusOK, gin.H{
			"valid":       false,
			"error":       "maximum devices reached",
			"max_devices": seatErr.MaxDevices,
		})
	case errors.Is(err, licensing.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"valid": false, "error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"valid": false, "error": "verification failed"})
	}
}
