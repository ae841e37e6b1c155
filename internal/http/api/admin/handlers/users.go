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

// UserHandler serves the moderation endpoints for panel users.
type UserHandler struct {
	db *gorm.DB
}

// NewUserHandler constructs a UserHandler.
func NewUserHandler(db *gorm.DB) *UserHandler {
	return &UserHandler{db: db}
}

// canModerate reports whether the actor may act on the target. Plain users
// are fair game for admins and owners; admins are only touchable by owners;
// owners are untouchable.
func canModerate(actor, target *models.User) bool {
	switch target.Role {
	case models.RoleUser:
		return true
	case models.RoleAdmin:
		return actor.Role == models.RoleOwner
	default:
		return false
	}
}

// List returns users with optional filters.
func (h *UserHandler) List(c *gin.Context) {
	var (
		usernameQ = strings.TrimSpace(c.Query("username"))
		idQ       = strings.TrimSpace(c.Query("id"))
		searchQ   = strings.TrimSpace(c.Query("search"))
	)

	q := h.db.WithContext(c.Request.Context()).Model(&models.User{})
	if usernameQ != "" {
		pattern := dbutil.NormalizeLikePattern(h.db, "%"+usernameQ+"%")
		q = q.Where(dbutil.CaseInsensitiveLikeExpr(h.db, "username"), pattern)
	}
	if idQ != "" {
		if id, errParse := strconv.ParseUint(idQ, 10, 64); errParse == nil {
			q = q.Where("id = ?", id)
		}
	}
	if searchQ != "" {
		ciPattern := dbutil.NormalizeLikePattern(h.db, "%"+searchQ+"%")
		q = q.Where(
			dbutil.CaseInsensitiveLikeExpr(h.db, "username")+" OR "+
				dbutil.CaseInsensitiveLikeExpr(h.db, "email")+" OR uid LIKE ?",
			ciPattern,
			ciPattern,
			"%"+searchQ+"%",
		)
	}

	var rows []models.User
	if errFind := q.Order("created_at DESC").Find(&rows).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list users failed"})
		return
	}
	out := make([]gin.H, 0, len(rows))
	for _, row := range rows {
		out = append(out, gin.H{
			"id":            row.ID,
			"uid":           row.UID,
			"username":      row.Username,
			"email":         row.Email,
			"role":          row.Role,
			"balance":       row.Balance,
			"is_timed_out":  row.IsTimedOut,
			"timeout_until": row.TimeoutUntil,
			"created_at":    row.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"users": out})
}

// loadTarget parses the id param and loads the target user, writing the
// error response itself on failure.
func (h *UserHandler) loadTarget(c *gin.Context) (*models.User, bool) {
	id, errParse := strconv.ParseUint(strings.TrimSpace(c.Param("id")), 10, 64)
	if errParse != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return nil, false
	}
	var target models.User
	if errFind := h.db.WithContext(c.Request.Context()).First(&target, id).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return nil, false
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query user failed"})
		return nil, false
	}
	return &target, true
}

// renameUserRequest defines the request body for renaming a user.
type renameUserRequest struct {
	Username string `json:"username"`
}

// Rename changes a user's username.
func (h *UserHandler) Rename(c *gin.Context) {
	actor := getActor(c)
	if actor == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	target, ok := h.loadTarget(c)
	if !ok {
		return
	}
	if !canModerate(actor, target) {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}

	var body renameUserRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	username := strings.TrimSpace(body.Username)
	if len(username) < 3 || len(username) > 32 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username must be 3-32 characters"})
		return
	}

	if errUpdate := h.db.WithContext(c.Request.Context()).Model(&models.User{}).
		Where("id = ?", target.ID).
		Updates(map[string]any{
			"username":   username,
			"updated_at": time.Now().UTC(),
		}).Error; errUpdate != nil {
		if dbutil.IsUniqueViolation(errUpdate) {
			c.JSON(http.StatusConflict, gin.H{"error": "username already taken"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "rename failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Delete removes a user and everything hanging off the account.
func (h *UserHandler) Delete(c *gin.Context) {
	actor := getActor(c)
	if actor == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	target, ok := h.loadTarget(c)
	if !ok {
		return
	}
	if !canModerate(actor, target) || target.ID == actor.ID {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}

	errTx := h.db.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		var keyIDs []uint64
		if errKeys := tx.Model(&models.LicenseKey{}).
			Where("user_id = ?", target.ID).
			Pluck("id", &keyIDs).Error; errKeys != nil {
			return errKeys
		}
		if len(keyIDs) > 0 {
			if errDevices := tx.Where("license_key_id IN ?", keyIDs).
				Delete(&models.Device{}).Error; errDevices != nil {
				return errDevices
			}
			if errLicenseKeys := tx.Where("user_id = ?", target.ID).
				Delete(&models.LicenseKey{}).Error; errLicenseKeys != nil {
				return errLicenseKeys
			}
		}
		if errTransactions := tx.Where("user_id = ?", target.ID).
			Delete(&models.BalanceTransaction{}).Error; errTransactions != nil {
			return errTransactions
		}
		if errRedemptions := tx.Where("user_id = ?", target.ID).
			Delete(&models.CodeRedemption{}).Error; errRedemptions != nil {
			return errRedemptions
		}
		return tx.Delete(&models.User{}, target.ID).Error
	})
	if errTx != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete user failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// timeoutRequest defines the request body for applying a timeout.
type timeoutRequest struct {
	Hours int `json:"hours"`
}

// Timeout blocks a user from spending actions for a number of hours.
func (h *UserHandler) Timeout(c *gin.Context) {
	actor := getActor(c)
	if actor == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	target, ok := h.loadTarget(c)
	if !ok {
		return
	}
	if !canModerate(actor, target) || target.ID == actor.ID {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}

	var body timeoutRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if body.Hours <= 0 || body.Hours > 24*30 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "hours must be between 1 and 720"})
		return
	}

	until := time.Now().UTC().Add(time.Duration(body.Hours) * time.Hour)
	if errUpdate := h.db.WithContext(c.Request.Context()).Model(&models.User{}).
		Where("id = ?", target.ID).
		Updates(map[string]any{
			"is_timed_out":       true,
			"timeout_until":      until,
			"timeout_by_user_id": actor.ID,
			"updated_at":         time.Now().UTC(),
		}).Error; errUpdate != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "timeout failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"timeout_until": until})
}

// ClearTimeout lifts an active timeout.
func (h *UserHandler) ClearTimeout(c *gin.Context) {
	actor := getActor(c)
	if actor == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	target, ok := h.loadTarget(c)
	if !ok {
		return
	}
	if !canModerate(actor, target) {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}

	if errUpdate := h.db.WithContext(c.Request.Context()).Model(&models.User{}).
		Where("id = ?", target.ID).
		Updates(map[string]any{
			"is_timed_out":       false,
			"timeout_until":      nil,
			"timeout_by_user_id": nil,
			"updated_at":         time.Now().UTC(),
		}).Error; errUpdate != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "clear timeout failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
