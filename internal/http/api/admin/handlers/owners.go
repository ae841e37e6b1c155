package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/keyforge-panel/keyforge/internal/models"
	"gorm.io/gorm"
)

// OwnerHandler serves the ownership management endpoints.
type OwnerHandler struct {
	db *gorm.DB
}

// NewOwnerHandler constructs an OwnerHandler.
func NewOwnerHandler(db *gorm.DB) *OwnerHandler {
	return &OwnerHandler{db: db}
}

// List returns all owner accounts, newest first.
func (h *OwnerHandler) List(c *gin.Context) {
	var rows []models.User
	if errFind := h.db.WithContext(c.Request.Context()).
		Where("role = ?", models.RoleOwner).
		Order("created_at DESC").
		Find(&rows).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list owners failed"})
		return
	}
	out := make([]gin.H, 0, len(rows))
	for _, row := range rows {
		out = append(out, gin.H{
			"id":         row.ID,
			"uid":        row.UID,
			"username":   row.Username,
			"email":      row.Email,
			"role":       row.Role,
			"balance":    row.Balance,
			"created_at": row.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"owners": out})
}

// promoteOwnerRequest defines the request body for granting ownership.
type promoteOwnerRequest struct {
	UserID uint64 `json:"user_id"`
}

// Promote raises a user or admin to owner.
func (h *OwnerHandler) Promote(c *gin.Context) {
	var body promoteOwnerRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if body.UserID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}

	var target models.User
	if errFind := h.db.WithContext(c.Request.Context()).First(&target, body.UserID).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query user failed"})
		return
	}
	if target.Role == models.RoleOwner {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user is already an owner"})
		return
	}

	if errUpdate := h.db.WithContext(c.Request.Context()).Model(&models.User{}).
		Where("id = ?", target.ID).
		Updates(map[string]any{
			"role":       models.RoleOwner,
			"updated_at": time.Now().UTC(),
		}).Error; errUpdate != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "promote failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "role": models.RoleOwner})
}

// Demote revokes ownership, dropping the account back to a plain user. An
// owner cannot remove themselves, and the last owner cannot be removed.
func (h *OwnerHandler) Demote(c *gin.Context) {
	actor := getActor(c)
	if actor == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	id, errParse := strconv.ParseUint(strings.TrimSpace(c.Param("id")), 10, 64)
	if errParse != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	if id == actor.ID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "you cannot remove yourself as owner"})
		return
	}

	var target models.User
	if errFind := h.db.WithContext(c.Request.Context()).First(&target, id).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query user failed"})
		return
	}
	if target.Role != models.RoleOwner {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user is not an owner"})
		return
	}

	var ownerCount int64
	if errCount := h.db.WithContext(c.Request.Context()).Model(&models.User{}).
		Where("role = ?", models.RoleOwner).
		Count(&ownerCount).Error; errCount != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "count owners failed"})
		return
	}
	if ownerCount <= 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot remove the last owner"})
		return
	}

	if errUpdate := h.db.WithContext(c.Request.Context()).Model(&models.User{}).
		Where("id = ?", target.ID).
		Updates(map[string]any{
			"role":       models.RoleUser,
			"updated_at": time.Now().UTC(),
		}).Error; errUpdate != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "demote failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "role": models.RoleUser})
}
