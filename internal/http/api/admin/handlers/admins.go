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

// AdminHandler serves the owner-only admin management endpoints.
type AdminHandler struct {
	db *gorm.DB
}

// NewAdminHandler constructs an AdminHandler.
func NewAdminHandler(db *gorm.DB) *AdminHandler {
	return &AdminHandler{db: db}
}

// List returns all admins and owners.
func (h *AdminHandler) List(c *gin.Context) {
	var rows []models.User
	if errFind := h.db.WithContext(c.Request.Context()).
		Where("role IN ?", []models.Role{models.RoleAdmin, models.RoleOwner}).
		Order("created_at ASC").
		Find(&rows).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list admins failed"})
		return
	}
	out := make([]gin.H, 0, len(rows))
	for _, row := range rows {
		out = append(out, gin.H{
			"id":         row.ID,
			"uid":        row.UID,
			"username":   row.Username,
			"role":       row.Role,
			"created_at": row.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"admins": out})
}

// promoteRequest defines the request body for promoting a user to admin.
type promoteRequest struct {
	Username string `json:"username"`
}

// Promote raises a plain user to admin.
func (h *AdminHandler) Promote(c *gin.Context) {
	var body promoteRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	username := strings.TrimSpace(body.Username)
	if username == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username is required"})
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
	if target.Role != models.RoleUser {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user is already an admin or owner"})
		return
	}

	if errUpdate := h.db.WithContext(c.Request.Context()).Model(&models.User{}).
		Where("id = ?", target.ID).
		Updates(map[string]any{
			"role":       models.RoleAdmin,
			"updated_at": time.Now().UTC(),
		}).Error; errUpdate != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "promote failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "role": models.RoleAdmin})
}

// Demote lowers an admin back to a plain user. Owners cannot be demoted.
func (h *AdminHandler) Demote(c *gin.Context) {
	id, errParse := strconv.ParseUint(strings.TrimSpace(c.Param("id")), 10, 64)
	if errParse != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
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
	if target.Role == models.RoleOwner {
		c.JSON(http.StatusForbidden, gin.H{"error": "owners cannot be demoted"})
		return
	}
	if target.Role != models.RoleAdmin {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user is not an admin"})
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
