package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/keyforge-panel/keyforge/internal/models"
)

const contextUserKey = "currentUser"

// SetCurrentUser stores the authenticated user on the request context.
func SetCurrentUser(c *gin.Context, user *models.User) {
	c.Set(contextUserKey, user)
}

// getCurrentUser returns the authenticated user, or nil when absent.
func getCurrentUser(c *gin.Context) *models.User {
	value, ok := c.Get(contextUserKey)
	if !ok {
		return nil
	}
	user, ok := value.(*models.User)
	if !ok {
		return nil
	}
	return user
}

// getUserID returns the authenticated user's ID, or zero when absent.
func getUserID(c *gin.Context) uint64 {
	user := getCurrentUser(c)
	if user == nil {
		return 0
	}
	return user.ID
}
