package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/keyforge-panel/keyforge/internal/models"
)

const contextActorKey = "actorUser"

// SetActor stores the acting admin or owner on the request context.
func SetActor(c *gin.Context, user *models.User) {
	c.Set(contextActorKey, user)
}

// getActor returns the acting admin or owner, or nil when absent.
func getActor(c *gin.Context) *models.User {
	value, ok := c.Get(contextActorKey)
	if !ok {
		return nil
	}
	user, ok := value.(*models.User)
	if !ok {
		return nil
	}
	return user
}
