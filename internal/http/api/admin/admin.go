// Package admin registers the moderation and owner API routes.
package admin

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/keyforge-panel/keyforge/internal/config"
	handlers "github.com/keyforge-panel/keyforge/internal/http/api/admin/handlers"
	"github.com/keyforge-panel/keyforge/internal/models"
	"github.com/keyforge-panel/keyforge/internal/security"
	"gorm.io/gorm"
)

// RegisterAdminRoutes registers health, admin, and owner routes on the engine.
func RegisterAdminRoutes(r *gin.Engine, db *gorm.DB, jwtCfg config.JWTConfig) {
	if r == nil || db == nil {
		return
	}

	healthHandler := handlers.NewHealthHandler(db)
	r.GET("/healthz", healthHandler.Healthz)

	adminGroup := r.Group("/v0/admin")
	adminGroup.Use(roleMiddleware(db, jwtCfg, models.Role.CanManageUsers))

	userHandler := handlers.NewUserHandler(db)
	adminGroup.GET("/users", userHandler.List)
	adminGroup.PUT("/users/:id/username", userHandler.Rename)
	adminGroup.DELETE("/users/:id", userHandler.Delete)
	adminGroup.POST("/users/:id/timeout", userHandler.Timeout)
	adminGroup.DELETE("/users/:id/timeout", userHandler.ClearTimeout)

	ownerGroup := r.Group("/v0/owner")
	ownerGroup.Use(roleMiddleware(db, jwtCfg, models.Role.CanManageAdmins))

	adminHandler := handlers.NewAdminHandler(db)
	ownerGroup.GET("/admins", adminHandler.List)
	ownerGroup.POST("/admins/add", adminHandler.Promote)
	ownerGroup.DELETE("/admins/:id", adminHandler.Demote)

	giftHandler := handlers.NewGiftHandler(db)
	ownerGroup.POST("/gift-balance", giftHandler.Gift)

	promoHandler := handlers.NewPromoCodeHandler(db)
	ownerGroup.GET("/promo-codes", promoHandler.List)
	ownerGroup.POST("/promo-codes", promoHandler.Create)
	ownerGroup.PUT("/promo-codes/:id", promoHandler.Update)
	ownerGroup.DELETE("/promo-codes/:id", promoHandler.Delete)

	configGroup := r.Group("/v0/owner/config")
	configGroup.Use(roleMiddleware(db, jwtCfg, models.Role.CanManageOwners))

	ownerHandler := handlers.NewOwnerHandler(db)
	configGroup.GET("", ownerHandler.List)
	configGroup.POST("", ownerHandler.Promote)
	configGroup.DELETE("/:id", ownerHandler.Demote)
}

// roleMiddleware validates the JWT, loads the user, and enforces the role
// capability for the group.
func roleMiddleware(db *gorm.DB, jwtCfg config.JWTConfig, allowed func(models.Role) bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			return
		}
		token := strings.TrimPrefix(authHeader, "Bearer ")
		if token == authHeader || strings.TrimSpace(token) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization format"})
			return
		}

		claims, errJWT := security.ParseUserToken(jwtCfg.Secret, strings.TrimSpace(token))
		if errJWT != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		var actor models.User
		if errFind := db.WithContext(c.Request.Context()).First(&actor, claims.UserID).Error; errFind != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
			return
		}
		if !allowed(actor.Role) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}

		handlers.SetActor(c, &actor)
		c.Next()
	}
}
