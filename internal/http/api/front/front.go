// Package front registers the user-facing and public license API routes.
package front

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/keyforge-panel/keyforge/internal/config"
	handlers "github.com/keyforge-panel/keyforge/internal/http/api/front/handlers"
	"github.com/keyforge-panel/keyforge/internal/models"
	"github.com/keyforge-panel/keyforge/internal/ratelimit"
	"github.com/keyforge-panel/keyforge/internal/security"
	"gorm.io/gorm"
)

// RegisterFrontRoutes registers public, auth, and user routes on the engine.
func RegisterFrontRoutes(r *gin.Engine, db *gorm.DB, jwtCfg config.JWTConfig) {
	if r == nil || db == nil {
		return
	}

	limiter := ratelimit.NewManager(nil, nil, nil)
	verifyHandler := handlers.NewVerifyHandler(db, limiter)
	r.POST("/v0/license/verify", verifyHandler.Verify)
	r.GET("/v0/license/verify", verifyHandler.Check)

	authHandler := handlers.NewAuthHandler(db, jwtCfg)
	authGroup := r.Group("/v0/auth")
	authGroup.POST("/register", authHandler.Register)
	authGroup.POST("/login", authHandler.Login)
	authGroup.POST("/login/totp", authHandler.LoginTOTP)

	authed := r.Group("/v0")
	authed.Use(userAuthMiddleware(db, jwtCfg))

	mfaHandler := handlers.NewMFAHandler(db)
	authed.GET("/mfa/totp/status", mfaHandler.Status)
	authed.POST("/mfa/totp/prepare", mfaHandler.PrepareTOTP)
	authed.POST("/mfa/totp/confirm", mfaHandler.ConfirmTOTP)
	authed.POST("/mfa/totp/disable", mfaHandler.DisableTOTP)

	keyHandler := handlers.NewKeyHandler(db)
	authed.GET("/keys", keyHandler.List)
	authed.POST("/keys/generate", keyHandler.Generate)
	authed.PATCH("/keys/:id", keyHandler.Upgrade)
	authed.DELETE("/keys/:id", keyHandler.Delete)

	accountHandler := handlers.NewAccountHandler(db)
	authed.GET("/me", accountHandler.Me)
	authed.GET("/user/recent-actions", accountHandler.RecentActions)
	authed.POST("/user/afk-claim", accountHandler.AFKClaim)
	authed.GET("/user/referral", accountHandler.Referral)
	authed.POST("/user/referral/use", accountHandler.UseReferral)
	authed.POST("/promo-codes/redeem", accountHandler.RedeemPromoCode)
	authed.POST("/user/discord/link", accountHandler.LinkDiscord)
	authed.DELETE("/user/discord", accountHandler.UnlinkDiscord)
}

// userAuthMiddleware validates user JWTs and loads the user into the context.
// An elapsed moderation timeout is cleared here so users recover without any
// background job.
func userAuthMiddleware(db *gorm.DB, jwtCfg config.JWTConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			return
		}

		token := strings.TrimPrefix(authHeader, "Bearer ")
		if token == authHeader {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization format"})
			return
		}
		token = strings.TrimSpace(token)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "empty token"})
			return
		}

		claims, errJWT := security.ParseUserToken(jwtCfg.Secret, token)
		if errJWT != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		var user models.User
		if errFind := db.WithContext(c.Request.Context()).First(&user, claims.UserID).Error; errFind != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
			return
		}

		if user.IsTimedOut && user.TimeoutUntil != nil && !user.TimeoutUntil.After(time.Now().UTC()) {
			if errClear := db.WithContext(c.Request.Context()).Model(&models.User{}).
				Where("id = ?", user.ID).
				Updates(map[string]any{
					"is_timed_out":       false,
					"timeout_until":      nil,
					"timeout_by_user_id": nil,
				}).Error; errClear == nil {
				user.IsTimedOut = false
				user.TimeoutUntil = nil
				user.TimeoutByUserID = nil
			}
		}

		handlers.SetCurrentUser(c, &user)
		c.Next()
	}
}
