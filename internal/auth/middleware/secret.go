package middleware

import (
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/taskboard/taskboard-backend/internal/auth"
)

// RequireSecret guards operator endpoints with "Authorization: Bearer <secret>".
func RequireSecret(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			log.Printf("[auth] %s rejected: no secret configured", c.Request.URL.Path)
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"ok": false, "error": "endpoint not configured"})
			return
		}
		if !auth.SecretMatches(auth.BearerToken(c.GetHeader("Authorization")), secret) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"ok":        false,
				"error":     "unauthorized",
				"timestamp": time.Now().UTC().Format(time.RFC3339),
			})
			return
		}
		c.Next()
	}
}
