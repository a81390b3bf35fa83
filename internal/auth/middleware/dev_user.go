package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/taskboard/taskboard-backend/internal/auth"
)

const DevUserID = "demo-user"

// DevUserMiddleware trusts the X-User-Id header. Use this ONLY for development/testing.
func DevUserMiddleware(users UserEnsurer) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid := strings.TrimSpace(c.GetHeader("X-User-Id"))
		if uid == "" {
			uid = DevUserID
		}
		email := strings.TrimSpace(c.GetHeader("X-User-Email"))

		if !ensure(c, users, uid, email) {
			return
		}

		c.Set(auth.CtxFirebaseUID, uid)
		if email != "" {
			c.Set(auth.CtxEmail, email)
		}
		c.Next()
	}
}
