package middleware

import (
	"context"
	"log"
	"net/http"

	fbauth "firebase.google.com/go/v4/auth"
	"github.com/gin-gonic/gin"

	"github.com/taskboard/taskboard-backend/internal/auth"
)

// TokenVerifier is satisfied by *firebase auth.Client.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*fbauth.Token, error)
}

// UserEnsurer makes sure a row exists for an authenticated user.
type UserEnsurer interface {
	EnsureUser(ctx context.Context, id, email string) error
}

// FirebaseAuthMiddleware validates Firebase ID tokens and extracts user info
func FirebaseAuthMiddleware(verifier TokenVerifier, users UserEnsurer) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := auth.BearerToken(c.GetHeader("Authorization"))
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"ok": false, "error": "missing authorization token"})
			return
		}

		decoded, err := verifier.VerifyIDToken(c.Request.Context(), token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"ok": false, "error": "invalid token"})
			return
		}

		email, _ := decoded.Claims["email"].(string)
		if !ensure(c, users, decoded.UID, email) {
			return
		}

		c.Set(auth.CtxFirebaseUID, decoded.UID)
		if email != "" {
			c.Set(auth.CtxEmail, email)
		}
		c.Next()
	}
}

func ensure(c *gin.Context, users UserEnsurer, id, email string) bool {
	if users == nil {
		return true
	}
	if err := users.EnsureUser(c.Request.Context(), id, email); err != nil {
		log.Printf("[auth] ensure user %s: %v", id, err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "ensure user failed"})
		return false
	}
	return true
}
