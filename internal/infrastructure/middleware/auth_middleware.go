package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// SessionCookie marks a browser that already passed the gate.
const SessionCookie = "voxlobby_session"

// SharedSecret gates routes behind the single shared password. Callers
// present it either as a Bearer token or through the session cookie set by
// the login endpoint. There is no per-user identity behind the gate.
func SharedSecret(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if candidate := bearerToken(c); candidate != "" && equal(candidate, secret) {
			c.Next()
			return
		}
		if cookie, err := c.Cookie(SessionCookie); err == nil && equal(cookie, secret) {
			c.Next()
			return
		}
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		c.Abort()
	}
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return ""
	}
	return parts[1]
}

func equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
