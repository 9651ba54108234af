package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// BearerAuth extracts the bearer token from the Authorization header and
// stores it in the Gin context. Token validity is checked per adventure by
// the handlers; this middleware only enforces that a credential is present.
func BearerAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			c.Abort()
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header format"})
			c.Abort()
			return
		}

		c.Set("sessionToken", parts[1])
		c.Next()
	}
}

// GetSessionToken extracts the bearer token from the Gin context.
func GetSessionToken(c *gin.Context) (string, bool) {
	token, exists := c.Get("sessionToken")
	if !exists {
		return "", false
	}
	return token.(string), true
}
