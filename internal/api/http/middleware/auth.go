package middleware

import (
	"net/http"
	"strings"

	"github.com/EternisAI/iot-shield/internal/auth"
	"github.com/gin-gonic/gin"
)

const (
	SessionIDKey = "session_id"
	UsernameKey  = "username"
	RoleKey      = "role"
)

type Authenticator interface {
	Authenticate(token string) (auth.Session, error)
}

// BearerToken extracts the token from an Authorization header.
func BearerToken(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	if header == "" || !strings.HasPrefix(header, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	return token, token != ""
}

func JWTAuth(authenticator Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := BearerToken(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid authorization header"})
			return
		}

		session, err := authenticator.Authenticate(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set(SessionIDKey, session.ID)
		c.Set(UsernameKey, session.Username)
		c.Set(RoleKey, string(session.Role))
		c.Next()
	}
}

func RequireRole(roles ...auth.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		userRole := c.GetString(RoleKey)
		for _, r := range roles {
			if string(r) == userRole {
				c.Next()
				return
			}
		}

		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	}
}
