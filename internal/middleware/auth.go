package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/carelink-health/carelink/internal/auth"
	"github.com/carelink-health/carelink/internal/policy"
)

const contextKeyActor = "actor"

// AuthMiddleware validates the bearer token and stores the resulting actor
// in the request context. The websocket route also accepts the token as a
// query parameter because browsers cannot set headers on the WebSocket
// handshake.
func AuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := bearerToken(c)
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "missing authorization",
			})
			return
		}

		claims, err := auth.ParseToken(tokenString, secret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid or expired token",
			})
			return
		}

		c.Set(contextKeyActor, policy.Actor{
			ID:         claims.UserID,
			Role:       claims.Role,
			DistrictID: claims.DistrictID,
		})
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return parts[1]
		}
		return ""
	}
	return c.Query("token")
}

// GetActor returns the authenticated actor. Only valid behind
// AuthMiddleware; the zero Actor is returned otherwise and fails every
// policy check.
func GetActor(c *gin.Context) policy.Actor {
	val, exists := c.Get(contextKeyActor)
	if !exists {
		return policy.Actor{}
	}
	actor, ok := val.(policy.Actor)
	if !ok {
		return policy.Actor{}
	}
	return actor
}
