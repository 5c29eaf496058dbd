package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/revaspay/referrals/internal/utils"
)

// ContextUserID is the gin context key holding the authenticated user id
const ContextUserID = "user_id"

// AuthMiddleware verifies JWT tokens and adds user info to context
func AuthMiddleware(tokens *utils.TokenManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := extractToken(c)

		if tokenString == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authorization token required"})
			c.Abort()
			return
		}

		claims, err := tokens.ValidateToken(tokenString)
		if err != nil || claims.UserID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			c.Abort()
			return
		}

		c.Set(ContextUserID, claims.UserID)
		c.Set("email", claims.Email)

		c.Next()
	}
}

// ServiceTokenMiddleware guards internal callbacks from the booking and
// payout services with a shared secret sent as a bearer token
func ServiceTokenMiddleware(serviceToken string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if serviceToken == "" {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Internal endpoints are disabled"})
			c.Abort()
			return
		}

		provided := extractToken(c)
		if subtle.ConstantTimeCompare([]byte(provided), []byte(serviceToken)) != 1 {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid service token"})
			c.Abort()
			return
		}

		c.Next()
	}
}

// extractToken gets the token from the Authorization header
func extractToken(c *gin.Context) string {
	parts := strings.Fields(c.GetHeader("Authorization"))
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return parts[1]
	}
	return ""
}
