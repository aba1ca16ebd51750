package middleware

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-demo/liveroom/internal/dto/response"
	"github.com/go-demo/liveroom/internal/pkg/utils"
)

const (
	AuthorizationHeader = "Authorization"
	BearerPrefix        = "Bearer "
	UserIDKey           = "user_id"
	ClaimsKey           = "claims"
)

// Auth verifies the bearer access token and stores the participant ID in the context
func Auth(jwtManager *utils.JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader(AuthorizationHeader)
		if authHeader == "" {
			response.Unauthorized(c, "missing token")
			c.Abort()
			return
		}

		if !strings.HasPrefix(authHeader, BearerPrefix) {
			response.Unauthorized(c, "invalid authorization format")
			c.Abort()
			return
		}

		token := strings.TrimSpace(strings.TrimPrefix(authHeader, BearerPrefix))
		if token == "" {
			response.Unauthorized(c, "missing token")
			c.Abort()
			return
		}

		claims, err := jwtManager.ValidateAccessToken(token)
		if err != nil {
			if errors.Is(err, utils.ErrExpiredToken) {
				response.Unauthorized(c, "token expired")
			} else {
				response.Unauthorized(c, "invalid token")
			}
			c.Abort()
			return
		}

		c.Set(UserIDKey, claims.UserID)
		c.Set(ClaimsKey, claims)

		c.Next()
	}
}

// GetUserID retrieves the participant ID from context
func GetUserID(c *gin.Context) string {
	userID, exists := c.Get(UserIDKey)
	if !exists {
		return ""
	}
	id, _ := userID.(string)
	return id
}

// GetClaims retrieves JWT claims from context
func GetClaims(c *gin.Context) *utils.Claims {
	claims, exists := c.Get(ClaimsKey)
	if !exists {
		return nil
	}
	return claims.(*utils.Claims)
}
