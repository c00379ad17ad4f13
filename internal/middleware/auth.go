package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/collabworks/officechat/internal/model"
	"github.com/collabworks/officechat/pkg/auth"
)

func abortUnauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, model.APIResponse{
		Success: false,
		Error:   &model.APIError{Code: "UNAUTHORIZED", Message: message},
	})
}

// AuthMiddleware validates JWT bearer tokens and injects the caller's
// identity into the request context. rdb may be nil; token revocation is
// then not checked.
func AuthMiddleware(jwtManager *auth.JWTManager, rdb *redis.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			abortUnauthorized(c, "authorization header required")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			abortUnauthorized(c, "invalid authorization format, use: Bearer <token>")
			return
		}

		tokenString := parts[1]

		if rdb != nil {
			exists, err := rdb.Exists(context.Background(), "blacklist:"+tokenString).Result()
			if err != nil {
				// Fail closed: an unreachable blacklist must not let revoked
				// tokens through.
				c.AbortWithStatusJSON(http.StatusInternalServerError, model.APIResponse{
					Success: false,
					Error:   &model.APIError{Code: "INTERNAL", Message: "auth server error"},
				})
				return
			}
			if exists > 0 {
				abortUnauthorized(c, "token has been revoked")
				return
			}
		}

		claims, err := jwtManager.ValidateToken(tokenString)
		if err != nil {
			abortUnauthorized(c, "invalid or expired token")
			return
		}

		c.Set("user_id", claims.UserID)
		c.Set("email", claims.Email)
		c.Set("name", claims.Name)

		c.Next()
	}
}
