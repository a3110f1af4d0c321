package middleware

import (
	"net/http"
	"strings"

	"payorder/pkg/response"
	"payorder/pkg/utils"

	"github.com/gin-gonic/gin"
)

// AdminAuthMiddleware 校验 Bearer JWT 且 role 必须为 admin
func AdminAuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			response.Abort(c, http.StatusUnauthorized, response.ErrAuthFailed, "Authorization header is required")
			return
		}

		// 检查格式 "Bearer <token>"
		scheme, tokenString, ok := strings.Cut(authHeader, " ")
		if !ok || scheme != "Bearer" || tokenString == "" {
			response.Abort(c, http.StatusUnauthorized, response.ErrAuthFailed, "Invalid authorization header format")
			return
		}

		claims, err := utils.ParseToken(secret, tokenString)
		if err != nil {
			response.Abort(c, http.StatusUnauthorized, response.ErrTokenInvalid, "Invalid or expired token")
			return
		}
		if claims.Role != utils.RoleAdmin {
			response.Abort(c, http.StatusForbidden, response.ErrNoPermission, "Admin permission required")
			return
		}

		c.Set("subject", claims.Subject)
		c.Set("role", claims.Role)
		c.Next()
	}
}
