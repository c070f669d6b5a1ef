package middleware

import (
	"strings"

	"campus-chat/internal/interfaces"
	"campus-chat/pkg/apperr"
	"campus-chat/pkg/response"

	"github.com/gin-gonic/gin"
)

const ContextUserID = "userID"

// BearerToken 从 Authorization 头中取出令牌
func BearerToken(c *gin.Context) (string, error) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return "", apperr.ErrAuthenticationFailed.WithMessage("authorization header is required")
	}

	// 通常Authorization格式为: "Bearer token"
	parts := strings.SplitN(authHeader, " ", 2)
	if !(len(parts) == 2 && parts[0] == "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", apperr.ErrAuthenticationFailed.WithMessage("invalid authorization format")
	}
	return strings.TrimSpace(parts[1]), nil
}

// 验证JWT中间件
func AuthMiddleware(verifier interfaces.TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := BearerToken(c)
		if err != nil {
			response.Fail(c, err)
			c.Abort()
			return
		}

		userID, err := verifier.VerifyToken(token)
		if err != nil || userID == 0 {
			response.Fail(c, apperr.ErrAuthenticationFailed.WithMessage("invalid or expired token"))
			c.Abort()
			return
		}

		// 将用户ID存储在上下文中
		c.Set(ContextUserID, userID)
		c.Next()
	}
}
