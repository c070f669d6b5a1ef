package middleware

import (
	"campus-chat/pkg/apperr"
	"campus-chat/pkg/logger"
	"campus-chat/pkg/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ErrorHandler 把 handler 通过 c.Error 上报的最后一个错误渲染成统一响应
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		err := c.Errors.Last().Err
		if apperr.KindOf(err) == apperr.KindInternal {
			logger.L.Error("Request failed",
				zap.String("method", c.Request.Method),
				zap.String("path", c.FullPath()),
				zap.Error(err))
		}
		response.Fail(c, err)
	}
}
