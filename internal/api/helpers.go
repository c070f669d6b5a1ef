package api

import (
	"strconv"

	"campus-chat/internal/middleware"
	"campus-chat/pkg/apperr"
	"campus-chat/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// getUserIDFromContext 读取认证中间件写入的用户ID, 失败时已经上报错误
func getUserIDFromContext(c *gin.Context) (uint, bool) {
	userIDValue, exists := c.Get(middleware.ContextUserID)
	if !exists {
		_ = c.Error(apperr.ErrAuthenticationFailed.WithMessage("user not authenticated"))
		return 0, false
	}
	userID, ok := userIDValue.(uint)
	if !ok || userID == 0 {
		logger.L.Error("Invalid userID type in context", zap.Any("userIDValue", userIDValue))
		_ = c.Error(apperr.ErrAuthenticationFailed.WithMessage("user not authenticated"))
		return 0, false
	}
	return userID, true
}

// getIDFromParam 解析路径中的正整数ID
func getIDFromParam(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 32)
	if err != nil || id == 0 {
		_ = c.Error(apperr.ErrInvalidID.WithMessage("invalid " + name + " parameter"))
		return 0, false
	}
	return uint(id), true
}

// getPageParams 无法解析的值交给服务层使用默认值
func getPageParams(c *gin.Context) (page, pageSize int) {
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page < 1 {
		page = 1
	}
	pageSize, err = strconv.Atoi(c.Query("limit"))
	if err != nil || pageSize < 0 {
		pageSize = 0
	}
	return page, pageSize
}
