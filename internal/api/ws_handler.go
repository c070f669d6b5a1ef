package api

import (
	"context"
	"net/http"
	"strings"

	"campus-chat/internal/middleware"
	internalws "campus-chat/internal/websocket"
	"campus-chat/pkg/logger"
	"campus-chat/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type WSHandler struct {
	gateway  *internalws.Gateway
	opts     internalws.ClientOptions
	upgrader websocket.Upgrader
	// 连接的读循环使用这个 ctx, 服务关闭时取消
	baseCtx context.Context
}

// allowedOrigins 为空时只允许同源, 包含 "*" 时不做检查
func NewWSHandler(baseCtx context.Context, gateway *internalws.Gateway, opts internalws.ClientOptions, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		gateway: gateway,
		opts:    opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		baseCtx: baseCtx,
	}
}

// originChecker 返回 nil 时使用 gorilla 默认的同源检查
func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return nil
	}
	for _, origin := range allowed {
		if origin == "*" {
			return func(*http.Request) bool { return true }
		}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		// 非浏览器客户端不带 Origin
		if origin == "" {
			return true
		}
		for _, o := range allowed {
			if strings.EqualFold(o, origin) {
				return true
			}
		}
		logger.L.Warn("Rejected WebSocket origin", zap.String("origin", origin))
		return false
	}
}

// wsToken 浏览器无法给 WebSocket 设置请求头, 允许用 ?token= 传递
func wsToken(c *gin.Context) string {
	if token, err := middleware.BearerToken(c); err == nil {
		return token
	}
	return c.Query("token")
}

// HandleConnection 认证失败在升级之前直接返回 401
func (h *WSHandler) HandleConnection(c *gin.Context) {
	userID, err := h.gateway.Authenticate(wsToken(c))
	if err != nil {
		logger.L.Debug("Rejected WebSocket connection", zap.String("ip", c.ClientIP()), zap.Error(err))
		response.Fail(c, err)
		c.Abort()
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.L.Error("Failed to upgrade WebSocket connection", zap.Uint("userID", userID), zap.Error(err))
		return
	}
	logger.L.Info("WebSocket connection upgraded", zap.Uint("userID", userID))

	client := internalws.NewClient(userID, conn, h.gateway, h.opts)
	h.gateway.Connect(client)

	go client.WritePump()
	go client.ReadPump(h.baseCtx)
}
