package api

import (
	"fmt"
	"net/http"
	"time"

	"campus-chat/internal/service"
	internalws "campus-chat/internal/websocket"
	"campus-chat/pkg/apperr"
	"campus-chat/pkg/response"

	"github.com/gin-gonic/gin"
)

// 处理聊天相关的HTTP请求
type ChatHandler struct {
	chatService *service.ChatService
	registry    *internalws.Registry
	storeMode   string
}

// 创建一个新的聊天处理器实例, storeMode 只用于 /test 探针展示
func NewChatHandler(chatService *service.ChatService, registry *internalws.Registry, storeMode string) *ChatHandler {
	return &ChatHandler{
		chatService: chatService,
		registry:    registry,
		storeMode:   storeMode,
	}
}

// RegisterRoutes 注册 /api/chat 下的路由, auth 之前的 /test 不需要登录
func (h *ChatHandler) RegisterRoutes(group *gin.RouterGroup, auth gin.HandlerFunc) {
	group.GET("/test", h.Test)

	protected := group.Group("", auth)
	protected.POST("/messages", h.SendMessage)
	protected.GET("/conversations", h.GetConversations)
	protected.GET("/history/:otherUserId", h.GetChatHistory)
	protected.PUT("/read/:otherUserId", h.MarkAsRead)
	protected.DELETE("/messages/:messageId", h.DeleteMessage)
	protected.GET("/unread-count", h.GetUnreadCount)
	protected.GET("/online/:userId", h.GetOnlineStatus)
}

// 聊天模块探针
func (h *ChatHandler) Test(c *gin.Context) {
	response.OK(c, gin.H{
		"mode":      h.storeMode,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"online":    h.registry.Count(),
		"features": []string{
			"messages", "history", "conversations", "read_receipts",
			"soft_delete", "unread_count", "realtime",
		},
	})
}

// 发送消息
func (h *ChatHandler) SendMessage(c *gin.Context) {
	senderID, ok := getUserIDFromContext(c)
	if !ok {
		return
	}

	var req service.MessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperr.ErrInvalidRequest.WithMessage("invalid request body"))
		return
	}

	message, err := h.chatService.SendMessage(c.Request.Context(), senderID, req)
	if err != nil {
		_ = c.Error(err)
		return
	}

	response.Success(c, http.StatusCreated, "message sent successfully", message)
}

// 获取聊天历史记录
func (h *ChatHandler) GetChatHistory(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		return
	}
	otherID, ok := getIDFromParam(c, "otherUserId")
	if !ok {
		return
	}

	page, pageSize := getPageParams(c)
	history, err := h.chatService.GetChatHistory(c.Request.Context(), userID, otherID, page, pageSize)
	if err != nil {
		_ = c.Error(err)
		return
	}

	response.OK(c, history)
}

// 获取会话列表
func (h *ChatHandler) GetConversations(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		return
	}

	conversations, err := h.chatService.GetConversations(c.Request.Context(), userID)
	if err != nil {
		_ = c.Error(err)
		return
	}

	response.OK(c, conversations)
}

// 把对方发来的消息标记为已读
func (h *ChatHandler) MarkAsRead(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		return
	}
	otherID, ok := getIDFromParam(c, "otherUserId")
	if !ok {
		return
	}

	count, err := h.chatService.MarkAsRead(c.Request.Context(), userID, otherID)
	if err != nil {
		_ = c.Error(err)
		return
	}

	response.Success(c, http.StatusOK, fmt.Sprintf("marked %d messages as read", count), gin.H{"count": count})
}

// 删除消息, 只有发送者可以删除
func (h *ChatHandler) DeleteMessage(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		return
	}
	messageID, ok := getIDFromParam(c, "messageId")
	if !ok {
		return
	}

	if _, err := h.chatService.DeleteMessage(c.Request.Context(), messageID, userID); err != nil {
		_ = c.Error(err)
		return
	}

	response.Success(c, http.StatusOK, "message deleted", nil)
}

func (h *ChatHandler) GetUnreadCount(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		return
	}

	count, err := h.chatService.GetUnreadCount(c.Request.Context(), userID)
	if err != nil {
		_ = c.Error(err)
		return
	}

	response.OK(c, gin.H{"count": count})
}

// 查询用户是否在本进程在线
func (h *ChatHandler) GetOnlineStatus(c *gin.Context) {
	if _, ok := getUserIDFromContext(c); !ok {
		return
	}
	targetID, ok := getIDFromParam(c, "userId")
	if !ok {
		return
	}

	response.OK(c, gin.H{
		"user_id": targetID,
		"online":  h.registry.IsOnline(targetID),
	})
}
