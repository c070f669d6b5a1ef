package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"campus-chat/internal/middleware"
	"campus-chat/internal/model"
	"campus-chat/internal/repository"
	"campus-chat/internal/service"
	internalws "campus-chat/internal/websocket"
	"campus-chat/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	router   *gin.Engine
	tokens   *utils.JWTManager
	registry *internalws.Registry
	chat     *service.ChatService
}

type envelope struct {
	Code   int             `json:"code"`
	Msg    string          `json:"msg"`
	Reason string          `json:"reason"`
	Data   json.RawMessage `json:"data"`
}

func setupTestRouter(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	messages := repository.NewMemoryMessageRepository()
	users := repository.NewMemoryUserRepository(repository.FixtureUsers()...)
	chat := service.NewChatService(
		service.NewMessageStore(messages, users, 0),
		service.NewConversationAggregator(messages, users),
		nil,
	)
	tokens := utils.NewJWTManager("test-secret", time.Hour)
	registry := internalws.NewRegistry()
	gateway := internalws.NewGateway(chat, registry, tokens, nil)

	r := gin.New()
	r.Use(middleware.ErrorHandler())
	r.GET("/healthz", NewHealthHandler(nil).Healthz)
	NewAuthHandler(service.NewAuthService(users, tokens)).RegisterRoutes(r.Group("/api/auth"))
	NewChatHandler(chat, registry, "memory").RegisterRoutes(r.Group("/api/chat"), middleware.AuthMiddleware(tokens))
	r.GET("/ws", NewWSHandler(context.Background(), gateway, internalws.DefaultClientOptions(), nil).HandleConnection)

	return &testEnv{router: r, tokens: tokens, registry: registry, chat: chat}
}

// userID 为 0 时不带令牌
func (e *testEnv) do(t *testing.T, method, path string, body interface{}, userID uint) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if userID != 0 {
		token, err := e.tokens.GenerateToken(userID)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	var env envelope
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	}
	return w, env
}

func (e *testEnv) send(t *testing.T, from, to uint, content string) model.Message {
	t.Helper()
	w, env := e.do(t, http.MethodPost, "/api/chat/messages", gin.H{"receiver_id": to, "content": content}, from)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var msg model.Message
	require.NoError(t, json.Unmarshal(env.Data, &msg))
	return msg
}

func TestChatTestEndpointIsPublic(t *testing.T) {
	e := setupTestRouter(t)
	w, env := e.do(t, http.MethodGet, "/api/chat/test", nil, 0)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, http.StatusOK, env.Code)
	assert.Contains(t, string(env.Data), `"mode":"memory"`)
}

func TestChatRoutesRequireAuth(t *testing.T) {
	e := setupTestRouter(t)
	routes := []struct{ method, path string }{
		{http.MethodPost, "/api/chat/messages"},
		{http.MethodGet, "/api/chat/conversations"},
		{http.MethodGet, "/api/chat/history/2"},
		{http.MethodPut, "/api/chat/read/2"},
		{http.MethodDelete, "/api/chat/messages/1"},
		{http.MethodGet, "/api/chat/unread-count"},
		{http.MethodGet, "/api/chat/online/2"},
	}
	for _, rt := range routes {
		t.Run(rt.method+" "+rt.path, func(t *testing.T) {
			w, env := e.do(t, rt.method, rt.path, nil, 0)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Equal(t, "AUTHENTICATION_FAILED", env.Reason)
		})
	}
}

func TestSendMessage(t *testing.T) {
	e := setupTestRouter(t)

	msg := e.send(t, 1, 2, "这个商品还在吗?")
	assert.Equal(t, uint(1), msg.SenderID)
	assert.Equal(t, uint(2), msg.ReceiverID)
	assert.Equal(t, model.MessageTypeText, msg.MessageType)
	assert.False(t, msg.IsRead)

	tests := []struct {
		name       string
		body       interface{}
		wantStatus int
		wantReason string
	}{
		{"self", gin.H{"receiver_id": 1, "content": "hi"}, http.StatusBadRequest, "INVALID_SELF_MESSAGE"},
		{"empty content", gin.H{"receiver_id": 2, "content": ""}, http.StatusBadRequest, "INVALID_CONTENT"},
		{"bad type", gin.H{"receiver_id": 2, "content": "hi", "message_type": "voice"}, http.StatusBadRequest, "INVALID_MESSAGE_TYPE"},
		{"missing receiver", gin.H{"content": "hi"}, http.StatusBadRequest, "INVALID_ID"},
		{"unknown receiver", gin.H{"receiver_id": 404, "content": "hi"}, http.StatusNotFound, "RECEIVER_NOT_FOUND"},
		{"malformed body", "not an object", http.StatusBadRequest, "INVALID_REQUEST"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, env := e.do(t, http.MethodPost, "/api/chat/messages", tt.body, 1)
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantStatus, env.Code)
			assert.Equal(t, tt.wantReason, env.Reason)
		})
	}
}

func TestGetChatHistory(t *testing.T) {
	e := setupTestRouter(t)
	first := e.send(t, 1, 2, "first")
	e.send(t, 2, 1, "second")

	w, env := e.do(t, http.MethodGet, "/api/chat/history/2?page=2&limit=1", nil, 1)
	require.Equal(t, http.StatusOK, w.Code)

	var history service.ChatHistory
	require.NoError(t, json.Unmarshal(env.Data, &history))
	assert.Equal(t, int64(2), history.Total)
	assert.Equal(t, 2, history.Page)
	assert.Equal(t, 2, history.Pages)
	require.Len(t, history.Messages, 1)
	assert.Equal(t, first.ID, history.Messages[0].ID)

	w, env = e.do(t, http.MethodGet, "/api/chat/history/abc", nil, 1)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_ID", env.Reason)

	w, _ = e.do(t, http.MethodGet, "/api/chat/history/1", nil, 1)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestConversationsAndUnread(t *testing.T) {
	e := setupTestRouter(t)
	e.send(t, 2, 1, "from lisi")
	e.send(t, 3, 1, "from wangwu")

	w, env := e.do(t, http.MethodGet, "/api/chat/unread-count", nil, 1)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"count":2}`, string(env.Data))

	w, env = e.do(t, http.MethodGet, "/api/chat/conversations", nil, 1)
	require.Equal(t, http.StatusOK, w.Code)
	var conversations []model.Conversation
	require.NoError(t, json.Unmarshal(env.Data, &conversations))
	require.Len(t, conversations, 2)
	assert.Equal(t, uint(3), conversations[0].User.ID)
	assert.Equal(t, "wangwu", conversations[0].User.Username)
	assert.Equal(t, 1, conversations[0].UnreadCount)

	w, env = e.do(t, http.MethodPut, "/api/chat/read/2", nil, 1)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"count":1}`, string(env.Data))

	// 重复标记
	_, env = e.do(t, http.MethodPut, "/api/chat/read/2", nil, 1)
	assert.JSONEq(t, `{"count":0}`, string(env.Data))

	_, env = e.do(t, http.MethodGet, "/api/chat/unread-count", nil, 1)
	assert.JSONEq(t, `{"count":1}`, string(env.Data))
}

func TestDeleteMessage(t *testing.T) {
	e := setupTestRouter(t)
	msg := e.send(t, 1, 2, "oops")
	path := fmt.Sprintf("/api/chat/messages/%d", msg.ID)

	w, env := e.do(t, http.MethodDelete, path, nil, 2)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "FORBIDDEN", env.Reason)

	w, _ = e.do(t, http.MethodDelete, path, nil, 1)
	assert.Equal(t, http.StatusOK, w.Code)

	w, env = e.do(t, http.MethodDelete, "/api/chat/messages/9999", nil, 1)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "MESSAGE_NOT_FOUND", env.Reason)

	w, env = e.do(t, http.MethodDelete, "/api/chat/messages/0", nil, 1)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_ID", env.Reason)

	_, env = e.do(t, http.MethodGet, "/api/chat/history/1", nil, 2)
	var history service.ChatHistory
	require.NoError(t, json.Unmarshal(env.Data, &history))
	assert.Empty(t, history.Messages)
	assert.Equal(t, int64(0), history.Total)
}

func TestOnlineStatus(t *testing.T) {
	e := setupTestRouter(t)

	_, env := e.do(t, http.MethodGet, "/api/chat/online/2", nil, 1)
	assert.JSONEq(t, `{"user_id":2,"online":false}`, string(env.Data))

	e.registry.Bind(2, internalws.NewClient(2, nil, nil, internalws.DefaultClientOptions()))
	_, env = e.do(t, http.MethodGet, "/api/chat/online/2", nil, 1)
	assert.JSONEq(t, `{"user_id":2,"online":true}`, string(env.Data))
}

func TestWSRejectsMissingToken(t *testing.T) {
	e := setupTestRouter(t)

	w, env := e.do(t, http.MethodGet, "/ws", nil, 0)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "AUTHENTICATION_FAILED", env.Reason)

	w, _ = e.do(t, http.MethodGet, "/ws?token=garbage", nil, 0)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, 0, e.registry.Count())
}

func TestRegisterAndLogin(t *testing.T) {
	e := setupTestRouter(t)

	w, env := e.do(t, http.MethodPost, "/api/auth/register", gin.H{
		"username": "zhaoliu",
		"password": "secret123",
		"email":    "zhaoliu@campus.test",
	}, 0)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.NotContains(t, string(env.Data), "password")

	w, env = e.do(t, http.MethodPost, "/api/auth/register", gin.H{
		"username": "zhaoliu",
		"password": "secret123",
		"email":    "other@campus.test",
	}, 0)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "USER_EXISTS", env.Reason)

	w, env = e.do(t, http.MethodPost, "/api/auth/login", gin.H{"username": "zhaoliu", "password": "secret123"}, 0)
	require.Equal(t, http.StatusOK, w.Code)
	var login struct {
		Token string            `json:"token"`
		User  model.UserProfile `json:"user"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &login))
	userID, err := e.tokens.VerifyToken(login.Token)
	require.NoError(t, err)
	assert.Equal(t, login.User.ID, userID)

	w, env = e.do(t, http.MethodPost, "/api/auth/login", gin.H{"username": "zhaoliu", "password": "wrong-pass"}, 0)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "AUTHENTICATION_FAILED", env.Reason)

	w, _ = e.do(t, http.MethodPost, "/api/auth/register", gin.H{"username": "x"}, 0)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealthz(t *testing.T) {
	e := setupTestRouter(t)
	w, env := e.do(t, http.MethodGet, "/healthz", nil, 0)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(env.Data), `"status":"ok"`)
}
