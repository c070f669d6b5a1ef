package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"campus-chat/internal/api"
	"campus-chat/internal/interfaces"
	"campus-chat/internal/metrics"
	"campus-chat/internal/middleware"
	"campus-chat/internal/repository"
	"campus-chat/internal/service"
	internalws "campus-chat/internal/websocket"
	"campus-chat/pkg/cache"
	"campus-chat/pkg/config"
	"campus-chat/pkg/db"
	"campus-chat/pkg/logger"
	"campus-chat/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// 内存模式下预置用户的登录密码
const fixturePassword = "password123"

type stores struct {
	messages interfaces.MessageRepository
	users    interfaces.UserDirectory
	accounts service.AccountStore
	db       *gorm.DB
}

func main() {
	// 初始化配置
	if err := config.Init(); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	cfg := config.GlobalConfig

	if err := logger.InitLogger(cfg.Log.Level, cfg.Log.Production); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg)
	if err != nil {
		logger.L.Fatal("Failed to initialize chat store", zap.Error(err))
	}

	var unreadCache interfaces.UnreadCache
	if cfg.Redis.Enabled {
		client, err := cache.NewRedisClient(cfg.Redis)
		if err != nil {
			logger.L.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		redisCache := cache.NewRedisUnreadCache(client, cfg.Redis.UnreadTTL)
		defer redisCache.Close()
		unreadCache = redisCache
		logger.L.Info("Unread cache enabled", zap.String("addr", cfg.Redis.Addr))
	}

	chatService := service.NewChatService(
		service.NewMessageStore(st.messages, st.users, cfg.Chat.MaxContentLength),
		service.NewConversationAggregator(st.messages, st.users),
		unreadCache,
	)
	chatService.SetPageLimits(cfg.Chat.DefaultPageSize, cfg.Chat.MaxPageSize)

	jwtManager := utils.NewJWTManager(cfg.JWT.Secret, cfg.JWT.Expiration)
	authService := service.NewAuthService(st.accounts, jwtManager)

	fanout, err := internalws.CreateFanout(cfg.Messaging)
	if err != nil {
		logger.L.Fatal("Failed to create fanout", zap.Error(err))
	}
	defer fanout.Close()

	registry := internalws.NewRegistry()
	gateway := internalws.NewGateway(chatService, registry, jwtManager, fanout)
	if err := fanout.Start(ctx, gateway.DeliverLocal); err != nil {
		logger.L.Fatal("Failed to start fanout", zap.Error(err))
	}

	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.Use(gin.Recovery(), middleware.GinZapLogger(), metrics.Middleware(), middleware.ErrorHandler())

	// 公开路由
	r.GET("/healthz", api.NewHealthHandler(st.db).Healthz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	api.NewAuthHandler(authService).RegisterRoutes(r.Group("/api/auth"))

	// 聊天路由, /api/chat/test 之外都需要登录
	api.NewChatHandler(chatService, registry, cfg.Chat.Store).
		RegisterRoutes(r.Group("/api/chat"), middleware.AuthMiddleware(jwtManager))

	wsHandler := api.NewWSHandler(ctx, gateway, internalws.ClientOptionsFromConfig(cfg.WebSocket), cfg.WebSocket.AllowedOrigins)
	r.GET("/ws", wsHandler.HandleConnection)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.L.Info("Server listening",
			zap.String("addr", cfg.Server.Addr),
			zap.String("store", cfg.Chat.Store),
			zap.String("messaging", cfg.Messaging.Provider))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.L.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.L.Info("Shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.L.Error("Server forced to shutdown", zap.Error(err))
	}
}

// openStores 按 chat.store 选择持久化实现
func openStores(ctx context.Context, cfg config.Config) (*stores, error) {
	switch cfg.Chat.Store {
	case "memory":
		return openMemoryStores(ctx)
	default:
		if err := db.InitDB(); err != nil {
			return nil, err
		}
		users := repository.NewUserRepository(db.DB)
		return &stores{
			messages: repository.NewMessageRepository(db.DB),
			users:    users,
			accounts: users,
			db:       db.DB,
		}, nil
	}
}

// 内存模式: 预置三个用户和几条示例消息, 方便本地联调
func openMemoryStores(ctx context.Context) (*stores, error) {
	hashed, err := service.HashPassword(fixturePassword)
	if err != nil {
		return nil, err
	}
	users := repository.NewMemoryUserRepository()
	for _, u := range repository.FixtureUsers() {
		u.Password = hashed
		users.Add(u)
	}

	messages := repository.NewMemoryMessageRepository()
	if err := repository.SeedFixtureMessages(ctx, messages, time.Now()); err != nil {
		return nil, err
	}
	logger.L.Warn("Using in-memory chat store, data is lost on restart")

	return &stores{messages: messages, users: users, accounts: users}, nil
}
