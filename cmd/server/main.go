package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"breezy-server/config"
	"breezy-server/internal/chatbot"
	"breezy-server/internal/handler"
	"breezy-server/internal/model"
	"breezy-server/internal/presence"
	"breezy-server/internal/repository"
	"breezy-server/internal/service"
	"breezy-server/pkg/db"
	"breezy-server/pkg/email"
	"breezy-server/pkg/jwt"
	"breezy-server/pkg/logger"
	"breezy-server/pkg/recaptcha"
	redisPkg "breezy-server/pkg/redis"
	"breezy-server/pkg/response"
	"breezy-server/pkg/websocket"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	// 1. 加载配置
	cfg := config.LoadConfig()

	// 2. 初始化日志系统
	log := logger.InitLogger(cfg.Log)
	defer log.Sync()

	log.Info("=== breezy服务启动 ===")
	log.Info("服务器配置信息",
		zap.String("port", cfg.Server.Port),
		zap.String("database_host", cfg.Database.Host),
		zap.String("redis_host", cfg.Redis.Host),
		zap.Duration("jwt_expire_time", cfg.JWT.ExpireTime),
		zap.Duration("retention_horizon", cfg.Presence.RetentionHorizon),
		zap.String("admission_policy", cfg.Presence.AdmissionPolicy),
		zap.String("log_level", cfg.Log.Level),
	)

	// 3. 初始化数据库连接
	if _, err := db.InitDB(cfg.Database); err != nil {
		log.Fatal("数据库连接失败", zap.Error(err))
	}
	defer func() {
		if err := db.CloseDB(); err != nil {
			log.Error("关闭数据库连接失败", zap.Error(err))
		}
	}()

	// 3.1 自动迁移表结构
	if err := db.AutoMigrate(&model.User{}); err != nil {
		log.Fatal("自动迁移失败", zap.Error(err))
	}

	// 4. 初始化Redis连接
	if err := redisPkg.InitRedis(cfg.Redis); err != nil {
		log.Fatal("Redis连接失败", zap.Error(err))
	}
	defer func() {
		if err := redisPkg.Close(); err != nil {
			log.Error("关闭Redis连接失败", zap.Error(err))
		}
	}()

	// 5. 组装在线状态引擎
	store, err := redisPkg.NewPresenceStore()
	if err != nil {
		log.Fatal("创建账本存储失败", zap.Error(err))
	}
	manager := websocket.GetManager()
	ledger := presence.NewLedger(store, manager, cfg.Presence.RetentionHorizon)
	if err := ledger.WarmUp(context.Background()); err != nil {
		log.Fatal("账本预热失败", zap.Error(err))
	}

	jwtSvc := jwt.NewJWTService(cfg.JWT)
	admission := presence.NewAdmission(jwtSvc, ledger,
		presence.Policy(cfg.Presence.AdmissionPolicy), cfg.Presence.AdmissionTimeout)
	wsHandler := websocket.NewHandler(admission, ledger, manager, cfg.WebSocket)

	// 6. 初始化业务服务
	captcha := recaptcha.NewVerifier(cfg.Recaptcha)
	sender := email.NewSender(cfg.Email)
	userRepo := repository.NewUserRepository()
	userSvc := service.NewUserService(userRepo, jwtSvc, ledger, manager)
	userHandler := handler.NewUserHandler(userSvc, captcha)
	contactHandler := handler.NewContactHandler(captcha, sender)

	// 7. 设置Gin模式
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}

	// 8. 创建Gin路由
	router := gin.New()
	router.Use(logger.LoggerMiddleware())
	router.Use(logger.ErrorLoggerMiddleware())

	setupBasicRoutes(router)

	v1 := router.Group("/api/v1")
	{
		users := v1.Group("/users")
		{
			// 公开接口（无需认证）
			users.POST("/register", userHandler.Register)
			users.POST("/login", userHandler.Login)

			// 需要认证的接口
			authUsers := users.Group("")
			authUsers.Use(jwtSvc.AuthMiddleware())
			{
				authUsers.POST("/logout", userHandler.Logout)
				authUsers.GET("", userHandler.GetUsers)
				authUsers.GET("/profile", userHandler.GetProfile)
			}
		}

		// 联系表单
		v1.POST("/contact", contactHandler.Submit)

		// 问答机器人（语料加载失败则不挂载）
		if bot, err := chatbot.LoadBot(cfg.Chatbot.CorpusFile, cfg.Chatbot.Threshold); err != nil {
			log.Warn("机器人语料加载失败，问答接口未挂载", zap.Error(err))
		} else {
			chatbotHandler := handler.NewChatbotHandler(bot)
			v1.POST("/chatbot/ask", chatbotHandler.Ask)
		}
	}

	// WebSocket路由
	router.GET("/ws", wsHandler.Serve)

	// 9. 定时对账：失联连接转离线，过期账号清除
	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	go func() {
		ticker := time.NewTicker(cfg.Presence.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-sweepCtx.Done():
				return
			case <-ticker.C:
				userSvc.SweepNow(sweepCtx)
			}
		}
	}()

	// 10. 创建HTTP服务器
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("HTTP服务器启动", zap.String("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP服务器启动失败", zap.Error(err))
		}
	}()

	// 11. 优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("正在关闭服务器...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error("HTTP服务器关闭失败", zap.Error(err))
	}

	log.Info("服务器已安全关闭")
}

// setupBasicRoutes 设置基础路由
func setupBasicRoutes(router *gin.Engine) {
	// 健康检查
	router.GET("/health", func(c *gin.Context) {
		status := "ok"
		if err := db.HealthCheck(); err != nil {
			status = "db-down"
		} else if err := redisPkg.HealthCheck(); err != nil {
			status = "redis-down"
		}
		response.Success(c, gin.H{
			"status": status,
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	// 根路径
	router.GET("/", func(c *gin.Context) {
		response.Success(c, gin.H{
			"message": "breezy server",
			"version": "1.0.0",
		})
	})
}
