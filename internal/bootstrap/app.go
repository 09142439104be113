package bootstrap

import (
	"context"
	"errors" // 导入 errors 包
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8" // 导入 redis
	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm" // 导入 gorm

	// --- 导入内部包 ---
	httpHandler "github.com/KafetzisThomas/Chatterbox/internal/handler/http"
	wsHandler "github.com/KafetzisThomas/Chatterbox/internal/handler/websocket"
	"github.com/KafetzisThomas/Chatterbox/internal/hub"
	"github.com/KafetzisThomas/Chatterbox/internal/infra/mailer"
	gormpersistence "github.com/KafetzisThomas/Chatterbox/internal/infra/persistence/gorm"
	"github.com/KafetzisThomas/Chatterbox/internal/infra/setup"
	redisstate "github.com/KafetzisThomas/Chatterbox/internal/infra/state/redis"
	"github.com/KafetzisThomas/Chatterbox/internal/middleware"
	"github.com/KafetzisThomas/Chatterbox/internal/service"
	"github.com/KafetzisThomas/Chatterbox/internal/worker"
)

// Config 结构体用于存储从环境变量或文件加载的配置
type Config struct {
	DBUser          string
	DBPassword      string
	DBHost          string
	DBPort          string
	DBName          string
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	JWTSecret       string
	ServerPort      string
	LogLevel        string
	RateLimitMax    int
	RateLimitWindow time.Duration
	JWTExpiryHours  int
	AppEnv          string // 应用环境 (development/production)
	KeyPrefix       string // Redis Key 前缀
	SMTPHost        string
	SMTPPort        string
	SMTPUsername    string
	SMTPPassword    string
	SMTPFrom        string
}

// LoadConfig 从环境变量加载配置
func LoadConfig() (*Config, error) {
	// 优先加载 .env 文件 (如果存在)
	_ = godotenv.Load() // 忽略错误，允许只使用环境变量

	cfg := &Config{
		DBUser:        os.Getenv("DB_USER"),
		DBPassword:    os.Getenv("DB_PASSWORD"),
		DBHost:        os.Getenv("DB_HOST"),
		DBPort:        os.Getenv("DB_PORT"),
		DBName:        os.Getenv("DB_NAME"),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		JWTSecret:     os.Getenv("JWT_SECRET"),
		ServerPort:    os.Getenv("SERVER_PORT"),
		LogLevel:      os.Getenv("LOG_LEVEL"),
		AppEnv:        os.Getenv("APP_ENV"),
		KeyPrefix:     os.Getenv("REDIS_KEY_PREFIX"),
		SMTPHost:      os.Getenv("SMTP_HOST"),
		SMTPPort:      os.Getenv("SMTP_PORT"),
		SMTPUsername:  os.Getenv("SMTP_USERNAME"),
		SMTPPassword:  os.Getenv("SMTP_PASSWORD"),
		SMTPFrom:      os.Getenv("SMTP_FROM"),
		// --- 设置默认值 ---
		RateLimitMax:    100,
		RateLimitWindow: 1 * time.Second,
		JWTExpiryHours:  24,
	}

	// 处理 Redis DB
	redisDBStr := os.Getenv("REDIS_DB")
	cfg.RedisDB, _ = strconv.Atoi(redisDBStr) // 忽略错误，默认为 0

	// --- 设置其他默认值和进行必要检查 ---
	if cfg.ServerPort == "" {
		cfg.ServerPort = "8080"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.AppEnv == "" {
		cfg.AppEnv = "development" // 默认开发环境
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "cb:" // 默认 key 前缀
	}
	if cfg.SMTPHost == "" {
		cfg.SMTPHost = "localhost"
	}
	if cfg.SMTPPort == "" {
		cfg.SMTPPort = "25"
	}
	if cfg.RedisAddr == "" {
		return nil, fmt.Errorf("environment variable REDIS_ADDR must be set")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("environment variable JWT_SECRET must be set")
	}

	// 验证日志级别
	if _, err := logrus.ParseLevel(cfg.LogLevel); err != nil {
		logrus.Warnf("Invalid LOG_LEVEL '%s', using default 'info'", cfg.LogLevel)
		cfg.LogLevel = "info" // 修正配置值
	}

	return cfg, nil
}

// App 结构体包含应用的所有组件和配置
type App struct {
	Config      *Config
	Log         *logrus.Logger
	DB          *gorm.DB
	RedisClient *redis.Client
	AsynqClient *asynq.Client
	AsynqServer *worker.WorkerServer
	Hub         *hub.Hub
	HttpServer  *http.Server
}

// NewApp 创建并初始化应用的所有组件
func NewApp() (*App, error) {
	// 1. 加载配置
	cfg, err := LoadConfig()
	if err != nil {
		// 使用标准错误输出记录启动时错误，因为 logrus 可能还未完全配置
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return nil, err
	}

	// 2. 初始化 Logger
	log := logrus.New()
	if cfg.AppEnv == "production" {
		log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, ForceColors: true})
	}
	logLevel, _ := logrus.ParseLevel(cfg.LogLevel) // cfg.LogLevel 已被 LoadConfig 验证
	log.SetLevel(logLevel)
	log.SetOutput(os.Stdout)
	log.Infof("Logger initialized (Level: %s, Format: %T)", logLevel.String(), log.Formatter)
	log.Info("Configuration loaded successfully")

	// 3. 初始化基础设施
	log.Info("Initializing infrastructure...")
	db, err := setup.InitDB(cfg.DBUser, cfg.DBPassword, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		return nil, fmt.Errorf("failed to init DB: %w", err)
	}
	log.Info("Database initialized")

	err = setup.MigrateDB(db)
	if err != nil {
		return nil, fmt.Errorf("failed to migrate DB: %w", err)
	}
	log.Info("Database migrated")

	redisClient, err := setup.InitRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, fmt.Errorf("failed to init Redis: %w", err)
	}
	log.Info("Redis client initialized")

	redisClientOpt := asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
	asynqClient := asynq.NewClient(redisClientOpt)
	log.Info("Asynq client initialized")

	smtpMailer, err := mailer.NewSMTPMailer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword, cfg.SMTPFrom)
	if err != nil {
		return nil, fmt.Errorf("failed to create SMTP mailer: %w", err)
	}
	log.Info("Infrastructure initialized successfully")

	// 4. 初始化 Repositories
	log.Info("Initializing repositories...")
	userRepo := gormpersistence.NewGormUserRepository(db)
	roomRepo := gormpersistence.NewGormRoomRepository(db)
	messageRepo := gormpersistence.NewGormMessageRepository(db)
	presenceRepo := redisstate.NewRedisPresenceRepository(redisClient, cfg.KeyPrefix) // 使用配置的前缀
	log.Info("Repositories initialized")

	// 5. 初始化 Services
	log.Info("Initializing services...")
	authService, err := service.NewAuthService(userRepo, cfg.JWTSecret, cfg.JWTExpiryHours)
	if err != nil {
		return nil, fmt.Errorf("failed to create AuthService: %w", err)
	}
	roomService := service.NewRoomService(roomRepo, userRepo)
	notificationService := service.NewNotificationService(userRepo, asynqClient)
	chatService := service.NewChatService(messageRepo, userRepo, notificationService)
	log.Info("Services initialized")

	// 6. 初始化 Hub
	log.Info("Initializing hub...")
	hubInstance := hub.NewHub(chatService, presenceRepo)
	log.Info("Hub initialized")

	// 7. 初始化 Handlers
	log.Info("Initializing handlers...")
	authHandler := httpHandler.NewAuthHandler(authService)
	roomHandler := httpHandler.NewRoomHandler(roomService, chatService, presenceRepo)
	websocketHandler := wsHandler.NewWebSocketHandler(hubInstance, roomService, authService)
	log.Info("Handlers initialized")

	// 8. 初始化 Worker Server
	log.Info("Initializing worker server...")
	workerServer := worker.NewWorkerServer(redisClientOpt, smtpMailer, log)
	log.Info("Worker server initialized")

	// 9. 初始化 Gin Engine 和路由
	log.Info("Setting up Gin router...")
	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(log)) // 使用 App 的 logger

	// --- 应用其他中间件 ---
	router.Use(func(c *gin.Context) { /* CORS */
		allowedOrigin := os.Getenv("CORS_ALLOWED_ORIGIN") // 从环境变量读取
		if allowedOrigin == "" {
			allowedOrigin = "http://localhost:3000" // 开发默认
		}
		c.Writer.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	})
	router.Use(middleware.RateLimit(redisClient, cfg.RateLimitMax, cfg.RateLimitWindow))

	// --- 设置路由 ---
	api := router.Group("/api")
	authRoutes := api.Group("/auth")
	{
		authRoutes.POST("/register", authHandler.Register)
		authRoutes.POST("/login", authHandler.Login)
	}
	chatRoutes := api.Group("/chats").Use(middleware.Auth(cfg.JWTSecret))
	{
		chatRoutes.POST("", roomHandler.StartChat)
	}
	roomRoutes := api.Group("/rooms").Use(middleware.Auth(cfg.JWTSecret))
	{
		roomRoutes.GET("/:roomId/messages", roomHandler.GetMessages)
		roomRoutes.GET("/:roomId/online", roomHandler.GetOnline)
		roomRoutes.DELETE("/:roomId", roomHandler.DeleteRoom)
	}
	// WebSocket 路由不经过 JWT 中间件：浏览器的 WebSocket API 无法
	// 设置 Authorization 头，身份由 URL 中的用户名解析
	wsRoutes := router.Group("/ws")
	{
		wsRoutes.GET("/chat/:username/:other_username", websocketHandler.HandleDirectChat)
		wsRoutes.GET("/group", websocketHandler.HandleGroupChat)
		wsRoutes.GET("/group/:name", websocketHandler.HandleGroupChat)
	}
	router.GET("/ping", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"message": "pong"}) })
	log.Info("Router setup complete")

	// 10. 初始化 HTTP Server
	log.Info("Initializing HTTP server...")
	httpServer := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: router,
	}
	log.Info("HTTP server initialized")

	// 11. 组装 App 对象
	log.Info("Assembling application...")
	app := &App{
		Config:      cfg,
		Log:         log,
		DB:          db,
		RedisClient: redisClient,
		AsynqClient: asynqClient,
		AsynqServer: workerServer,
		Hub:         hubInstance,
		HttpServer:  httpServer,
	}
	log.Info("Application assembled successfully")

	return app, nil
}

// Start 启动应用的所有后台 Goroutine 和 HTTP 服务器
func (a *App) Start() {
	a.Log.Info("Starting application background routines...")
	go a.Hub.Run()
	a.Log.Info("Hub routine started")

	go a.AsynqServer.Start()
	a.Log.Info("Asynq worker server routine started")

	// 启动 HTTP 服务器
	go func() {
		a.Log.Infof("HTTP server starting to listen on %s", a.HttpServer.Addr)
		if err := a.HttpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			// 使用 App 的 logger 记录 Fatal 错误
			a.Log.Fatalf("Failed to start HTTP server: %v", err)
		}
		a.Log.Info("HTTP server stopped listening.")
	}()
}

// Shutdown 优雅地关闭应用
func (a *App) Shutdown() {
	a.Log.Info("Shutting down application...")

	// 1. 优雅关闭 Worker Server
	if a.AsynqServer != nil {
		a.AsynqServer.Shutdown()
	}

	// 2. 优雅关闭 HTTP 服务器 (活跃的 WebSocket 连接随之关闭，
	//    各自的 readPump 退出时完成注销)
	a.Log.Info("Shutting down HTTP server...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.HttpServer.Shutdown(ctx); err != nil {
		a.Log.Errorf("Error shutting down HTTP server: %v", err)
	} else {
		a.Log.Info("HTTP server shut down gracefully.")
	}

	// 3. 关闭 Asynq Client
	if a.AsynqClient != nil {
		if err := a.AsynqClient.Close(); err != nil {
			a.Log.Errorf("Error closing Asynq client: %v", err)
		} else {
			a.Log.Info("Asynq client closed.")
		}
	}

	// 4. 关闭 Redis 连接
	if a.RedisClient != nil {
		if err := a.RedisClient.Close(); err != nil {
			a.Log.Errorf("Error closing Redis connection: %v", err)
		} else {
			a.Log.Info("Redis connection closed.")
		}
	}

	a.Log.Info("Application shutdown complete.")
}

// LoggerMiddleware 创建一个 Gin 中间件用于记录请求日志
func LoggerMiddleware(log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()
		c.Next() // 处理请求
		latency := time.Since(startTime)
		statusCode := c.Writer.Status()
		clientIP := c.ClientIP()
		method := c.Request.Method
		path := c.Request.URL.Path
		if c.Request.URL.RawQuery != "" {
			path = path + "?" + c.Request.URL.RawQuery
		}
		errorMessage := c.Errors.ByType(gin.ErrorTypePrivate).String()

		entry := log.WithFields(logrus.Fields{
			"status_code": statusCode,
			"latency_ms":  latency.Milliseconds(), // 记录毫秒数
			"client_ip":   clientIP,
			"method":      method,
			"path":        path,
		})

		if errorMessage != "" {
			entry.Error(errorMessage)
		} else {
			// 区分状态码记录日志级别
			if statusCode >= 500 {
				entry.Error("Server error")
			} else if statusCode >= 400 {
				entry.Warn("Client error")
			} else {
				entry.Info("Request handled")
			}
		}
	}
}
