package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-demo/liveroom/internal/config"
	"github.com/go-demo/liveroom/internal/handler"
	"github.com/go-demo/liveroom/internal/middleware"
	"github.com/go-demo/liveroom/internal/pkg/cache"
	"github.com/go-demo/liveroom/internal/pkg/database"
	apperrors "github.com/go-demo/liveroom/internal/pkg/errors"
	"github.com/go-demo/liveroom/internal/pkg/mediatoken"
	"github.com/go-demo/liveroom/internal/pkg/utils"
	"github.com/go-demo/liveroom/internal/realtime"
	"github.com/go-demo/liveroom/internal/repository"
	"github.com/go-demo/liveroom/internal/service"
	"github.com/go-demo/liveroom/internal/ws"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/time/rate"
)

const version = "1.0.0"

// @title           Live Room API
// @version         1.0
// @description     Room presence, moderation and realtime chat for live audio/video rooms
// @termsOfService  http://swagger.io/terms/

// @contact.name   API Support
// @contact.email  support@example.com

// @license.name  MIT
// @license.url   https://opensource.org/licenses/MIT

// @host      localhost:8080
// @BasePath  /

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger := initLogger(&cfg.Log)
	defer logger.Sync()

	logger.Info("Starting liveroom server",
		zap.String("version", version),
		zap.String("mode", cfg.Server.Mode),
		zap.Int("port", cfg.Server.Port),
		zap.String("storage", cfg.Storage.Driver),
	)

	// Set Gin mode
	gin.SetMode(cfg.Server.Mode)

	checks := make(map[string]handler.HealthCheck)

	// Initialize storage
	var (
		roomStore    repository.RoomStore
		messageStore repository.MessageStore
	)
	switch cfg.Storage.Driver {
	case "postgres":
		db, err := database.NewPostgres(&cfg.Database, logger)
		if err != nil {
			logger.Fatal("Failed to connect to database", zap.Error(err))
		}
		defer database.Close(db, logger)

		roomStore = repository.NewRoomRepository(db)
		messageStore = repository.NewMessageRepository(db)
		checks["database"] = db.PingContext
	default:
		logger.Warn("Using in-memory storage, state is lost on restart")
		roomStore = repository.NewMemoryRoomStore()
		messageStore = repository.NewMemoryMessageStore()
	}

	// Initialize Redis
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = cache.NewRedis(&cfg.Redis, logger)
		if err != nil {
			logger.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer cache.Close(redisClient, logger)
		checks["redis"] = func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}
	}

	// Initialize credential issuer
	issuer, err := mediatoken.NewIssuer(cfg.Media.AppID, cfg.Media.AppCertificate, cfg.Media.TokenTTL)
	if err != nil {
		logger.Fatal("Failed to initialize media credential issuer", zap.Error(err))
	}

	// Initialize JWT manager
	jwtManager := utils.NewJWTManager(
		cfg.JWT.Secret,
		cfg.JWT.AccessTokenTTL,
		cfg.JWT.Issuer,
	)

	// Initialize realtime layer
	var registryOpts []realtime.RegistryOption
	var presence *realtime.RedisPresence
	if redisClient != nil {
		presence = realtime.NewRedisPresence(redisClient, cfg.Presence.PresenceTTL)
		registryOpts = append(registryOpts, realtime.WithPresence(presence))
	}
	registry := realtime.NewRegistry(realtime.RetryPolicy{
		Attempts:  cfg.Presence.LeaveRetryMax,
		Base:      cfg.Presence.LeaveRetryBase,
		Ceiling:   cfg.Presence.LeaveRetryCeiling,
		Timeout:   cfg.Presence.OperationTimeout,
		Retryable: apperrors.IsTransient,
	}, logger, registryOpts...)

	var busOpts []realtime.BusOption
	var broker *realtime.RedisBroker
	if redisClient != nil {
		broker = realtime.NewRedisBroker(redisClient, logger)
		busOpts = append(busOpts, realtime.WithRelay(broker))
	}
	bus := realtime.NewBus(registry, cfg.Presence.BusBuffer, logger, busOpts...)

	runCtx, stopRun := context.WithCancel(context.Background())
	defer stopRun()
	go bus.Run(runCtx)

	if presence != nil {
		go registry.RunPresence(runCtx, presence.TTL()/3)
	}

	if broker != nil {
		go func() {
			if err := broker.Subscribe(runCtx, bus.PublishRemote); err != nil && runCtx.Err() == nil {
				logger.Error("Room event relay stopped", zap.Error(err))
			}
		}()
	}

	// Initialize services
	roomService := service.NewRoomService(roomStore, messageStore, issuer, bus, logger)
	chatService := service.NewChatService(roomService, messageStore, logger)

	// Initialize WebSocket hub
	hub := ws.NewHub(roomService, chatService, registry, bus, ws.HubConfig{
		OperationTimeout: cfg.Presence.OperationTimeout,
		InboundRate:      cfg.Presence.InboundRate,
		InboundBurst:     cfg.Presence.InboundBurst,
	}, logger)

	// Initialize rate limiter
	var limiter middleware.RateLimiter
	if cfg.Server.RateLimit > 0 {
		if redisClient != nil {
			limiter = middleware.NewRedisRateLimiter(redisClient, cfg.Server.RateLimit, time.Minute)
		} else {
			limiter = middleware.NewInMemoryRateLimiter(rate.Limit(float64(cfg.Server.RateLimit)/60), cfg.Server.RateLimit)
		}
	}

	// Initialize handlers
	healthHandler := handler.NewHealthHandler(version, checks)
	roomHandler := handler.NewRoomHandler(roomService)
	messageHandler := handler.NewMessageHandler(chatService)
	wsHandler := ws.NewHandler(hub, jwtManager, cfg.Server.AllowedOrigins, logger)

	// Setup router
	router := setupRouter(
		cfg,
		logger,
		jwtManager,
		limiter,
		healthHandler,
		roomHandler,
		messageHandler,
		wsHandler,
	)

	// Create server
	srv := &http.Server{
		Addr:         cfg.Server.GetAddr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in goroutine
	go func() {
		logger.Info("Server is running",
			zap.String("addr", srv.Addr),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	// Let leaves for dropped connections finish before the stores close
	if err := registry.Wait(ctx); err != nil {
		logger.Warn("Pending leaves did not finish", zap.Error(err))
	}
	bus.Stop()
	stopRun()

	logger.Info("Server exited")
}

func initLogger(cfg *config.LogConfig) *zap.Logger {
	var zapLevel zapcore.Level
	switch cfg.Level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	encoding := "json"
	if cfg.Format == "console" {
		encoding = "console"
	}
	output := cfg.OutputPath
	if output == "" {
		output = "stdout"
	}

	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Development:      false,
		Encoding:         encoding,
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{output},
		ErrorOutputPaths: []string{"stderr"},
	}

	zapConfig.EncoderConfig.TimeKey = "timestamp"
	zapConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := zapConfig.Build()
	if err != nil {
		panic(err)
	}

	return logger
}

func setupRouter(
	cfg *config.Config,
	logger *zap.Logger,
	jwtManager *utils.JWTManager,
	limiter middleware.RateLimiter,
	healthHandler *handler.HealthHandler,
	roomHandler *handler.RoomHandler,
	messageHandler *handler.MessageHandler,
	wsHandler *ws.Handler,
) *gin.Engine {
	router := gin.New()

	// Global middleware
	router.Use(middleware.RequestID())
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.Logger(logger))
	router.Use(middleware.CORS(cfg.Server.AllowedOrigins...))

	// Health check
	router.GET("/health", healthHandler.Health)

	// Swagger documentation
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// WebSocket endpoint
	router.GET("/ws", wsHandler.ServeWS)

	// API v1 routes
	v1 := router.Group("/api/v1")
	v1.Use(middleware.Auth(jwtManager))
	if limiter != nil {
		v1.Use(middleware.RateLimit(limiter, time.Minute, logger))
	}
	{
		// Room, moderation and chat routes
		rooms := v1.Group("/rooms")
		roomHandler.Register(rooms)
		messageHandler.Register(rooms)

		// WebSocket stats
		v1.GET("/ws/stats", wsHandler.GetStats)
	}

	return router
}
