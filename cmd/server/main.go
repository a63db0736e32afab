package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/carelink-health/carelink/internal/api"
	"github.com/carelink-health/carelink/internal/audit"
	"github.com/carelink-health/carelink/internal/auth"
	"github.com/carelink-health/carelink/internal/blob"
	"github.com/carelink-health/carelink/internal/config"
	"github.com/carelink-health/carelink/internal/db"
	"github.com/carelink-health/carelink/internal/directory"
	"github.com/carelink-health/carelink/internal/events"
	"github.com/carelink-health/carelink/internal/middleware"
	"github.com/carelink-health/carelink/internal/observ"
	"github.com/carelink-health/carelink/internal/policy"
	"github.com/carelink-health/carelink/internal/repository/postgres"
	"github.com/carelink-health/carelink/internal/triage"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	database, err := db.New(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer database.Close()
	pool := database.Pool()

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(redisOpts)
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connect to redis: %w", err)
	}

	blobStore, err := blob.NewStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init blob store: %w", err)
	}

	chatRepo := postgres.NewChatStore(pool)
	messageRepo := postgres.NewMessageStore(pool)
	districtRepo := postgres.NewDistrictStore(pool)
	userRepo := postgres.NewUserStore(pool)
	taskRepo := postgres.NewTaskStore(pool)
	auditRepo := postgres.NewAuditStore(pool)
	fileRepo := postgres.NewFileStore(pool)

	recorder := audit.NewRecorder(auditRepo, logger)
	eval := policy.NewEvaluator(policy.Config{ClosedChatSends: cfg.ClosedChatSends})

	hub := events.NewHub(logger)
	bridge := events.NewBridge(hub, rdb, logger)
	go bridge.Listen(ctx)

	triageSvc := triage.NewService(pool, chatRepo, messageRepo, districtRepo, userRepo, eval, recorder, bridge, logger)
	directorySvc := directory.NewService(pool, districtRepo, userRepo, chatRepo, recorder, logger)
	oauthSvc := auth.NewOAuthService(cfg, userRepo, recorder, rdb, logger)

	authHandler := api.NewAuthHandler(oauthSvc, directorySvc, logger)
	chatHandler := api.NewChatHandler(triageSvc, logger)
	districtHandler := api.NewDistrictHandler(directorySvc, logger)
	userHandler := api.NewUserHandler(directorySvc, logger)
	taskHandler := api.NewTaskHandler(taskRepo, logger)
	fileHandler := api.NewFileHandler(fileRepo, blobStore, triageSvc, eval, recorder, logger)
	wsHandler := api.NewWSHandler(hub, eval, triageSvc, logger)

	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := gin.New()
	srv.Use(gin.Recovery())

	// Public: load balancer health and the OAuth round trip.
	srv.GET("/v1/health", func(c *gin.Context) {
		if err := database.Health(c.Request.Context()); err != nil {
			c.JSON(503, gin.H{"status": "degraded"})
			return
		}
		c.JSON(200, gin.H{"status": "ok"})
	})
	srv.GET("/v1/auth/google/login", authHandler.GoogleLogin)
	srv.GET("/v1/auth/google/callback", authHandler.GoogleCallback)

	v1 := srv.Group("/v1")
	v1.Use(middleware.AuthMiddleware(cfg.JWTSecret))

	v1.GET("/me", authHandler.Me)
	v1.PATCH("/me", authHandler.UpdateMe)

	v1.POST("/chats", chatHandler.Create)
	v1.GET("/chats", chatHandler.List)
	v1.GET("/chats/:id", chatHandler.GetByID)
	v1.PATCH("/chats/:id", chatHandler.Update)
	v1.POST("/chats/:id/messages", chatHandler.CreateMessage)

	v1.GET("/districts", districtHandler.List)
	v1.POST("/districts", districtHandler.Create)
	v1.PATCH("/districts/:id", districtHandler.Update)
	v1.DELETE("/districts/:id", districtHandler.Delete)

	v1.GET("/users", userHandler.List)
	v1.POST("/users", userHandler.Create)
	v1.PATCH("/users/:id", userHandler.Update)
	v1.DELETE("/users/:id", userHandler.Delete)

	v1.GET("/tasks", taskHandler.List)
	v1.POST("/tasks", taskHandler.Create)
	v1.PATCH("/tasks/:id", taskHandler.Update)
	v1.DELETE("/tasks/:id", taskHandler.Delete)

	v1.POST("/files", fileHandler.Upload)
	v1.GET("/files/*pathname", fileHandler.Download)

	v1.GET("/ws", wsHandler.Serve)

	logger.Info("starting carelink",
		zap.String("port", cfg.Port),
		zap.String("env", cfg.Env),
	)
	return srv.Run(":" + cfg.Port)
}
