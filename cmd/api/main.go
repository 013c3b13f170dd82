package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/swapmeet/swapmeet-backend/internal/config"
	"github.com/swapmeet/swapmeet-backend/internal/handler"
	"github.com/swapmeet/swapmeet-backend/internal/middleware"
	"github.com/swapmeet/swapmeet-backend/internal/migration"
	"github.com/swapmeet/swapmeet-backend/internal/notify"
	"github.com/swapmeet/swapmeet-backend/internal/presence"
	"github.com/swapmeet/swapmeet-backend/internal/repository"
	"github.com/swapmeet/swapmeet-backend/internal/routes"
	"github.com/swapmeet/swapmeet-backend/internal/service"
	"github.com/swapmeet/swapmeet-backend/internal/ws"
	pkgcache "github.com/swapmeet/swapmeet-backend/pkg/cache"
	"github.com/swapmeet/swapmeet-backend/pkg/jwt"
	pkglogger "github.com/swapmeet/swapmeet-backend/pkg/logger"
	pkgredis "github.com/swapmeet/swapmeet-backend/pkg/redis"
)

func main() {
	dotenvFiles := config.LoadDotEnv()

	// 로거 초기화
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "local"
	}
	pkglogger.InitStructured(env)
	pkglogger.Info("APP_ENV=%s, loaded env files: %v", env, dotenvFiles)

	// 설정 로드
	configPath := config.Path()
	pkglogger.Info("Loading config from: %s", configPath)
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	config.LogResolved(cfg)
	gin.SetMode(cfg.Server.Mode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// MySQL 연결; messages are the source of truth, so no DB means no service
	db, err := initDB(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	pkglogger.Info("Connected to MySQL")
	if err := migration.Run(db); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		go middleware.WatchDB(ctx, sqlDB, 15*time.Second)
	}

	// Redis 연결; everything that uses it degrades without it
	redisClient, err := pkgredis.NewClient(ctx, pkgredis.Options{
		Host:     cfg.Redis.Host,
		Port:     cfg.Redis.Port,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
	if err != nil {
		pkglogger.Info("Warning: Failed to connect to Redis: %v (continuing without Redis)", err)
		redisClient = nil
	} else {
		pkglogger.Info("Connected to Redis")
	}
	cacheService := pkgcache.NewService(redisClient)

	presenceStore := newPresenceStore(ctx, cfg, redisClient)
	jwtManager := jwt.NewManager(cfg.JWT.Secret, cfg.JWT.ExpiresIn)

	hub := ws.NewHub(ws.NewTokenAuthenticator(jwtManager), presenceStore, ws.Config{
		SendBuffer:  cfg.Realtime.SendBuffer,
		AuthTimeout: cfg.Realtime.AuthTimeout,
	})
	go hub.Run()
	defer hub.Stop()

	var listingRepo repository.ListingRepository = repository.NewListingRepository(db)
	if redisClient != nil {
		listingRepo = repository.NewCachedListingRepository(listingRepo, cacheService, cfg.Listing.CacheTTL)
	}
	var prompts notify.PromptStore = notify.NewMemoryPromptStore()
	if redisClient != nil {
		prompts = notify.NewCachePromptStore(cacheService)
	}

	messageService := service.NewMessageService(
		repository.NewMessageRepository(db),
		listingRepo,
		presenceStore,
		hub,
		cfg.Notification.PreviewLength,
	)

	router := gin.New()
	router.Use(gin.Recovery())

	// CORS 설정
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORS.Origins(),
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Request-ID"},
		AllowCredentials: true,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		ExposeHeaders:    []string{"X-Request-ID", "X-RateLimit-Remaining", "Retry-After"},
		MaxAge:           12 * time.Hour,
	}))
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.BodyLimit(64 << 10))
	router.Use(middleware.Metrics())
	router.Use(middleware.RequestLogger())

	// Prometheus metrics
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Health Check
	router.GET("/health", func(c *gin.Context) {
		stats := hub.Stats()
		c.JSON(http.StatusOK, gin.H{
			"status":   "ok",
			"service":  "swapmeet-backend",
			"time":     time.Now().Unix(),
			"redis":    pkgredis.Healthy(c.Request.Context(), redisClient),
			"sessions": stats.Sessions,
		})
	})

	routes.Setup(router, routes.Handlers{
		Message:      handler.NewMessageHandler(messageService),
		Presence:     handler.NewPresenceHandler(presenceStore),
		Notification: handler.NewNotificationHandler(prompts),
		WS: handler.NewWSHandler(hub, cfg.Realtime.Origins(), ws.PumpConfig{
			PongWait:       cfg.Realtime.PongWait,
			MaxMessageSize: cfg.Realtime.MaxMessageSize,
		}),
	}, jwtManager, redisClient, cfg)

	// 서버 시작
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		pkglogger.Info("Server listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	pkglogger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		pkglogger.Error("Graceful shutdown failed: %v", err)
	}
}

// newPresenceStore picks the configured backend, falling back to memory without redis
func newPresenceStore(ctx context.Context, cfg *config.Config, client *redis.Client) presence.Store {
	window := cfg.Presence.FreshnessWindow
	if cfg.Presence.Backend == "redis" && client != nil {
		return presence.NewRedisStore(client, window, nil)
	}
	if cfg.Presence.Backend == "redis" {
		pkglogger.Warn("presence backend redis unavailable, using in-memory store")
	}
	store := presence.NewMemoryStore(window, nil)
	go store.Run(ctx, window)
	return store
}

// initDB MySQL 연결 초기화
func initDB(cfg *config.Config) (*gorm.DB, error) {
	mysqlCfg, err := mysqldriver.ParseDSN(cfg.Database.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("parse DSN: %w", err)
	}
	// timestamps are stored and compared in UTC
	mysqlCfg.ParseTime = true
	mysqlCfg.Loc = time.UTC
	if mysqlCfg.Params == nil {
		mysqlCfg.Params = map[string]string{}
	}
	mysqlCfg.Params["time_zone"] = "'+00:00'"
	mysqlCfg.Params["charset"] = "utf8mb4"

	logLevel := gormlogger.Warn
	if cfg.IsDevelopment() {
		logLevel = gormlogger.Info
	}
	db, err := gorm.Open(mysql.Open(mysqlCfg.FormatDSN()), &gorm.Config{
		Logger: gormlogger.Default.LogMode(logLevel),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.Database.ConnMaxLifetime) * time.Second)

	return db, nil
}
