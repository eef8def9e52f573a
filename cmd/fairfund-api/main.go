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

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"fairfund/fairfund-backend/internal/auth"
	"fairfund/fairfund-backend/internal/config"
	"fairfund/fairfund-backend/internal/database"
	"fairfund/fairfund-backend/internal/history"
	"fairfund/fairfund-backend/internal/ledger"
	"fairfund/fairfund-backend/internal/messaging"
	"fairfund/fairfund-backend/internal/notifications"
	"fairfund/fairfund-backend/internal/notifications/websocket"
	"fairfund/fairfund-backend/internal/reports"
	"fairfund/fairfund-backend/internal/scheduler"
	"fairfund/fairfund-backend/pkg/storage"
)

func main() {
	configPath := os.Getenv("FAIRFUND_CONFIG")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := cfg.Logging.NewLogger()
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Persistence
	var (
		store ledger.Store = ledger.NewMemoryStore()
		db    *database.DB
	)
	if cfg.Database.HasDatabase() {
		db, err = database.Connect(ctx, cfg.Database, logger)
		if err != nil {
			logger.Fatal("Failed to connect to database", zap.Error(err))
		}
		defer db.Close()

		gormStore := ledger.NewGormStore(db.Gorm, logger)
		if cfg.Database.AutoMigrate {
			if err := gormStore.Migrate(ctx); err != nil {
				logger.Fatal("Failed to migrate database", zap.Error(err))
			}
		}
		store = gormStore
	} else {
		logger.Warn("No database configured, ledger state lives in memory only")
	}

	// Event fan-out
	wsManager := websocket.NewManager(logger)
	notifier := notifications.NewService(wsManager, logger)
	publishers := ledger.MultiPublisher{notifier}

	var snsPublisher *messaging.SNSPublisher
	if cfg.Messaging.TopicARN != "" {
		client, err := messaging.NewSNSClient(ctx, cfg.Messaging.Region)
		if err != nil {
			logger.Fatal("Failed to create SNS client", zap.Error(err))
		}
		snsPublisher = messaging.NewSNSPublisher(client, cfg.Messaging.TopicARN, cfg.Messaging.BufferSize, logger)
		publishers = append(publishers, snsPublisher)
	}

	l, err := ledger.New(ctx, ledger.Options{
		Admin:          cfg.Ledger.AdminAddress,
		ReputationRule: ledger.SaturatingStep(cfg.Ledger.ReputationStep),
		Store:          store,
		Publisher:      publishers,
		Logger:         logger,
	})
	if err != nil {
		logger.Fatal("Failed to open ledger", zap.Error(err))
	}

	issuer := auth.NewIssuer(cfg.Security.JWTSecret, cfg.Security.TokenTTL)

	var archive *reports.Archive
	if cfg.Storage.Enabled() {
		client, err := storage.NewS3Client(ctx, storage.Options{
			Region:          cfg.Storage.Region,
			Endpoint:        cfg.Storage.Endpoint,
			AccessKeyID:     cfg.Storage.AccessKeyID,
			SecretAccessKey: cfg.Storage.SecretKey,
		})
		if err != nil {
			logger.Fatal("Failed to create S3 client", zap.Error(err))
		}
		archive = &reports.Archive{
			Client: client,
			Bucket: cfg.Storage.Bucket,
			Prefix: "reports",
			Expiry: cfg.Storage.PresignExpiry,
		}
	}

	// Maintenance jobs
	jobs := scheduler.NewManager(logger)
	if cfg.Scheduler.Enabled {
		if err := jobs.AddJob(scheduler.ExpirySweep(cfg.Scheduler.ExpirySpec, l, notifier, time.Now, logger)); err != nil {
			logger.Fatal("Failed to schedule expiry sweep", zap.Error(err))
		}
		if err := jobs.AddJob(scheduler.Reconcile(cfg.Scheduler.ReconcileSpec, l, logger)); err != nil {
			logger.Fatal("Failed to schedule reconciliation", zap.Error(err))
		}
		if err := jobs.Start(); err != nil {
			logger.Fatal("Failed to start scheduler", zap.Error(err))
		}
	}

	// Setup Router
	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))
	router.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/api/v1/ws"})))
	router.Use(cors())

	api := router.Group("/api/v1")
	{
		auth.NewHandler(issuer, cfg.Security.AllowDevTokens, logger).RegisterRoutes(api)
		ledger.NewHandler(l, cfg.Ledger.Decimals, logger).RegisterRoutes(api, auth.RequireAccount(issuer))
		reports.NewHandler(reports.NewService(l, archive, cfg.Ledger.Decimals, cfg.Ledger.Symbol, logger), logger).RegisterRoutes(api)
		websocket.NewHandler(wsManager, issuer, logger).RegisterRoutes(api)
		if db != nil {
			history.NewHandler(history.NewService(history.NewPostgresRepository(db.SQLX), logger), logger).RegisterRoutes(api)
		}
	}

	// Health Check
	router.GET("/health", func(c *gin.Context) {
		status := http.StatusOK
		body := gin.H{
			"status":        "healthy",
			"timestamp":     time.Now().UTC(),
			"persistence":   "memory",
			"stats":         l.GetContractStats(),
			"connections":   wsManager.GetConnectionCount(),
			"notifications": notifier.Stats(),
			"jobs":          jobs.Jobs(),
		}
		if snsPublisher != nil {
			body["sns"] = snsPublisher.Stats()
		}
		if db != nil {
			body["persistence"] = "postgres"
			if err := db.SQLX.PingContext(c.Request.Context()); err != nil {
				status = http.StatusServiceUnavailable
				body["status"] = "degraded"
				body["database_error"] = err.Error()
			}
		}
		c.JSON(status, body)
	})

	// Start Server
	srv := &http.Server{
		Addr:         cfg.Server.GetServerAddr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	logger.Info("Server started",
		zap.String("addr", srv.Addr),
		zap.String("admin", l.Owner()))

	// Graceful Shutdown
	<-ctx.Done()
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
	jobs.Stop(shutdownCtx)
	wsManager.Close()
	if snsPublisher != nil {
		if err := snsPublisher.Close(shutdownCtx); err != nil {
			logger.Warn("SNS queue not drained", zap.Error(err))
		}
	}

	logger.Info("Server exiting")
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if account, ok := auth.AccountFrom(c); ok {
			fields = append(fields, zap.String("account", account))
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			logger.Error("Request", fields...)
			return
		}
		logger.Info("Request", fields...)
	}
}

func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Header("Access-Control-Allow-Methods", "POST, OPTIONS, GET")
		c.Header("Access-Control-Expose-Headers", "Content-Disposition")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
