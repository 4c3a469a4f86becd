package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"offcut-ledger-backend/internal/config"
	"offcut-ledger-backend/internal/middleware"
	"offcut-ledger-backend/internal/routes"
	"offcut-ledger-backend/internal/storage"
)

func main() {
	// Load .env
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on system env")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := config.InitLogger(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer logger.Sync()

	db, err := config.InitDB(cfg.Database, config.GormLogLevel(cfg.Log))
	if err != nil {
		logger.Fatal("Failed to connect database", zap.Error(err))
	}
	if err := config.Migrate(db); err != nil {
		logger.Fatal("Failed to migrate database", zap.Error(err))
	}

	rdb, err := config.InitRedis(context.Background(), cfg.Redis)
	if err != nil {
		logger.Fatal("Failed to connect redis", zap.Error(err))
	}
	defer rdb.Close()

	archive, err := storage.NewSourceArchive(cfg.MinIO)
	if err != nil {
		logger.Fatal("Failed to init object storage", zap.Error(err))
	}
	if archive != nil {
		if err := archive.EnsureBucket(context.Background()); err != nil {
			logger.Fatal("Failed to prepare bucket", zap.String("bucket", cfg.MinIO.Bucket), zap.Error(err))
		}
	} else {
		logger.Info("Object storage not configured, source files will not be archived")
	}

	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(logger))
	r.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.Server.AllowOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"},
		ExposeHeaders:    []string{"Content-Length", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	r.Use(gzip.Gzip(gzip.DefaultCompression))
	r.MaxMultipartMemory = cfg.Ingestion.MaxUploadBytes

	routes.RegisterRoutes(r, routes.Deps{
		DB:      db,
		Redis:   rdb,
		Archive: archive,
		Config:  cfg,
		Logger:  logger,
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		logger.Info("Server starting", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}
