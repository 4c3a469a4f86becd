package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"offcut-ledger-backend/internal/config"
	handler "offcut-ledger-backend/internal/handlers"
	"offcut-ledger-backend/internal/middleware"
	"offcut-ledger-backend/internal/parser"
	"offcut-ledger-backend/internal/repository"
	"offcut-ledger-backend/internal/services/dedup"
	"offcut-ledger-backend/internal/services/ingestion"
	"offcut-ledger-backend/internal/services/ledger"
	"offcut-ledger-backend/internal/services/matching"
	"offcut-ledger-backend/internal/session"
	"offcut-ledger-backend/internal/storage"
)

type Deps struct {
	DB      *gorm.DB
	Redis   *redis.Client
	Archive *storage.SourceArchive
	Config  *config.Config
	Logger  *zap.Logger
}

func RegisterRoutes(r *gin.Engine, deps Deps) {
	cfg := deps.Config

	batchRepo := repository.NewBatchRepository(deps.DB)
	offcutRepo := repository.NewOffcutRepository(deps.DB)

	guard := dedup.NewGuard(batchRepo)
	ledgerService := ledger.NewLedger(batchRepo, offcutRepo, deps.Logger)
	engine := matching.NewEngine(batchRepo, ledgerService, matching.Config{
		DoubleCutWasteThreshold: cfg.Matching.DoubleCutWasteThreshold,
	}, deps.Logger)

	pipelineDeps := ingestion.Deps{
		Store:   session.NewStore(deps.Redis, cfg.Ingestion.SessionTTL),
		Locker:  session.NewLocker(deps.Redis, cfg.Ingestion.LockTTL),
		Parsers: parser.NewRegistry(),
		Guard:   guard,
		Batches: batchRepo,
		Ledger:  ledgerService,
	}
	if deps.Archive != nil {
		pipelineDeps.Archiver = deps.Archive
	}
	pipeline := ingestion.NewPipeline(pipelineDeps, cfg.Ingestion, deps.Logger)

	adminHandler := handler.NewAdminHandler(pipeline, ledgerService, cfg.Ingestion.MaxUploadBytes)
	batchHandler := handler.NewBatchHandler(ledgerService, guard)
	offcutHandler := handler.NewOffcutHandler(ledgerService)
	recHandler := handler.NewRecommendationHandler(engine, offcutHandler)
	reportHandler := handler.NewReportHandler(ledgerService)

	auth := middleware.JWTAuth(cfg.JWT.Secret, cfg.JWT.Issuer)
	canWrite := middleware.RequirePermission(middleware.PermWrite)

	api := r.Group("/api")

	// Health check
	api.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Ingestion
	admin := api.Group("/admin")
	admin.GET("/status", adminHandler.Status)
	{
		write := admin.Group("", auth, canWrite)
		write.POST("/upload", adminHandler.Upload)
		write.POST("/process", adminHandler.Process)
		write.POST("/ingest", adminHandler.Ingest)
		write.DELETE("/sessions/:token", adminHandler.Discard)
	}

	// Batch routes
	batches := api.Group("/batches")
	batches.GET("", batchHandler.List)
	batches.GET("/check/:code", batchHandler.Check)
	batches.GET("/:code", batchHandler.Get)

	// Offcut routes
	offcuts := api.Group("/offcuts")
	offcuts.GET("", offcutHandler.List)
	offcuts.GET("/available", offcutHandler.Available)
	offcuts.GET("/:id", offcutHandler.Get)
	offcuts.GET("/:id/history", offcutHandler.History)
	offcuts.POST("/usage", auth, canWrite, offcutHandler.RecordUsage)

	// Recommendations
	rec := api.Group("/recommendations")
	rec.POST("/start", recHandler.Start)
	rec.POST("/confirm", auth, canWrite, recHandler.Confirm)

	// Reports
	reports := api.Group("/reports")
	reports.GET("/summary", reportHandler.Summary)
	reports.GET("/offcuts", reportHandler.Offcuts)
}
