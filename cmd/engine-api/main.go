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
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"agricarbon/impact-portal/impact-portal-backend/internal/compliance"
	"agricarbon/impact-portal/impact-portal-backend/internal/config"
	"agricarbon/impact-portal/impact-portal-backend/internal/emissions/calculator"
	"agricarbon/impact-portal/impact-portal-backend/internal/emissions/defaults"
	"agricarbon/impact-portal/impact-portal-backend/internal/emissions/factors"
	"agricarbon/impact-portal/impact-portal-backend/internal/emissions/regional"
	"agricarbon/impact-portal/impact-portal-backend/internal/engine"
	"agricarbon/impact-portal/impact-portal-backend/internal/ledger"
)

func main() {
	// Initialize logger
	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	// Load .env if present
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.LoadConfig("config.json")
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	dbURL := cfg.Database.GetDatabaseURL()
	logger.Info("Connecting to database",
		zap.String("host", cfg.Database.Host),
		zap.String("db_name", cfg.Database.DBName))

	// Ledger store (gorm)
	db, err := gorm.Open(postgres.Open(dbURL), &gorm.Config{})
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	if err := ledger.Migrate(db); err != nil {
		logger.Fatal("Failed to migrate ledger schema", zap.Error(err))
	}

	// Benchmark store (sqlx)
	benchmarkDB, err := sqlx.Connect("postgres", dbURL)
	if err != nil {
		logger.Fatal("Failed to connect to benchmark store", zap.Error(err))
	}
	defer benchmarkDB.Close()

	// Reference data and calculation pipeline
	registry := factors.NewRegistry(logger)
	resolver := regional.NewResolver(registry, logger)
	defaultsResolver := defaults.NewResolver(logger)
	calc := calculator.NewCalculator(registry, resolver, defaultsResolver, logger)

	validator := compliance.NewValidator(
		compliance.NewPostgresRepository(benchmarkDB),
		compliance.NewStaticRepository(),
		logger,
	)

	recorder := ledger.NewRecorder(db, logger)
	corrector := ledger.NewCorrector(db, cfg.Engine.CorrectionBatchSize, logger)

	service := engine.NewService(registry, calc, validator, recorder, corrector, db, logger)
	handler := engine.NewHandler(service, logger)

	// Setup Router
	gin.SetMode(gin.ReleaseMode)
	router := gin.Default()

	api := router.Group("/api/v1")
	{
		handler.RegisterRoutes(api)
	}

	// Health Check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":    "healthy",
			"timestamp": time.Now(),
		})
	})

	// Start Server
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	logger.Info("Calculation engine started", zap.Int("port", cfg.Server.Port))

	// Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exiting")
}
