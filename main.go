package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"author-merge/config"
	"author-merge/observability"
	"author-merge/services"
	"author-merge/storage"
)

func newLogger(mode string) (*zap.Logger, error) {
	if mode == "development" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Config load error: %v", err)
	}

	logging, err := newLogger(cfg.LogMode)
	if err != nil {
		log.Fatalf("can't initialize zap logger: %v", err)
	}
	defer logging.Sync()
	if cfg.LogMode != "development" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing := observability.InitTracing(ctx, cfg, logging)

	// Setup Database
	db, err := storage.Open(cfg, logging)
	if err != nil {
		logging.Fatal("Failed to connect to database", zap.Error(err))
	}
	if cfg.AutoMigrate {
		logging.Info("Running database auto-migration...")
		if err := storage.AutoMigrate(db); err != nil {
			logging.Fatal("Auto-migration failed", zap.Error(err))
		}
	}
	store := storage.NewRecordStore(db)

	// Optionaler Relatedness-Cache
	var cache services.RelatednessCache
	if cfg.RedisAddr != "" {
		redisCache, err := services.NewRedisRelatednessCache(ctx, cfg.RedisAddr, cfg.RelatednessCacheTTL, logging)
		if err != nil {
			logging.Warn("Redis unavailable, relatedness cache disabled", zap.Error(err))
		} else {
			defer redisCache.Close()
			cache = redisCache
			logging.Info("Relatedness cache enabled", zap.String("addr", cfg.RedisAddr), zap.Duration("ttl", cfg.RelatednessCacheTTL))
		}
	}

	// Setup Services
	explorer := services.NewRelatednessService(cfg, store, logging, cache)
	svc := appServices{
		DB:       db,
		Merge:    services.NewMergeService(db, store, logging),
		Review:   services.NewReviewService(store, explorer, logging),
		Explorer: explorer,
	}

	// Setup Cron für das Ledger-Archiv
	var cronScheduler *cron.Cron
	if cfg.LedgerArchiveEnabled() {
		objects, err := storage.NewS3ObjectStore(ctx, cfg)
		if err != nil {
			logging.Fatal("S3 client creation failed", zap.Error(err))
		}
		archiver := services.NewLedgerArchiver(cfg, store, objects, logging)

		cronScheduler = cron.New()
		if _, err := cronScheduler.AddFunc(cfg.CronSchedule, func() {
			logging.Info("Running scheduled ledger export...")
			report, err := archiver.ExportPending(context.Background())
			if err != nil {
				logging.Error("Ledger export failed", zap.Error(err))
				return
			}
			logging.Info("Ledger export completed", zap.Int("batches", report.Batches), zap.Int("entries", report.Entries))
		}); err != nil {
			logging.Fatal("Invalid CRON_SCHEDULE", zap.String("schedule", cfg.CronSchedule), zap.Error(err))
		}
		cronScheduler.Start()
	} else {
		logging.Info("Ledger archive disabled (LEDGER_S3_BUCKET not set)")
	}

	// Setup Router
	router := newRouter(cfg, svc, logging)

	logging.Info("Starting server", zap.String("port", cfg.HTTPPort))
	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Fatal("Failed to run server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logging.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if cronScheduler != nil {
		<-cronScheduler.Stop().Done()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error("Server shutdown failed", zap.Error(err))
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logging.Warn("Tracing shutdown failed", zap.Error(err))
	}
}
