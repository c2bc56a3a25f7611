package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/example/retentiond/internal/config"
	"github.com/example/retentiond/internal/database"
	"github.com/example/retentiond/internal/dispatch"
	"github.com/example/retentiond/internal/excel"
	"github.com/example/retentiond/internal/forecaster"
	"github.com/example/retentiond/internal/generator"
	"github.com/example/retentiond/internal/logger"
	"github.com/example/retentiond/internal/queue"
	"github.com/example/retentiond/internal/review"
	"github.com/example/retentiond/internal/scheduler"
	"github.com/example/retentiond/internal/server"
	"github.com/example/retentiond/internal/spacedrep"
	"github.com/example/retentiond/internal/trigger"
)

func main() {
	cfg := config.Load()

	lg, err := logger.New(cfg.LogMode)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer lg.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		lg.Info("shutting down", "signal", sig.String())
		cancel()
	}()

	db, err := database.Connect(cfg.DBType, cfg.DatabaseURL, cfg.DataDir)
	if err != nil {
		lg.Fatal("failed to connect to database", "error", err)
	}
	defer db.Close()

	items := database.NewItemRepository(db)
	observations := database.NewObservationRepository(db)
	plans := database.NewPlanRepository(db)
	windows := database.NewWindowRepository(db)
	history := database.NewHistoryRepository(db)
	catalog := database.NewCatalogRepository(db)
	assessments := database.NewAssessmentRepository(db)

	if cfg.CatalogXLSX != "" {
		result, err := excel.ImportCatalog(ctx, excel.DefaultImportConfig(cfg.CatalogXLSX), catalog, lg)
		if err != nil {
			lg.Fatal("catalog import failed", "file", cfg.CatalogXLSX, "error", err)
		}
		for _, msg := range result.Errors {
			lg.Warn("catalog row rejected", "detail", msg)
		}
	}

	var cache forecaster.CurveCache
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			lg.Fatal("failed to connect to redis", "addr", cfg.RedisAddr, "error", err)
		}
		cache = forecaster.NewRedisCurveCache(client, 0)
		lg.Info("using redis curve cache", "addr", cfg.RedisAddr)
	} else {
		cache = forecaster.NewMemoryCurveCache()
	}

	fc := forecaster.New(observations, cache, lg)
	engine := spacedrep.NewEngine()
	reviews := review.New(items, engine, fc, fc, lg)
	gen := generator.New(items, assessments, lg)

	dispatchCfg := dispatch.DefaultConfig()
	dispatchCfg.MaxAdjustmentsPerDay = cfg.MaxAdjustmentsPerDay
	dispatchCfg.Cooldown = cfg.Cooldown
	dispatcher := dispatch.New(dispatchCfg, plans, catalog, history, windows, gen, reviews, lg)

	triggerCfg := trigger.DefaultConfig()
	triggerCfg.WindowSize = cfg.SlidingWindowSize
	triggerCfg.AccuracyDropThreshold = cfg.AccuracyDropThreshold
	triggerCfg.AbilityChangeThreshold = cfg.AbilityChangeThreshold
	triggerCfg.MasteryGapThreshold = cfg.MasteryGapThreshold
	triggerCfg.StreakLength = cfg.StreakLength
	triggerCfg.SpikeThreshold = cfg.SpikeThreshold
	triggerCfg.MaxAdjustmentsPerDay = cfg.MaxAdjustmentsPerDay
	triggerCfg.Cooldown = cfg.Cooldown
	triggers := trigger.New(triggerCfg, windows, history, dispatcher, lg)

	q := queue.New(queue.Config{
		DailyTarget:    cfg.DailyReviewTarget,
		SecondsPerCard: cfg.SecondsPerCard,
	}, fc, lg, reviews)

	jobs := scheduler.New(observations, fc, q, lg)
	jobs.Start()
	defer jobs.Stop()

	srv := server.New(triggers, reviews, q, fc, gen, assessments, history, lg)
	if err := srv.Run(ctx, cfg.HTTPAddr); err != nil && err != http.ErrServerClosed {
		lg.Fatal("http server failed", "error", err)
	}
	lg.Info("stopped")
}
