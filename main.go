package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"activity-rewards-system/config"
	"activity-rewards-system/handlers"
	"activity-rewards-system/logger"
	"activity-rewards-system/middleware"
	"activity-rewards-system/models"
	"activity-rewards-system/services"
	"activity-rewards-system/utils"
	"activity-rewards-system/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.LogMode)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL environment variable not set")
	}
	if cfg.MintServiceURL == "" {
		log.Fatal("MINT_SERVICE_URL environment variable not set")
	}

	dayLoc, err := cfg.DayLocation()
	if err != nil {
		log.Fatal("invalid DAY_BUCKET_TZ", "tz", cfg.DayTimezone, "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		log.Fatal("failed to connect to database", "error", err)
	}
	if err := db.AutoMigrate(models.All()...); err != nil {
		log.Fatal("failed to migrate database", "error", err)
	}

	catalog, err := services.LoadCatalog(cfg.CatalogPath)
	if err != nil {
		log.Fatal("failed to load achievement catalog", "path", cfg.CatalogPath, "error", err)
	}
	log.Info("Achievement catalog loaded", "definitions", len(catalog.All()), "active", len(catalog.Active()))

	r2, err := utils.NewR2Store(ctx, utils.R2Options{
		AccountID:       cfg.R2AccountID,
		AccessKeyID:     cfg.R2AccessKey,
		AccessKeySecret: cfg.R2AccessSecret,
		Bucket:          cfg.R2Bucket,
		CDNBaseURL:      cfg.CDNBaseURL,
	})
	if err != nil {
		log.Fatal("failed to initialize R2 client", "error", err)
	}

	var lbCache services.LeaderboardCache
	if cfg.RedisURL != "" {
		redisCache, err := services.NewRedisLeaderboardCache(ctx, cfg.RedisURL, cfg.LeaderboardTTL)
		if err != nil {
			log.Warn("Redis unavailable, leaderboard served uncached", "error", err)
		} else {
			defer redisCache.Close()
			lbCache = redisCache
		}
	}

	ledger := services.NewActivityLedger(db, log, dayLoc, cfg.ClockSkew)
	progression := services.NewProgressionService(db, ledger, log)
	evaluator := services.NewAchievementEvaluator(db, catalog, log)
	activity := services.NewActivityService(ledger, progression, evaluator, log)
	alerts := services.NewAlertService(db, log)
	coordinator := services.NewMintCoordinator(
		db,
		catalog,
		services.NewObjectMetadataService(r2, log),
		services.NewMintServiceClient(cfg.MintServiceURL, cfg.MintServiceToken, log),
		alerts,
		services.CoordinatorConfig{
			MaxAttempts:    cfg.MaxMintAttempts,
			BackoffBase:    cfg.BackoffBase,
			BackoffMax:     cfg.BackoffMax,
			ConfirmTimeout: cfg.ConfirmTimeout,
			ReconcileGrace: cfg.ReconcileGrace,
		},
		log,
	)
	leaderboard := services.NewLeaderboardService(db, lbCache, log)

	// Background: mint workers, reconciliation sweep, wallet mirror.
	pool := workers.NewMintWorkerPool(coordinator, cfg.WorkerConcurrency, cfg.WorkerPollEvery, log)
	poolDone := make(chan struct{})
	go func() {
		defer close(poolDone)
		_ = pool.Run(ctx)
	}()

	sched, err := workers.StartReconcileScheduler(ctx, coordinator, cfg.ReconcileEvery, log)
	if err != nil {
		log.Fatal("failed to start reconciliation scheduler", "error", err)
	}

	if cfg.SyncServiceURL != "" {
		walletSync := workers.NewWalletSyncClient(db, cfg.SyncServiceURL, cfg.SyncToken, coordinator, log)
		go workers.PollWallets(ctx, walletSync, cfg.WalletPollEvery)
	} else {
		log.Warn("SYNC_SERVICE_URL not set, wallet mirror will not be refreshed")
	}

	app := fiber.New(fiber.Config{
		BodyLimit: 1 * 1024 * 1024,
	})
	app.Use(recover.New())
	app.Use(fiberlogger.New())

	// Only Gateway requests allowed, except the SSE stream which validates its own token.
	app.Use(middleware.GatewayAuthMiddleware(cfg.GatewayToken, log, handlers.AchievementStreamPath))

	app.Use(cors.New(cors.Config{
		AllowOrigins:     strings.Join(cfg.AllowedOrigins, ","),
		AllowMethods:     "GET,POST,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, Cache-Control, X-Service-Token, X-Device-ID",
		ExposeHeaders:    "Content-Length, Content-Type, X-Request-ID",
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	deps := handlers.Deps{
		Activity:    activity,
		Progress:    progression,
		Leaderboard: leaderboard,
		Coordinator: coordinator,
		Alerts:      alerts,
		Stream:      services.NewTokenStream(db, log),
		Auth:        services.NewAuthServiceClient(cfg.AuthServiceURL, cfg.GatewayToken, log),
		Log:         log,
	}
	handlers.SetupStreamRoutes(app, deps)
	handlers.SetupActivityRoutes(app, deps)
	handlers.SetupAdminRoutes(app, deps)

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Error("Server error", "error", err)
		}
	}()
	log.Info("Server running", "port", cfg.Port, "origins", cfg.AllowedOrigins)

	<-ctx.Done()
	log.Info("Shutting down server...")

	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		log.Warn("HTTP shutdown", "error", err)
	}
	if err := sched.Shutdown(); err != nil {
		log.Warn("Scheduler shutdown", "error", err)
	}
	<-poolDone
}
