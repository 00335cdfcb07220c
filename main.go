package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"dice-duel/config"
	"dice-duel/engine"
	"dice-duel/handlers"
	"dice-duel/middleware"
	"dice-duel/services"
	"dice-duel/utils"
	"dice-duel/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// logger is not configured yet
		zap.NewExample().Fatal("failed to load config", zap.Error(err))
	}

	logger, err := utils.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		zap.NewExample().Fatal("failed to build logger", zap.Error(err))
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := utils.OpenDatabase(cfg)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	if err := services.Migrate(db); err != nil {
		logger.Fatal("failed to migrate database", zap.Error(err))
	}

	clock := clockwork.NewRealClock()
	timing := cfg.Timing

	// --- Events: in-process SSE fan-out, plus Redis when configured ---
	broadcaster := services.NewBroadcaster(32)
	publishers := services.MultiPublisher{broadcaster}
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Fatal("invalid REDIS_URL", zap.Error(err))
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("⚠️  Redis unreachable, events will be retried per publish", zap.Error(err))
		}
		publishers = append(publishers, &services.RedisPublisher{Client: rdb})
	}

	// --- Archive of terminal sessions ---
	var archiver services.Archiver
	if cfg.Archive.Enabled() {
		client, err := utils.NewArchiveClient(ctx, cfg.Archive)
		if err != nil {
			logger.Fatal("failed to initialize archive client", zap.Error(err))
		}
		archiver = &services.S3Archiver{Client: client, Bucket: cfg.Archive.Bucket, Prefix: cfg.Archive.Prefix}
	}

	sched, err := services.NewCronScheduler(clock)
	if err != nil {
		logger.Fatal("failed to create scheduler", zap.Error(err))
	}

	store := services.NewSessionStore(db, clock)
	ratingService := services.NewRatingService(db, clock, uint64(time.Now().UnixNano()))
	queueService := services.NewQueueService(db, ratingService, clock, timing)
	sessionService := services.NewSessionService(store, ratingService, queueService, sched,
		publishers, archiver, engine.NewRandomRoller(), clock, timing)
	matchmaker := services.NewMatchmaker(queueService, sessionService, ratingService, clock, timing)

	roster, err := services.NewBotRoster(cfg.BotRosterPath).Load()
	if err != nil {
		logger.Warn("⚠️  Bot roster not loaded, bot backfill disabled", zap.Error(err))
	} else if err := ratingService.SeedBots(ctx, roster); err != nil {
		logger.Fatal("failed to seed bots", zap.Error(err))
	}

	if err := workers.RegisterEngineJobs(ctx, sched, matchmaker, sessionService, timing); err != nil {
		logger.Fatal("failed to register jobs", zap.Error(err))
	}
	sched.Start()
	go workers.RunBotDriver(ctx, sessionService, clock, timing.BotThinkInterval)

	app := fiber.New(fiber.Config{
		AppName:      "dice-duel",
		ErrorHandler: services.RespondError,
	})

	// 🔐 GLOBAL: Only Gateway requests allowed, health probes excepted
	app.Use(middleware.GatewayAuthMiddleware(cfg.GameServiceToken, "/healthz"))
	app.Use(cors.New(cors.Config{
		AllowOrigins: strings.Join(cfg.AllowedOrigins, ","),
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, X-User-ID, Cache-Control",
		MaxAge:       86400,
	}))

	handlers.SetupHealthRoutes(app, db)
	handlers.SetupQueueRoutes(app, queueService)
	handlers.SetupSessionRoutes(app, sessionService, broadcaster)
	handlers.SetupRatingRoutes(app, ratingService)

	go func() {
		if err := app.Listen(cfg.HTTPAddr); err != nil {
			logger.Error("server error", zap.Error(err))
			stop()
		}
	}()

	logger.Info("✅ Dice duel service running",
		zap.String("addr", cfg.HTTPAddr),
		zap.String("db", cfg.DBDriver),
		zap.Bool("redis", cfg.RedisURL != ""),
		zap.Bool("archive", cfg.Archive.Enabled()),
		zap.Strings("origins", cfg.AllowedOrigins))

	<-ctx.Done()
	logger.Info("Shutting down server...")

	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		logger.Error("http shutdown", zap.Error(err))
	}
	if err := sched.Shutdown(); err != nil {
		logger.Error("scheduler shutdown", zap.Error(err))
	}
}
