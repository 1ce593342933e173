// File: cmd/app/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"telegram-lessons-bot/internal/application"
	"telegram-lessons-bot/internal/config"
	"telegram-lessons-bot/internal/domain/model"
	"telegram-lessons-bot/internal/domain/ports/repository"
	pg "telegram-lessons-bot/internal/infra/db/postgres"
	httpapi "telegram-lessons-bot/internal/infra/http"
	"telegram-lessons-bot/internal/infra/i18n"
	"telegram-lessons-bot/internal/infra/logging"
	"telegram-lessons-bot/internal/infra/metrics"
	red "telegram-lessons-bot/internal/infra/redis"
	"telegram-lessons-bot/internal/infra/sched"
	"telegram-lessons-bot/internal/infra/telegram"
	"telegram-lessons-bot/internal/infra/worker"
	"telegram-lessons-bot/internal/usecase"
)

// Set through -ldflags at build time.
var (
	version = "dev"
	commit  = "none"
)

const (
	poolStatsEvery    = 15 * time.Second
	lessonCacheTTL    = 10 * time.Minute
	reconcileInterval = time.Minute
	reconcileStale    = 2 * time.Minute
	adminTokenTTL     = 30 * 24 * time.Hour
)

func main() {
	mintFor := flag.Int64("mint-token", 0, "print an admin API token for this Telegram id and exit")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)

	if *mintFor != 0 {
		if cfg.Admin.APISecret == "" {
			logger.Fatal().Msg("ADMIN_API_SECRET is empty; the admin API is disabled")
		}
		token, err := httpapi.NewAuthManager(cfg.Admin.APISecret).Mint(*mintFor, adminTokenTTL)
		if err != nil {
			logger.Fatal().Err(err).Msg("mint token")
		}
		fmt.Println(token)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error().Err(err).Msg("bot stopped with error")
		os.Exit(1)
	}
	logger.Info().Msg("bot stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) error {
	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit)
	logger.Info().Str("version", version).Str("commit", commit).Bool("dev", cfg.Runtime.Dev).Msg("starting")

	// ---- Postgres ----
	if err := pg.RunMigrations(cfg.Database.URL); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	pool, err := pg.Connect(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer pool.Close()

	userRepo := pg.NewPostgresUserRepo(pool)
	adminRepo := pg.NewAdminRepo(pool)
	categoryRepo := pg.NewCategoryRepo(pool)
	purchaseRepo := pg.NewPostgresPurchaseRepo(pool)
	jobRepo := pg.NewBroadcastJobRepo(pool)
	outcomeRepo := pg.NewBroadcastOutcomeRepo(pool)
	dialogRepo := pg.NewDialogRepo(pool)
	progressRepo := pg.NewOnboardingRepo(pool)
	tm := pg.NewTxManager(pool)
	var lessonRepo repository.LessonRepository = pg.NewLessonRepo(pool)

	// ---- Redis (optional) ----
	var (
		throttle    telegram.Throttler
		locker      red.Locker
		redisClient *red.Client
	)
	if cfg.Redis.URL != "" {
		redisClient, err = red.NewClient(ctx, cfg.Redis)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		defer redisClient.Close()
		throttle = red.NewThrottle(redisClient, cfg.Bot.Throttle())
		locker = red.NewLocker(redisClient)
		lessonRepo = pg.NewLessonRepoCacheDecorator(lessonRepo, redisClient, lessonCacheTTL)
		logger.Info().Msg("redis enabled: shared throttle, lesson cache, reconciler lock")
	} else {
		throttle = telegram.NewMemoryThrottle(cfg.Bot.Throttle())
		logger.Warn().Msg("REDIS_URL is empty; throttling in process, reconciler runs unlocked")
	}

	// ---- Telegram ----
	api, err := telegram.NewBotAPI(cfg.Bot)
	if err != nil {
		return err
	}
	logger.Info().Str("bot", api.Self.UserName).Msg("connected to bot api")
	gw := telegram.NewPacedGateway(
		telegram.NewGateway(api, logger),
		telegram.NewPacer(cfg.Broadcast.RatePerSec),
		logger,
	)

	translator, err := i18n.NewTranslator(i18n.LocalesFS, "en")
	if err != nil {
		return fmt.Errorf("i18n: %w", err)
	}

	// ---- Use cases ----
	var script model.OnboardingScript
	if cfg.Onboarding.ScriptPath != "" {
		if script, err = usecase.LoadOnboardingScript(cfg.Onboarding.ScriptPath); err != nil {
			return fmt.Errorf("onboarding script: %w", err)
		}
	}
	userUC := usecase.NewUserUseCase(userRepo, logger)
	adminUC := usecase.NewAdminUseCase(adminRepo, logger)
	lessonUC := usecase.NewLessonUseCase(lessonRepo, categoryRepo, logger)
	paymentUC := usecase.NewPaymentUseCase(userRepo, lessonRepo, purchaseRepo, tm, gw, cfg.Bot.PreCheckoutTimeout(), logger)
	broadcastUC := usecase.NewBroadcastUseCase(jobRepo, outcomeRepo, logger)
	dialogUC := usecase.NewDialogUseCase(dialogRepo, broadcastUC, lessonUC, logger)
	onboardingUC := usecase.NewOnboardingUseCase(userRepo, progressRepo, gw, script, cfg.Bot.ChatID, logger)
	statsUC := usecase.NewStatsUseCase(userRepo, purchaseRepo, logger)

	if err := adminUC.Bootstrap(ctx, cfg.Bot.AdminIDs); err != nil {
		return fmt.Errorf("bootstrap admins: %w", err)
	}
	if err := telegram.SetMenuCommands(api, cfg.Bot.AdminIDs); err != nil {
		logger.Warn().Err(err).Msg("could not publish menu commands")
	}

	facade := application.NewBotFacade(userUC, adminUC, lessonUC, paymentUC, broadcastUC, dialogUC, onboardingUC, statsUC, translator)

	// ---- Background work ----
	router := telegram.NewRouter(api, facade, gw, throttle, cfg.Bot, logger)
	runPool := worker.NewPool(cfg.Broadcast.ConcurrentRuns, logger)
	runner := worker.NewBroadcastRunner(jobRepo, outcomeRepo, userRepo, gw, cfg.Broadcast, logger)
	scheduler := sched.NewBroadcastScheduler(jobRepo, runner, runPool, cfg.Broadcast, logger)
	reconciler := sched.NewDeliveryReconciler(purchaseRepo, paymentUC, locker, reconcileInterval, reconcileStale, logger)
	drip := sched.NewOnboardingWorker(progressRepo, onboardingUC, cfg.Onboarding.Tick(), logger)

	health := func(ctx context.Context) error {
		if err := pool.Ping(ctx); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		if redisClient != nil {
			if err := redisClient.Ping(ctx); err != nil {
				return fmt.Errorf("redis: %w", err)
			}
		}
		return nil
	}
	server := httpapi.NewServer(cfg.Admin, health, adminUC, broadcastUC, lessonUC, paymentUC, statsUC, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { pg.ReportPoolStats(gctx, pool, poolStatsEvery); return nil })
	g.Go(func() error { return router.Run(gctx) })
	g.Go(func() error { return scheduler.Run(gctx) })
	g.Go(func() error { return reconciler.Run(gctx) })
	if len(script) > 0 {
		g.Go(func() error { return drip.Run(gctx) })
	} else {
		logger.Info().Msg("no onboarding script; drip disabled")
	}
	g.Go(func() error { return server.Run(gctx) })

	logger.Info().Str("http", cfg.Admin.HTTPAddr).Int("runs", cfg.Broadcast.ConcurrentRuns).Msg("bot is running")
	return g.Wait()
}
