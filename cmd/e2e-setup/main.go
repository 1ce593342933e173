package main

import (
	"context"
	"time"

	"telegram-lessons-bot/internal/config"
	"telegram-lessons-bot/internal/infra/db/postgres"
	"telegram-lessons-bot/internal/infra/logging"
	"telegram-lessons-bot/internal/infra/redis"
	"telegram-lessons-bot/internal/usecase"
)

// This script is for setting up a clean, predictable database state
// for manual end-to-end testing.
func main() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	cfg, err := config.LoadConfig()
	if err != nil {
		panic(err)
	}
	log := logging.New(cfg.Log, true)

	if err := postgres.RunMigrations(cfg.Database.URL); err != nil {
		log.Fatal().Err(err).Msg("migrations failed")
	}
	pool, err := postgres.Connect(ctx, cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("postgres connection failed")
	}
	defer pool.Close()

	log.Info().Msg("--- Starting E2E Environment Setup ---")

	// 1. Redis holds the throttle windows, the lesson cache and the
	// reconciler lock; all of it is disposable.
	if cfg.Redis.URL != "" {
		log.Info().Msg("[1/4] Wiping Redis...")
		redisClient, err := redis.NewClient(ctx, cfg.Redis)
		if err != nil {
			log.Fatal().Err(err).Msg("redis connection failed")
		}
		defer redisClient.Close()
		if err := redisClient.FlushDB(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to flush redis")
		}
	} else {
		log.Info().Msg("[1/4] REDIS_URL empty, skipping")
	}

	// 2. Clean the database completely.
	log.Info().Msg("[2/4] Wiping all existing database data...")
	_, err = pool.Exec(ctx, `
		TRUNCATE
			onboarding_progress, admin_dialogs, broadcast_outcomes, broadcast_jobs,
			admins, purchases, lessons, categories, users
		RESTART IDENTITY CASCADE;
	`)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to truncate tables")
	}

	// 3. Admins from ADMIN_IDS, so the tester can use /broadcast right away.
	log.Info().Msg("[3/4] Bootstrapping admins...")
	adminUC := usecase.NewAdminUseCase(postgres.NewAdminRepo(pool), log)
	if err := adminUC.Bootstrap(ctx, cfg.Bot.AdminIDs); err != nil {
		log.Fatal().Err(err).Msg("bootstrap admins")
	}

	// 4. One free and one paid lesson.
	log.Info().Msg("[4/4] Seeding a free and a paid lesson...")
	seedLessons(ctx, usecase.NewLessonUseCase(postgres.NewLessonRepo(pool), postgres.NewCategoryRepo(pool), log))

	log.Info().Msg("--- E2E Environment Setup Complete ---")
}
