package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"telegram-lessons-bot/internal/config"
	"telegram-lessons-bot/internal/domain/model"
	pg "telegram-lessons-bot/internal/infra/db/postgres"
	"telegram-lessons-bot/internal/infra/logging"
	"telegram-lessons-bot/internal/usecase"
)

// seed creates a small text-only catalog so the purchase flow can be tried
// end to end without uploading media first.
func main() {
	force := flag.Bool("force", false, "seed even when lessons already exist")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Log, true)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := pg.RunMigrations(cfg.Database.URL); err != nil {
		logger.Fatal().Err(err).Msg("migrations")
	}
	pool, err := pg.Connect(ctx, cfg.Database)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres")
	}
	defer pool.Close()

	lessonUC := usecase.NewLessonUseCase(pg.NewLessonRepo(pool), pg.NewCategoryRepo(pool), logger)

	existing, err := lessonUC.ListAll(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("list lessons")
	}
	if len(existing) > 0 && !*force {
		fmt.Printf("%d lessons already present. No changes.\n", len(existing))
		for _, l := range existing {
			fmt.Printf("  - #%d %s (price=%d, active=%t)\n", l.ID, l.Title, l.Price, l.Active)
		}
		return
	}

	basics, err := lessonUC.CreateCategory(ctx, "Basics")
	if err != nil {
		logger.Fatal().Err(err).Msg("create category")
	}
	seed := []model.Lesson{
		{Title: "Welcome", Description: "What this course covers", Price: 0,
			ContentText: "Welcome aboard. Start with the catalog and pick a lesson."},
		{Title: "Goroutines", Description: "Concurrency without threads", Price: 25, CategoryID: &basics.ID,
			ContentText: "A goroutine is a function running concurrently with others in the same address space."},
		{Title: "Channels", Description: "Talking between goroutines", Price: 50, CategoryID: &basics.ID,
			ContentText: "Channels are typed conduits. Unbuffered sends block until a receiver is ready."},
	}
	for i := range seed {
		l := seed[i]
		l.ContentType = model.ContentText
		l.Active = true
		if err := lessonUC.Create(ctx, &l); err != nil {
			logger.Fatal().Err(err).Str("title", l.Title).Msg("create lesson")
		}
		fmt.Printf("seeded: #%d %s (price=%d Stars)\n", l.ID, l.Title, l.Price)
	}
	fmt.Println("Seeding complete.")
}
