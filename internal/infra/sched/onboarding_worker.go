package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"telegram-lessons-bot/internal/domain/ports/repository"
	uc "telegram-lessons-bot/internal/domain/ports/usecase"
)

const (
	onboardingBatch = 50
	// onboardingLease hides claimed rows from other workers; a step that
	// fails transiently is retried once the lease runs out.
	onboardingLease = 2 * time.Minute
)

// OnboardingWorker sends due drip steps.
type OnboardingWorker struct {
	progress repository.OnboardingRepository
	stepper  uc.OnboardingStepper
	interval time.Duration
	now      func() time.Time
	log      *zerolog.Logger
}

func NewOnboardingWorker(progress repository.OnboardingRepository, stepper uc.OnboardingStepper, interval time.Duration, logger *zerolog.Logger) *OnboardingWorker {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	l := logger.With().Str("component", "OnboardingWorker").Logger()
	return &OnboardingWorker{
		progress: progress,
		stepper:  stepper,
		interval: interval,
		now:      func() time.Time { return time.Now().UTC() },
		log:      &l,
	}
}

func (w *OnboardingWorker) Run(ctx context.Context) error {
	w.log.Info().Dur("interval", w.interval).Msg("Starting onboarding worker")
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping onboarding worker")
			return nil
		case <-t.C:
			w.Tick(ctx)
		}
	}
}

// Tick claims one batch of due rows and sends their next step. It returns
// how many steps went out without error.
func (w *OnboardingWorker) Tick(ctx context.Context) int {
	due, err := w.progress.ClaimDue(ctx, repository.NoTX, w.now(), onboardingLease, onboardingBatch)
	if err != nil {
		w.log.Error().Err(err).Msg("claim due onboarding rows")
		return 0
	}
	sent := 0
	for _, p := range due {
		if ctx.Err() != nil {
			break
		}
		if err := w.stepper.SendStep(ctx, p); err != nil {
			w.log.Warn().Err(err).Int64("user_id", p.UserID).Int("step", p.Step).Msg("onboarding step will be retried")
			continue
		}
		sent++
	}
	if sent > 0 {
		w.log.Debug().Int("count", sent).Msg("onboarding steps processed")
	}
	return sent
}
