package sched

import (
	"context"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"telegram-lessons-bot/internal/config"
	"telegram-lessons-bot/internal/domain"
	"telegram-lessons-bot/internal/domain/model"
	"telegram-lessons-bot/internal/domain/ports/repository"
	"telegram-lessons-bot/internal/infra/metrics"
	"telegram-lessons-bot/internal/infra/worker"
)

// JobRunner executes one claimed broadcast job.
type JobRunner interface {
	Execute(ctx context.Context, job *model.BroadcastJob) error
}

// BroadcastScheduler claims due broadcast jobs and hands each winner to a
// run slot. Claims are a compare-and-set in the store, so any number of
// schedulers may share one database.
type BroadcastScheduler struct {
	jobs   repository.BroadcastJobRepository
	runner JobRunner
	pool   *worker.Pool

	interval    time.Duration
	grace       time.Duration
	maxReclaims int

	now      func() time.Time
	newRunID func() string
	log      *zerolog.Logger
}

func NewBroadcastScheduler(
	jobs repository.BroadcastJobRepository,
	runner JobRunner,
	pool *worker.Pool,
	cfg config.BroadcastConfig,
	logger *zerolog.Logger,
) *BroadcastScheduler {
	l := logger.With().Str("component", "BroadcastScheduler").Logger()
	interval := cfg.Tick()
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &BroadcastScheduler{
		jobs:        jobs,
		runner:      runner,
		pool:        pool,
		interval:    interval,
		grace:       cfg.ReclaimGrace(),
		maxReclaims: cfg.MaxReclaims,
		now:         func() time.Time { return time.Now().UTC() },
		newRunID:    func() string { return ulid.Make().String() },
		log:         &l,
	}
}

// sweepEvery is half the grace, at least a minute.
func (s *BroadcastScheduler) sweepEvery() time.Duration {
	if d := s.grace / 2; d > time.Minute {
		return d
	}
	return time.Minute
}

// Run sweeps stuck jobs, then claims due jobs every tick until ctx is
// cancelled. On shutdown it stops claiming and waits for running jobs to
// checkpoint.
func (s *BroadcastScheduler) Run(ctx context.Context) error {
	s.log.Info().Dur("tick", s.interval).Dur("reclaim_after", s.grace).Msg("Starting broadcast scheduler")
	s.Recover(ctx)
	s.Tick(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	sweep := time.NewTicker(s.sweepEvery())
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("Stopping broadcast scheduler, waiting for runs")
			s.pool.Wait()
			return nil
		case <-sweep.C:
			s.Recover(ctx)
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Recover returns running jobs without a recent heartbeat to waiting, or
// fails them once they were reclaimed too often.
func (s *BroadcastScheduler) Recover(ctx context.Context) (reclaimed, failed int) {
	if s.grace <= 0 {
		return 0, 0
	}
	back, dead, err := s.jobs.ReclaimStale(ctx, repository.NoTX, s.now().Add(-s.grace), s.maxReclaims)
	if err != nil {
		s.log.Error().Err(err).Msg("reclaim stale jobs")
		return 0, 0
	}
	for _, id := range back {
		metrics.IncBroadcastReclaim("requeued")
		s.log.Warn().Int64("job_id", id).Msg("stale broadcast job requeued")
	}
	for _, id := range dead {
		metrics.IncBroadcastReclaim("failed")
		s.log.Error().Int64("job_id", id).Msg("broadcast job failed after too many reclaims")
	}
	return len(back), len(dead)
}

// Tick claims at most as many due jobs as there are free run slots and
// starts the ones it won.
func (s *BroadcastScheduler) Tick(ctx context.Context) (started int) {
	free := s.pool.Free()
	if free == 0 || ctx.Err() != nil {
		return 0
	}
	now := s.now()
	due, err := s.jobs.ListDue(ctx, repository.NoTX, now, free)
	if err != nil {
		s.log.Error().Err(err).Msg("list due jobs")
		return 0
	}
	for _, j := range due {
		if ctx.Err() != nil {
			break
		}
		job, err := s.jobs.Claim(ctx, repository.NoTX, j.ID, s.newRunID(), now)
		if errors.Is(err, domain.ErrJobNotWaiting) {
			metrics.IncBroadcastClaim("lost")
			continue
		}
		if err != nil {
			metrics.IncBroadcastClaim("error")
			s.log.Error().Err(err).Int64("job_id", j.ID).Msg("claim job")
			continue
		}
		metrics.IncBroadcastClaim("won")

		if err := s.pool.Submit(ctx, func(ctx context.Context) error {
			return s.runner.Execute(ctx, job)
		}); err != nil {
			// the claimed job has no heartbeat and returns through the sweep
			s.log.Error().Err(err).Int64("job_id", job.ID).Msg("no slot for claimed job")
			continue
		}
		started++
		s.log.Info().Int64("job_id", job.ID).Str("run_id", job.RunID).Msg("broadcast job claimed")
	}
	return started
}
