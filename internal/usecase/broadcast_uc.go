package usecase

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"telegram-lessons-bot/internal/domain/model"
	"telegram-lessons-bot/internal/domain/ports/repository"
)

var _ BroadcastUseCase = (*broadcastUC)(nil)

// BroadcastUseCase authors and inspects broadcast jobs. Delivery itself is
// the scheduler's business.
type BroadcastUseCase interface {
	Schedule(ctx context.Context, createdBy int64, draft model.BroadcastDraft) (*model.BroadcastJob, error)
	Cancel(ctx context.Context, id int64) error
	List(ctx context.Context, limit int) ([]*model.BroadcastJob, error)
	Get(ctx context.Context, id int64) (*model.BroadcastJob, *model.BroadcastStats, error)
}

type broadcastUC struct {
	jobs     repository.BroadcastJobRepository
	outcomes repository.BroadcastOutcomeRepository
	log      *zerolog.Logger
}

func NewBroadcastUseCase(jobs repository.BroadcastJobRepository, outcomes repository.BroadcastOutcomeRepository, logger *zerolog.Logger) *broadcastUC {
	return &broadcastUC{jobs: jobs, outcomes: outcomes, log: logger}
}

// Schedule persists the draft as a waiting job. A fire time in the past means
// "as soon as the scheduler ticks".
func (uc *broadcastUC) Schedule(ctx context.Context, createdBy int64, draft model.BroadcastDraft) (*model.BroadcastJob, error) {
	fireAt := draft.FireAt
	if fireAt.IsZero() {
		fireAt = time.Now()
	}
	job, err := model.NewBroadcastJob(fireAt, draft.SourceChatID, draft.SourceMessageID, draft.Keyboard, createdBy)
	if err != nil {
		return nil, err
	}
	if err := uc.jobs.Create(ctx, repository.NoTX, job); err != nil {
		uc.log.Error().Err(err).Msg("failed to create broadcast job")
		return nil, err
	}
	uc.log.Info().
		Int64("job_id", job.ID).
		Time("fire_at", job.FireAt).
		Int64("created_by", createdBy).
		Msg("broadcast scheduled")
	return job, nil
}

func (uc *broadcastUC) Cancel(ctx context.Context, id int64) error {
	if err := uc.jobs.Cancel(ctx, repository.NoTX, id); err != nil {
		return err
	}
	uc.log.Info().Int64("job_id", id).Msg("broadcast cancelled")
	return nil
}

func (uc *broadcastUC) List(ctx context.Context, limit int) ([]*model.BroadcastJob, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return uc.jobs.ListRecent(ctx, repository.NoTX, limit)
}

func (uc *broadcastUC) Get(ctx context.Context, id int64) (*model.BroadcastJob, *model.BroadcastStats, error) {
	job, err := uc.jobs.FindByID(ctx, repository.NoTX, id)
	if err != nil {
		return nil, nil, err
	}
	stats, err := uc.outcomes.Stats(ctx, repository.NoTX, id)
	if err != nil {
		return nil, nil, err
	}
	return job, stats, nil
}
