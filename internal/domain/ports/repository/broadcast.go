package repository

import (
	"context"
	"time"

	"telegram-lessons-bot/internal/domain/model"
)

// -----------------------------
// Broadcast jobs & outcomes
// -----------------------------

type BroadcastJobRepository interface {
	Create(ctx context.Context, tx Tx, j *model.BroadcastJob) error
	FindByID(ctx context.Context, tx Tx, id int64) (*model.BroadcastJob, error)
	// ListDue returns waiting jobs with fire_at <= now, oldest first.
	ListDue(ctx context.Context, tx Tx, now time.Time, limit int) ([]*model.BroadcastJob, error)
	ListRecent(ctx context.Context, tx Tx, limit int) ([]*model.BroadcastJob, error)
	// Claim moves a waiting job to running in one statement. It returns
	// domain.ErrJobNotWaiting when another writer won.
	Claim(ctx context.Context, tx Tx, id int64, runID string, now time.Time) (*model.BroadcastJob, error)
	// Checkpoint advances the cursor and heartbeat; fenced by runID.
	Checkpoint(ctx context.Context, tx Tx, id int64, runID string, cursor int64, delivered, failed int, now time.Time) error
	// Finish moves a running job to done or failed; fenced by runID.
	Finish(ctx context.Context, tx Tx, id int64, runID string, status model.JobStatus, reason string, now time.Time) error
	// Cancel moves a waiting job to cancelled.
	Cancel(ctx context.Context, tx Tx, id int64) error
	// ReclaimStale returns running jobs whose heartbeat is older than staleBefore
	// to waiting, or fails them once reclaim_count reached maxReclaims.
	ReclaimStale(ctx context.Context, tx Tx, staleBefore time.Time, maxReclaims int) (reclaimed, failed []int64, err error)
}

type BroadcastOutcomeRepository interface {
	// Record upserts the outcome for (job, user); attempts accumulate.
	Record(ctx context.Context, tx Tx, o *model.BroadcastOutcome) error
	// DeliveredAmong returns which of userIDs already have a delivered outcome.
	DeliveredAmong(ctx context.Context, tx Tx, jobID int64, userIDs []int64) (map[int64]bool, error)
	Stats(ctx context.Context, tx Tx, jobID int64) (*model.BroadcastStats, error)
}
