package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"telegram-lessons-bot/internal/config"
	"telegram-lessons-bot/internal/domain"
	"telegram-lessons-bot/internal/domain/model"
	"telegram-lessons-bot/internal/domain/ports/adapter"
	"telegram-lessons-bot/internal/domain/ports/repository"
	"telegram-lessons-bot/internal/infra/logging"
	"telegram-lessons-bot/internal/infra/metrics"
)

const (
	recipientPageSize = 100
	// maxRateLimited is how many consecutive 429s one recipient may absorb
	// before the outcome is recorded as rate_limited.
	maxRateLimited = 10
	baseBackoff    = 500 * time.Millisecond
	// finalizeTimeout bounds checkpoint and finish writes made after shutdown.
	finalizeTimeout = 10 * time.Second
)

// ReasonSourceDeleted is stored on jobs whose source message disappeared.
const ReasonSourceDeleted = "source message deleted"

var errSourceMissing = errors.New("broadcast source message missing")

// BroadcastRunner copies one job's source message to every recipient of its
// audience snapshot. A run owns the job through its run id; losing the fence
// ends the run without touching the job.
type BroadcastRunner struct {
	jobs     repository.BroadcastJobRepository
	outcomes repository.BroadcastOutcomeRepository
	users    repository.UserRepository
	gw       adapter.TelegramGateway

	inFlight   int
	maxRetries int
	pageSize   int
	now        func() time.Time
	sleep      func(ctx context.Context, d time.Duration) error
	log        *zerolog.Logger
}

// NewBroadcastRunner expects gw to be the process-wide paced gateway.
func NewBroadcastRunner(
	jobs repository.BroadcastJobRepository,
	outcomes repository.BroadcastOutcomeRepository,
	users repository.UserRepository,
	gw adapter.TelegramGateway,
	cfg config.BroadcastConfig,
	logger *zerolog.Logger,
) *BroadcastRunner {
	l := logger.With().Str("component", "BroadcastRun").Logger()
	inFlight := cfg.InFlight
	if inFlight <= 0 {
		inFlight = 1
	}
	return &BroadcastRunner{
		jobs:       jobs,
		outcomes:   outcomes,
		users:      users,
		gw:         gw,
		inFlight:   inFlight,
		maxRetries: cfg.MaxRetries,
		pageSize:   recipientPageSize,
		now:        func() time.Time { return time.Now().UTC() },
		sleep:      sleepCtx,
		log:        &l,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// backoff is 500ms * 2^n.
func backoff(n int) time.Duration { return baseBackoff << uint(n) }

// runState is the progress of one run, shared by its in-flight sends.
type runState struct {
	job       *model.BroadcastJob
	cursor    int64
	delivered int
	failed    int
}

// Execute drives job, which must already be claimed, to a terminal state or
// until ctx is cancelled. After cancellation no new recipient is started,
// sends already in flight finish, and the cursor is checkpointed.
func (r *BroadcastRunner) Execute(ctx context.Context, job *model.BroadcastJob) error {
	ctx = logging.WithJob(ctx, job.ID, job.RunID)
	log := logging.With(ctx, r.log)
	defer logging.TraceDuration(log, "BroadcastRun.Execute")()

	metrics.RunStarted()
	defer metrics.RunFinished()

	st := &runState{job: job, cursor: job.CursorUserID, delivered: job.DeliveredCount, failed: job.FailedCount}
	startedAt := r.now()
	if job.StartedAt != nil {
		startedAt = *job.StartedAt
	}
	log.Info().Int64("cursor", st.cursor).Int64("audience_max", job.AudienceMaxUserID).Msg("broadcast run started")

	for {
		if ctx.Err() != nil {
			return r.interrupt(ctx, st, log)
		}
		page, err := r.users.ListRecipients(ctx, repository.NoTX, st.cursor, job.AudienceMaxUserID, startedAt, r.pageSize)
		if err != nil {
			if ctx.Err() != nil {
				return r.interrupt(ctx, st, log)
			}
			return r.fail(ctx, st, fmt.Sprintf("list recipients: %v", err), log)
		}
		if len(page) == 0 {
			return r.finish(ctx, st, log)
		}

		pageErr := r.runPage(ctx, st, page)

		if err := r.checkpoint(ctx, st); err != nil {
			if errors.Is(err, domain.ErrClaimLost) {
				metrics.IncBroadcastRun("claim_lost")
				log.Warn().Msg("run lost its claim, stopping")
				return nil
			}
			return r.fail(ctx, st, fmt.Sprintf("checkpoint: %v", err), log)
		}

		switch {
		case errors.Is(pageErr, errSourceMissing):
			return r.fail(ctx, st, ReasonSourceDeleted, log)
		case pageErr != nil && ctx.Err() != nil:
			// a query cut short by shutdown is not a job failure
			return r.interrupt(ctx, st, log)
		case pageErr != nil:
			return r.fail(ctx, st, pageErr.Error(), log)
		}
	}
}

// recipientResult is filled by the goroutine that handled the recipient.
type recipientResult struct {
	terminal  bool
	delivered bool
}

// runPage sends to the page with at most inFlight sends at once, then moves
// the cursor over the longest prefix of recipients that reached a terminal
// result. Recipients after a gap are retried by a later run.
func (r *BroadcastRunner) runPage(ctx context.Context, st *runState, page []model.Recipient) error {
	ids := make([]int64, len(page))
	for i, rc := range page {
		ids[i] = rc.UserID
	}
	already, err := r.outcomes.DeliveredAmong(ctx, repository.NoTX, st.job.ID, ids)
	if err != nil {
		return fmt.Errorf("load delivered outcomes: %w", err)
	}

	results := make([]recipientResult, len(page))
	var (
		stop     atomic.Bool
		fatalMu  sync.Mutex
		fatalErr error
	)
	// sends in flight outlive shutdown so each ends with a recorded outcome
	sendCtx := context.WithoutCancel(ctx)

	var g errgroup.Group
	g.SetLimit(r.inFlight)
	for i, rc := range page {
		if already[rc.UserID] {
			results[i] = recipientResult{terminal: true, delivered: true}
			continue
		}
		if stop.Load() || ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if stop.Load() || ctx.Err() != nil {
				return nil
			}
			delivered, err := r.deliver(sendCtx, st.job, rc)
			if err != nil {
				stop.Store(true)
				fatalMu.Lock()
				if fatalErr == nil || errors.Is(err, errSourceMissing) {
					fatalErr = err
				}
				fatalMu.Unlock()
				return nil
			}
			results[i] = recipientResult{terminal: true, delivered: delivered}
			return nil
		})
	}
	_ = g.Wait()

	for i, res := range results {
		if !res.terminal {
			break
		}
		st.cursor = page[i].UserID
		if res.delivered {
			st.delivered++
		} else {
			st.failed++
		}
	}
	return fatalErr
}

// deliver copies the source to one recipient, retrying rate limits and
// transient errors, and records the terminal outcome.
func (r *BroadcastRunner) deliver(ctx context.Context, job *model.BroadcastJob, rc model.Recipient) (bool, error) {
	var (
		res         model.SendResult
		attempts    int
		rateLimited int
		transient   int
	)
loop:
	for {
		attempts++
		res = r.gw.Copy(ctx, job.SourceChatID, job.SourceMessageID, rc.TelegramID, job.Keyboard)
		switch res.Kind {
		case model.ResultDelivered, model.ResultBlocked, model.ResultInvalidChat:
			break loop
		case model.ResultSourceMissing:
			return false, errSourceMissing
		case model.ResultRateLimited:
			// the paced gateway already paused every sender for retry_after
			rateLimited++
			if rateLimited >= maxRateLimited {
				break loop
			}
		default:
			if transient >= r.maxRetries {
				break loop
			}
			if err := r.sleep(ctx, backoff(transient)); err != nil {
				break loop
			}
			transient++
		}
	}

	now := r.now()
	outcome := res.Outcome()
	if err := r.outcomes.Record(ctx, repository.NoTX, &model.BroadcastOutcome{
		JobID:         job.ID,
		UserID:        rc.UserID,
		Attempts:      attempts,
		Result:        outcome,
		LastError:     res.Detail,
		LastAttemptAt: now,
	}); err != nil {
		return false, fmt.Errorf("record outcome for user %d: %w", rc.UserID, err)
	}
	metrics.IncBroadcastOutcome(string(outcome))

	if res.Kind == model.ResultBlocked || res.Kind == model.ResultInvalidChat {
		if err := r.users.Deactivate(ctx, repository.NoTX, rc.UserID, now); err != nil {
			r.log.Warn().Err(err).Int64("user_id", rc.UserID).Msg("failed to deactivate unreachable user")
		} else {
			metrics.IncUsersDeactivated()
		}
	}
	return res.OK(), nil
}

// finalCtx outlives run cancellation so the last writes still land.
func finalCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
}

func (r *BroadcastRunner) checkpoint(ctx context.Context, st *runState) error {
	cctx, cancel := finalCtx(ctx)
	defer cancel()
	return r.jobs.Checkpoint(cctx, repository.NoTX, st.job.ID, st.job.RunID, st.cursor, st.delivered, st.failed, r.now())
}

func (r *BroadcastRunner) finish(ctx context.Context, st *runState, log *zerolog.Logger) error {
	fctx, cancel := finalCtx(ctx)
	defer cancel()
	err := r.jobs.Finish(fctx, repository.NoTX, st.job.ID, st.job.RunID, model.JobDone, "", r.now())
	if errors.Is(err, domain.ErrClaimLost) {
		metrics.IncBroadcastRun("claim_lost")
		log.Warn().Msg("run lost its claim before finishing")
		return nil
	}
	if err != nil {
		return fmt.Errorf("finish job %d: %w", st.job.ID, err)
	}
	metrics.IncBroadcastRun(string(model.JobDone))
	log.Info().Int("delivered", st.delivered).Int("failed", st.failed).Msg("broadcast run done")
	return nil
}

// fail records reason on the job, best effort.
func (r *BroadcastRunner) fail(ctx context.Context, st *runState, reason string, log *zerolog.Logger) error {
	fctx, cancel := finalCtx(ctx)
	defer cancel()
	err := r.jobs.Finish(fctx, repository.NoTX, st.job.ID, st.job.RunID, model.JobFailed, reason, r.now())
	if errors.Is(err, domain.ErrClaimLost) {
		metrics.IncBroadcastRun("claim_lost")
		return nil
	}
	metrics.IncBroadcastRun(string(model.JobFailed))
	log.Error().Str("reason", reason).Int("delivered", st.delivered).Int("failed", st.failed).Msg("broadcast run failed")
	if err != nil {
		return fmt.Errorf("mark job %d failed (%s): %w", st.job.ID, reason, err)
	}
	return nil
}

// interrupt leaves the job running with its cursor saved; the recovery sweep
// or the next process picks it up.
func (r *BroadcastRunner) interrupt(ctx context.Context, st *runState, log *zerolog.Logger) error {
	err := r.checkpoint(ctx, st)
	if errors.Is(err, domain.ErrClaimLost) {
		metrics.IncBroadcastRun("claim_lost")
		return nil
	}
	metrics.IncBroadcastRun("interrupted")
	log.Info().Int64("cursor", st.cursor).Msg("broadcast run interrupted")
	return err
}
