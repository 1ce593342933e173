package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"telegram-lessons-bot/internal/domain"
	"telegram-lessons-bot/internal/domain/model"
	"telegram-lessons-bot/internal/domain/ports/repository"
)

var (
	_ repository.BroadcastJobRepository     = (*broadcastJobRepo)(nil)
	_ repository.BroadcastOutcomeRepository = (*broadcastOutcomeRepo)(nil)
)

type broadcastJobRepo struct{ pool *pgxpool.Pool }

func NewBroadcastJobRepo(pool *pgxpool.Pool) *broadcastJobRepo {
	return &broadcastJobRepo{pool: pool}
}

const jobColumns = `id, fire_at, source_chat_id, source_message_id, keyboard, status, created_by, created_at,
       run_id, claimed_at, heartbeat_at, started_at, finished_at, cursor_user_id, audience_max_user_id,
       reclaim_count, delivered_count, failed_count, fail_reason`

func scanJob(row interface{ Scan(dest ...interface{}) error }) (*model.BroadcastJob, error) {
	var j model.BroadcastJob
	var kb []byte
	var status string
	if err := row.Scan(&j.ID, &j.FireAt, &j.SourceChatID, &j.SourceMessageID, &kb, &status, &j.CreatedBy, &j.CreatedAt,
		&j.RunID, &j.ClaimedAt, &j.HeartbeatAt, &j.StartedAt, &j.FinishedAt, &j.CursorUserID, &j.AudienceMaxUserID,
		&j.ReclaimCount, &j.DeliveredCount, &j.FailedCount, &j.FailReason); err != nil {
		return nil, err
	}
	j.Status = model.JobStatus(status)
	parsed, err := model.ParseKeyboard(kb)
	if err != nil {
		return nil, err
	}
	j.Keyboard = parsed
	return &j, nil
}

func keyboardJSON(kb model.Keyboard) ([]byte, error) {
	if kb == nil {
		return nil, nil
	}
	return json.Marshal(kb)
}

func (r *broadcastJobRepo) Create(ctx context.Context, tx repository.Tx, j *model.BroadcastJob) error {
	kb, err := keyboardJSON(j.Keyboard)
	if err != nil {
		return domain.ErrInvalidKeyboard
	}
	if j.CreatedAt.IsZero() {
		j.CreatedAt = time.Now().UTC()
	}
	const q = `
INSERT INTO broadcast_jobs (fire_at, source_chat_id, source_message_id, keyboard, status, created_by, created_at)
VALUES ($1, $2, $3, $4, 'waiting', $5, $6)
RETURNING id;`
	row, err := pickRow(ctx, r.pool, tx, q, j.FireAt.UTC(), j.SourceChatID, j.SourceMessageID, kb, j.CreatedBy, j.CreatedAt)
	if err != nil {
		return err
	}
	if err := row.Scan(&j.ID); err != nil {
		return mapErr(err)
	}
	j.Status = model.JobWaiting
	return nil
}

func (r *broadcastJobRepo) FindByID(ctx context.Context, tx repository.Tx, id int64) (*model.BroadcastJob, error) {
	row, err := pickRow(ctx, r.pool, tx, `SELECT `+jobColumns+` FROM broadcast_jobs WHERE id=$1;`, id)
	if err != nil {
		return nil, err
	}
	j, err := scanJob(row)
	if err != nil {
		return nil, mapErr(err)
	}
	return j, nil
}

func (r *broadcastJobRepo) ListDue(ctx context.Context, tx repository.Tx, now time.Time, limit int) ([]*model.BroadcastJob, error) {
	if limit <= 0 {
		return nil, nil
	}
	const q = `SELECT ` + jobColumns + ` FROM broadcast_jobs
 WHERE status='waiting' AND fire_at <= $1
 ORDER BY fire_at ASC, id ASC LIMIT $2;`
	return r.list(ctx, tx, q, now, limit)
}

func (r *broadcastJobRepo) ListRecent(ctx context.Context, tx repository.Tx, limit int) ([]*model.BroadcastJob, error) {
	if limit <= 0 {
		limit = 20
	}
	return r.list(ctx, tx, `SELECT `+jobColumns+` FROM broadcast_jobs ORDER BY id DESC LIMIT $1;`, limit)
}

// Claim is the compare-and-swap that makes scheduling safe across instances.
// The audience snapshot is fixed on the first claim and kept on reclaims.
func (r *broadcastJobRepo) Claim(ctx context.Context, tx repository.Tx, id int64, runID string, now time.Time) (*model.BroadcastJob, error) {
	const q = `
UPDATE broadcast_jobs
   SET status='running',
       run_id=$2,
       claimed_at=$3,
       heartbeat_at=$3,
       started_at=COALESCE(started_at, $3),
       audience_max_user_id=CASE WHEN started_at IS NULL
                                 THEN (SELECT COALESCE(MAX(id), 0) FROM users)
                                 ELSE audience_max_user_id END
 WHERE id=$1 AND status='waiting'
RETURNING ` + jobColumns + `;`
	row, err := pickRow(ctx, r.pool, tx, q, id, runID, now)
	if err != nil {
		return nil, err
	}
	j, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrJobNotWaiting
	}
	if err != nil {
		return nil, mapErr(err)
	}
	return j, nil
}

func (r *broadcastJobRepo) Checkpoint(ctx context.Context, tx repository.Tx, id int64, runID string, cursor int64, delivered, failed int, now time.Time) error {
	const q = `
UPDATE broadcast_jobs
   SET cursor_user_id=GREATEST(cursor_user_id, $3),
       delivered_count=$4,
       failed_count=$5,
       heartbeat_at=$6
 WHERE id=$1 AND run_id=$2 AND status='running';`
	cmd, err := execSQL(ctx, r.pool, tx, q, id, runID, cursor, delivered, failed, now)
	if err != nil {
		return mapErr(err)
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrClaimLost
	}
	return nil
}

func (r *broadcastJobRepo) Finish(ctx context.Context, tx repository.Tx, id int64, runID string, status model.JobStatus, reason string, now time.Time) error {
	if status != model.JobDone && status != model.JobFailed {
		return domain.ErrInvalidArgument
	}
	const q = `
UPDATE broadcast_jobs
   SET status=$3, fail_reason=$4, finished_at=$5, heartbeat_at=$5
 WHERE id=$1 AND run_id=$2 AND status='running';`
	cmd, err := execSQL(ctx, r.pool, tx, q, id, runID, string(status), reason, now)
	if err != nil {
		return mapErr(err)
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrClaimLost
	}
	return nil
}

func (r *broadcastJobRepo) Cancel(ctx context.Context, tx repository.Tx, id int64) error {
	cmd, err := execSQL(ctx, r.pool, tx, `UPDATE broadcast_jobs SET status='cancelled', finished_at=NOW() WHERE id=$1 AND status='waiting';`, id)
	if err != nil {
		return mapErr(err)
	}
	if cmd.RowsAffected() == 0 {
		if _, err := r.FindByID(ctx, tx, id); err != nil {
			return err
		}
		return domain.ErrJobNotWaiting
	}
	return nil
}

// ReclaimStale runs both transitions in one statement so a job is either
// reclaimed or failed, never both.
func (r *broadcastJobRepo) ReclaimStale(ctx context.Context, tx repository.Tx, staleBefore time.Time, maxReclaims int) ([]int64, []int64, error) {
	const q = `
UPDATE broadcast_jobs
   SET status       = CASE WHEN reclaim_count >= $2 THEN 'failed' ELSE 'waiting' END,
       reclaim_count = CASE WHEN reclaim_count >= $2 THEN reclaim_count ELSE reclaim_count + 1 END,
       fail_reason  = CASE WHEN reclaim_count >= $2 THEN 'reclaim limit reached' ELSE fail_reason END,
       finished_at  = CASE WHEN reclaim_count >= $2 THEN NOW() ELSE finished_at END,
       run_id       = ''
 WHERE status='running' AND COALESCE(heartbeat_at, claimed_at) < $1
RETURNING id, status;`
	rows, err := queryRows(ctx, r.pool, tx, q, staleBefore, maxReclaims)
	if err != nil {
		return nil, nil, mapErr(err)
	}
	defer rows.Close()
	var reclaimed, failed []int64
	for rows.Next() {
		var id int64
		var status string
		if err := rows.Scan(&id, &status); err != nil {
			return nil, nil, domain.ErrReadDatabaseRow
		}
		if model.JobStatus(status) == model.JobFailed {
			failed = append(failed, id)
		} else {
			reclaimed = append(reclaimed, id)
		}
	}
	return reclaimed, failed, mapErr(rows.Err())
}

func (r *broadcastJobRepo) list(ctx context.Context, tx repository.Tx, q string, args ...interface{}) ([]*model.BroadcastJob, error) {
	rows, err := queryRows(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var out []*model.BroadcastJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, j)
	}
	return out, mapErr(rows.Err())
}

type broadcastOutcomeRepo struct{ pool *pgxpool.Pool }

func NewBroadcastOutcomeRepo(pool *pgxpool.Pool) *broadcastOutcomeRepo {
	return &broadcastOutcomeRepo{pool: pool}
}

// Record upserts on (job_id, user_id). A delivered row is never downgraded,
// so a late duplicate classification cannot hide a successful send.
func (r *broadcastOutcomeRepo) Record(ctx context.Context, tx repository.Tx, o *model.BroadcastOutcome) error {
	if o.Attempts <= 0 {
		o.Attempts = 1
	}
	if o.LastAttemptAt.IsZero() {
		o.LastAttemptAt = time.Now().UTC()
	}
	const q = `
INSERT INTO broadcast_outcomes (job_id, user_id, attempts, last_result, last_error, last_attempt_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (job_id, user_id) DO UPDATE SET
  attempts        = broadcast_outcomes.attempts + EXCLUDED.attempts,
  last_result     = CASE WHEN broadcast_outcomes.last_result = 'delivered' THEN 'delivered' ELSE EXCLUDED.last_result END,
  last_error      = EXCLUDED.last_error,
  last_attempt_at = EXCLUDED.last_attempt_at;`
	_, err := execSQL(ctx, r.pool, tx, q, o.JobID, o.UserID, o.Attempts, string(o.Result), o.LastError, o.LastAttemptAt)
	return mapErr(err)
}

func (r *broadcastOutcomeRepo) DeliveredAmong(ctx context.Context, tx repository.Tx, jobID int64, userIDs []int64) (map[int64]bool, error) {
	out := make(map[int64]bool)
	if len(userIDs) == 0 {
		return out, nil
	}
	const q = `SELECT user_id FROM broadcast_outcomes WHERE job_id=$1 AND user_id = ANY($2) AND last_result='delivered';`
	rows, err := queryRows(ctx, r.pool, tx, q, jobID, userIDs)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out[id] = true
	}
	return out, mapErr(rows.Err())
}

func (r *broadcastOutcomeRepo) Stats(ctx context.Context, tx repository.Tx, jobID int64) (*model.BroadcastStats, error) {
	rows, err := queryRows(ctx, r.pool, tx, `SELECT last_result, COUNT(*) FROM broadcast_outcomes WHERE job_id=$1 GROUP BY last_result;`, jobID)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	st := &model.BroadcastStats{ByState: map[model.OutcomeResult]int{}}
	for rows.Next() {
		var res string
		var n int
		if err := rows.Scan(&res, &n); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		st.ByState[model.OutcomeResult(res)] = n
		st.Total += n
	}
	return st, mapErr(rows.Err())
}
