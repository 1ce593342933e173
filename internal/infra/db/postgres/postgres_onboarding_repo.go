package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"

	"telegram-lessons-bot/internal/domain"
	"telegram-lessons-bot/internal/domain/model"
	"telegram-lessons-bot/internal/domain/ports/repository"
)

var _ repository.OnboardingRepository = (*onboardingRepo)(nil)

type onboardingRepo struct{ pool *pgxpool.Pool }

func NewOnboardingRepo(pool *pgxpool.Pool) *onboardingRepo {
	return &onboardingRepo{pool: pool}
}

func (r *onboardingRepo) Enroll(ctx context.Context, tx repository.Tx, userID int64, nextAt time.Time) (bool, error) {
	const q = `
INSERT INTO onboarding_progress (user_id, step, next_at, done, updated_at)
VALUES ($1, 0, $2, FALSE, NOW())
ON CONFLICT (user_id) DO NOTHING;`
	cmd, err := execSQL(ctx, r.pool, tx, q, userID, nextAt)
	if err != nil {
		return false, mapErr(err)
	}
	return cmd.RowsAffected() == 1, nil
}

// ClaimDue leases due rows with SKIP LOCKED so parallel workers split the
// batch and counts the claim against the current step. A lease that expires
// (crash mid-send) makes the row due again.
func (r *onboardingRepo) ClaimDue(ctx context.Context, tx repository.Tx, now time.Time, lease time.Duration, limit int) ([]*model.OnboardingProgress, error) {
	if limit <= 0 {
		limit = 50
	}
	const q = `
WITH due AS (
  SELECT user_id FROM onboarding_progress
   WHERE NOT done AND next_at <= $1 AND (locked_until IS NULL OR locked_until < $1)
   ORDER BY next_at ASC
   LIMIT $3
   FOR UPDATE SKIP LOCKED
)
UPDATE onboarding_progress p
   SET locked_until = $2, attempts = p.attempts + 1, updated_at = $1
  FROM due, users u
 WHERE p.user_id = due.user_id AND u.id = p.user_id
RETURNING p.user_id, u.telegram_id, p.step, p.attempts, p.next_at, p.done, p.updated_at;`
	rows, err := queryRows(ctx, r.pool, tx, q, now, now.Add(lease), limit)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var out []*model.OnboardingProgress
	for rows.Next() {
		p := new(model.OnboardingProgress)
		if err := rows.Scan(&p.UserID, &p.TelegramID, &p.Step, &p.Attempts, &p.NextAt, &p.Done, &p.UpdatedAt); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, p)
	}
	return out, mapErr(rows.Err())
}

func (r *onboardingRepo) Advance(ctx context.Context, tx repository.Tx, userID int64, step int, nextAt time.Time) error {
	const q = `UPDATE onboarding_progress SET step=$2, next_at=$3, attempts=0, locked_until=NULL, updated_at=NOW() WHERE user_id=$1;`
	_, err := execSQL(ctx, r.pool, tx, q, userID, step, nextAt)
	return mapErr(err)
}

func (r *onboardingRepo) Complete(ctx context.Context, tx repository.Tx, userID int64) error {
	const q = `UPDATE onboarding_progress SET done=TRUE, locked_until=NULL, updated_at=NOW() WHERE user_id=$1;`
	_, err := execSQL(ctx, r.pool, tx, q, userID)
	return mapErr(err)
}
