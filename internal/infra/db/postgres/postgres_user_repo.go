package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"

	"telegram-lessons-bot/internal/domain"
	"telegram-lessons-bot/internal/domain/model"
	"telegram-lessons-bot/internal/domain/ports/repository"
)

var _ repository.UserRepository = (*PostgresUserRepo)(nil)

type PostgresUserRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresUserRepo(pool *pgxpool.Pool) *PostgresUserRepo {
	return &PostgresUserRepo{pool: pool}
}

const userColumns = `id, telegram_id, username, display_name, language, registered_at, last_active_at,
       active, deactivated_at, banned, total_spent`

func scanUser(row interface{ Scan(dest ...interface{}) error }, extra ...interface{}) (*model.User, error) {
	var u model.User
	dest := []interface{}{&u.ID, &u.TelegramID, &u.Username, &u.DisplayName, &u.Language, &u.RegisteredAt,
		&u.LastActiveAt, &u.Active, &u.DeactivatedAt, &u.Banned, &u.TotalSpent}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	return &u, nil
}

// Upsert registers the user or refreshes profile and activity. A user who
// writes to the bot again is reachable, so the row is reactivated.
func (r *PostgresUserRepo) Upsert(ctx context.Context, tx repository.Tx, u *model.User) (*model.User, bool, error) {
	const q = `
INSERT INTO users (telegram_id, username, display_name, language, registered_at, last_active_at, active)
VALUES ($1, $2, $3, COALESCE(NULLIF($4, ''), 'en'), $5, $5, TRUE)
ON CONFLICT (telegram_id) DO UPDATE SET
  username       = CASE WHEN EXCLUDED.username <> '' THEN EXCLUDED.username ELSE users.username END,
  display_name   = CASE WHEN EXCLUDED.display_name <> '' THEN EXCLUDED.display_name ELSE users.display_name END,
  language       = CASE WHEN $4 <> '' THEN $4 ELSE users.language END,
  last_active_at = EXCLUDED.last_active_at,
  active         = TRUE,
  deactivated_at = NULL
RETURNING ` + userColumns + `, (xmax = 0) AS inserted;`

	now := u.LastActiveAt
	if now.IsZero() {
		now = time.Now().UTC()
	}
	row, err := pickRow(ctx, r.pool, tx, q, u.TelegramID, u.Username, u.DisplayName, u.Language, now)
	if err != nil {
		return nil, false, err
	}
	var inserted bool
	stored, err := scanUser(row, &inserted)
	if err != nil {
		return nil, false, mapErr(err)
	}
	return stored, inserted, nil
}

func (r *PostgresUserRepo) FindByTelegramID(ctx context.Context, tx repository.Tx, tgID int64) (*model.User, error) {
	q := `SELECT ` + userColumns + ` FROM users WHERE telegram_id=$1`
	if inTx(tx) {
		q += " FOR UPDATE"
	}
	row, err := pickRow(ctx, r.pool, tx, q, tgID)
	if err != nil {
		return nil, err
	}
	u, err := scanUser(row)
	if err != nil {
		return nil, mapErr(err)
	}
	return u, nil
}

func (r *PostgresUserRepo) FindByID(ctx context.Context, tx repository.Tx, id int64) (*model.User, error) {
	row, err := pickRow(ctx, r.pool, tx, `SELECT `+userColumns+` FROM users WHERE id=$1;`, id)
	if err != nil {
		return nil, err
	}
	u, err := scanUser(row)
	if err != nil {
		return nil, mapErr(err)
	}
	return u, nil
}

// LockByTelegramID serializes concurrent payment work for one user.
func (r *PostgresUserRepo) LockByTelegramID(ctx context.Context, tx repository.Tx, tgID int64) (*model.User, error) {
	if !inTx(tx) {
		return nil, domain.ErrInvalidExecContext
	}
	return r.FindByTelegramID(ctx, tx, tgID)
}

func (r *PostgresUserRepo) AddSpent(ctx context.Context, tx repository.Tx, userID int64, delta int64) error {
	const q = `UPDATE users SET total_spent = total_spent + $2 WHERE id=$1 AND total_spent + $2 >= 0;`
	cmd, err := execSQL(ctx, r.pool, tx, q, userID, delta)
	if err != nil {
		return mapErr(err)
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *PostgresUserRepo) Deactivate(ctx context.Context, tx repository.Tx, userID int64, at time.Time) error {
	const q = `UPDATE users SET active=FALSE, deactivated_at=COALESCE(deactivated_at, $2) WHERE id=$1;`
	_, err := execSQL(ctx, r.pool, tx, q, userID, at)
	return mapErr(err)
}

func (r *PostgresUserRepo) Reactivate(ctx context.Context, tx repository.Tx, userID int64) error {
	const q = `UPDATE users SET active=TRUE, deactivated_at=NULL WHERE id=$1;`
	_, err := execSQL(ctx, r.pool, tx, q, userID)
	return mapErr(err)
}

func (r *PostgresUserRepo) SetBanned(ctx context.Context, tx repository.Tx, tgID int64, banned bool) error {
	cmd, err := execSQL(ctx, r.pool, tx, `UPDATE users SET banned=$2 WHERE telegram_id=$1;`, tgID, banned)
	if err != nil {
		return mapErr(err)
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *PostgresUserRepo) MaxID(ctx context.Context, tx repository.Tx) (int64, error) {
	row, err := pickRow(ctx, r.pool, tx, `SELECT COALESCE(MAX(id), 0) FROM users;`)
	if err != nil {
		return 0, err
	}
	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, domain.ErrReadDatabaseRow
	}
	return id, nil
}

func (r *PostgresUserRepo) CountUsers(ctx context.Context, tx repository.Tx) (int, error) {
	return r.count(ctx, tx, `SELECT COUNT(*) FROM users;`)
}

func (r *PostgresUserRepo) CountActive(ctx context.Context, tx repository.Tx) (int, error) {
	return r.count(ctx, tx, `SELECT COUNT(*) FROM users WHERE active;`)
}

func (r *PostgresUserRepo) count(ctx context.Context, tx repository.Tx, q string) (int, error) {
	row, err := pickRow(ctx, r.pool, tx, q)
	if err != nil {
		return 0, err
	}
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, domain.ErrReadDatabaseRow
	}
	return n, nil
}

// ListRecipients pages the run audience: users that existed when the run
// first started (id <= maxID) and were active then.
func (r *PostgresUserRepo) ListRecipients(ctx context.Context, tx repository.Tx, afterID, maxID int64, startedAt time.Time, limit int) ([]model.Recipient, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `
SELECT id, telegram_id FROM users
 WHERE id > $1 AND id <= $2
   AND (active OR deactivated_at >= $3)
 ORDER BY id ASC
 LIMIT $4;`
	rows, err := queryRows(ctx, r.pool, tx, q, afterID, maxID, startedAt, limit)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	out := make([]model.Recipient, 0, limit)
	for rows.Next() {
		var rc model.Recipient
		if err := rows.Scan(&rc.UserID, &rc.TelegramID); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, rc)
	}
	return out, mapErr(rows.Err())
}
