package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"telegram-lessons-bot/internal/domain"
	"telegram-lessons-bot/internal/domain/model"
	"telegram-lessons-bot/internal/domain/ports/repository"
)

var _ repository.PurchaseRepository = (*PostgresPurchaseRepo)(nil)

type PostgresPurchaseRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresPurchaseRepo(pool *pgxpool.Pool) *PostgresPurchaseRepo {
	return &PostgresPurchaseRepo{pool: pool}
}

const purchaseColumns = `id, user_id, lesson_id, charge_id, amount, currency, status, purchased_at, delivered_at, refunded_at, note`

func scanPurchase(row interface{ Scan(dest ...interface{}) error }) (*model.Purchase, error) {
	var p model.Purchase
	var status string
	if err := row.Scan(&p.ID, &p.UserID, &p.LessonID, &p.ChargeID, &p.Amount, &p.Currency, &status,
		&p.PurchasedAt, &p.DeliveredAt, &p.RefundedAt, &p.Note); err != nil {
		return nil, err
	}
	p.Status = model.PurchaseStatus(status)
	return &p, nil
}

// Insert relies on the charge_id unique index: a replayed charge inserts
// nothing and reports inserted=false.
func (r *PostgresPurchaseRepo) Insert(ctx context.Context, tx repository.Tx, p *model.Purchase) (bool, error) {
	if p.PurchasedAt.IsZero() {
		p.PurchasedAt = time.Now().UTC()
	}
	if p.Currency == "" {
		p.Currency = model.StarsCurrency
	}
	const q = `
INSERT INTO purchases (user_id, lesson_id, charge_id, amount, currency, status, purchased_at, note)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (charge_id) DO NOTHING
RETURNING id;`
	row, err := pickRow(ctx, r.pool, tx, q, p.UserID, p.LessonID, p.ChargeID, p.Amount, p.Currency, string(p.Status), p.PurchasedAt, p.Note)
	if err != nil {
		return false, err
	}
	if err := row.Scan(&p.ID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, mapErr(err)
	}
	return true, nil
}

func (r *PostgresPurchaseRepo) FindByChargeID(ctx context.Context, tx repository.Tx, chargeID string) (*model.Purchase, error) {
	q := `SELECT ` + purchaseColumns + ` FROM purchases WHERE charge_id=$1`
	if inTx(tx) {
		q += " FOR UPDATE"
	}
	row, err := pickRow(ctx, r.pool, tx, q, chargeID)
	if err != nil {
		return nil, err
	}
	p, err := scanPurchase(row)
	if err != nil {
		return nil, mapErr(err)
	}
	return p, nil
}

func (r *PostgresPurchaseRepo) HasCompleted(ctx context.Context, tx repository.Tx, userID, lessonID int64) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM purchases WHERE user_id=$1 AND lesson_id=$2 AND status='completed');`
	row, err := pickRow(ctx, r.pool, tx, q, userID, lessonID)
	if err != nil {
		return false, err
	}
	var ok bool
	if err := row.Scan(&ok); err != nil {
		return false, domain.ErrReadDatabaseRow
	}
	return ok, nil
}

func (r *PostgresPurchaseRepo) ListCompletedByUser(ctx context.Context, tx repository.Tx, userID int64) ([]*model.Purchase, error) {
	const q = `SELECT ` + purchaseColumns + ` FROM purchases WHERE user_id=$1 AND status='completed' ORDER BY purchased_at DESC;`
	return r.list(ctx, tx, q, userID)
}

func (r *PostgresPurchaseRepo) MarkRefunded(ctx context.Context, tx repository.Tx, chargeID string, at time.Time) (bool, error) {
	const q = `UPDATE purchases SET status='refunded', refunded_at=$2 WHERE charge_id=$1 AND status='completed';`
	cmd, err := execSQL(ctx, r.pool, tx, q, chargeID, at)
	if err != nil {
		return false, mapErr(err)
	}
	return cmd.RowsAffected() == 1, nil
}

func (r *PostgresPurchaseRepo) MarkDelivered(ctx context.Context, tx repository.Tx, id int64, at time.Time) error {
	const q = `UPDATE purchases SET delivered_at=COALESCE(delivered_at, $2) WHERE id=$1;`
	_, err := execSQL(ctx, r.pool, tx, q, id, at)
	return mapErr(err)
}

// ListUndelivered returns completed purchases whose content never reached the
// buyer, oldest first. Buyers the bot cannot reach are skipped until they
// come back.
func (r *PostgresPurchaseRepo) ListUndelivered(ctx context.Context, tx repository.Tx, olderThan time.Time, limit int) ([]*model.Purchase, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `SELECT p.id, p.user_id, p.lesson_id, p.charge_id, p.amount, p.currency, p.status,
       p.purchased_at, p.delivered_at, p.refunded_at, p.note
  FROM purchases p JOIN users u ON u.id = p.user_id
 WHERE p.status='completed' AND p.delivered_at IS NULL AND p.purchased_at < $1 AND u.active
 ORDER BY p.purchased_at ASC LIMIT $2;`
	return r.list(ctx, tx, q, olderThan, limit)
}

func (r *PostgresPurchaseRepo) SumCompleted(ctx context.Context, tx repository.Tx) (int64, error) {
	row, err := pickRow(ctx, r.pool, tx, `SELECT COALESCE(SUM(amount),0) FROM purchases WHERE status='completed';`)
	if err != nil {
		return 0, err
	}
	var sum int64
	if err := row.Scan(&sum); err != nil {
		return 0, domain.ErrReadDatabaseRow
	}
	return sum, nil
}

func (r *PostgresPurchaseRepo) CountCompleted(ctx context.Context, tx repository.Tx) (int, error) {
	row, err := pickRow(ctx, r.pool, tx, `SELECT COUNT(*) FROM purchases WHERE status='completed';`)
	if err != nil {
		return 0, err
	}
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, domain.ErrReadDatabaseRow
	}
	return n, nil
}

func (r *PostgresPurchaseRepo) list(ctx context.Context, tx repository.Tx, q string, args ...interface{}) ([]*model.Purchase, error) {
	rows, err := queryRows(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var out []*model.Purchase
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, p)
	}
	return out, mapErr(rows.Err())
}
