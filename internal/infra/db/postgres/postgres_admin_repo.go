package postgres

import (
	"context"

	"github.com/jackc/pgx/v4/pgxpool"

	"telegram-lessons-bot/internal/domain"
	"telegram-lessons-bot/internal/domain/model"
	"telegram-lessons-bot/internal/domain/ports/repository"
)

var _ repository.AdminRepository = (*adminRepo)(nil)

type adminRepo struct{ pool *pgxpool.Pool }

func NewAdminRepo(pool *pgxpool.Pool) *adminRepo {
	return &adminRepo{pool: pool}
}

func scanAdmin(row interface{ Scan(dest ...interface{}) error }) (*model.Admin, error) {
	var a model.Admin
	var perms []string
	if err := row.Scan(&a.TelegramID, &a.Username, &perms, &a.Active, &a.LastLoginAt); err != nil {
		return nil, err
	}
	a.Permissions = make([]model.Permission, 0, len(perms))
	for _, p := range perms {
		a.Permissions = append(a.Permissions, model.Permission(p))
	}
	return &a, nil
}

func (r *adminRepo) FindByTelegramID(ctx context.Context, tx repository.Tx, tgID int64) (*model.Admin, error) {
	const q = `SELECT telegram_id, username, permissions, active, last_login_at FROM admins WHERE telegram_id=$1;`
	row, err := pickRow(ctx, r.pool, tx, q, tgID)
	if err != nil {
		return nil, err
	}
	a, err := scanAdmin(row)
	if err != nil {
		return nil, mapErr(err)
	}
	return a, nil
}

func (r *adminRepo) Upsert(ctx context.Context, tx repository.Tx, a *model.Admin) error {
	if a.TelegramID <= 0 {
		return domain.ErrInvalidArgument
	}
	perms := make([]string, 0, len(a.Permissions))
	for _, p := range a.Permissions {
		perms = append(perms, string(p))
	}
	const q = `
INSERT INTO admins (telegram_id, username, permissions, active)
VALUES ($1, $2, $3, $4)
ON CONFLICT (telegram_id) DO UPDATE SET
  username    = CASE WHEN EXCLUDED.username <> '' THEN EXCLUDED.username ELSE admins.username END,
  permissions = EXCLUDED.permissions,
  active      = EXCLUDED.active;`
	_, err := execSQL(ctx, r.pool, tx, q, a.TelegramID, a.Username, perms, a.Active)
	return mapErr(err)
}

func (r *adminRepo) TouchLogin(ctx context.Context, tx repository.Tx, tgID int64) error {
	_, err := execSQL(ctx, r.pool, tx, `UPDATE admins SET last_login_at=NOW() WHERE telegram_id=$1;`, tgID)
	return mapErr(err)
}

func (r *adminRepo) ListActive(ctx context.Context, tx repository.Tx) ([]*model.Admin, error) {
	const q = `SELECT telegram_id, username, permissions, active, last_login_at FROM admins WHERE active ORDER BY telegram_id;`
	rows, err := queryRows(ctx, r.pool, tx, q)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var out []*model.Admin
	for rows.Next() {
		a, err := scanAdmin(rows)
		if err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, a)
	}
	return out, mapErr(rows.Err())
}
