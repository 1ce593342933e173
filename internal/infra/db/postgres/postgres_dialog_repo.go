package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"

	"telegram-lessons-bot/internal/domain"
	"telegram-lessons-bot/internal/domain/model"
	"telegram-lessons-bot/internal/domain/ports/repository"
)

var _ repository.DialogRepository = (*dialogRepo)(nil)

type dialogRepo struct{ pool *pgxpool.Pool }

func NewDialogRepo(pool *pgxpool.Pool) *dialogRepo {
	return &dialogRepo{pool: pool}
}

type dialogDraft struct {
	Broadcast model.BroadcastDraft `json:"broadcast"`
	Lesson    model.LessonDraft    `json:"lesson"`
}

// Get returns the admin's dialog; a missing row is an idle dialog.
func (r *dialogRepo) Get(ctx context.Context, tx repository.Tx, tgID int64) (*model.Dialog, error) {
	row, err := pickRow(ctx, r.pool, tx, `SELECT state, draft, updated_at FROM admin_dialogs WHERE telegram_id=$1;`, tgID)
	if err != nil {
		return nil, err
	}
	var state string
	var raw []byte
	d := &model.Dialog{TelegramID: tgID}
	if err := row.Scan(&state, &raw, &d.UpdatedAt); err != nil {
		if mapped := mapErr(err); mapped != domain.ErrNotFound {
			return nil, mapped
		}
		return d, nil
	}
	if d.State, err = model.ParseDialogState(state); err != nil {
		return nil, err
	}
	var draft dialogDraft
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &draft); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
	}
	d.Broadcast = draft.Broadcast
	d.Lesson = draft.Lesson
	return d, nil
}

func (r *dialogRepo) Save(ctx context.Context, tx repository.Tx, d *model.Dialog) error {
	raw, err := json.Marshal(dialogDraft{Broadcast: d.Broadcast, Lesson: d.Lesson})
	if err != nil {
		return domain.ErrInvalidArgument
	}
	d.UpdatedAt = time.Now().UTC()
	const q = `
INSERT INTO admin_dialogs (telegram_id, state, draft, updated_at) VALUES ($1, $2, $3, $4)
ON CONFLICT (telegram_id) DO UPDATE SET state=EXCLUDED.state, draft=EXCLUDED.draft, updated_at=EXCLUDED.updated_at;`
	_, err = execSQL(ctx, r.pool, tx, q, d.TelegramID, string(d.State), raw, d.UpdatedAt)
	return mapErr(err)
}

func (r *dialogRepo) Clear(ctx context.Context, tx repository.Tx, tgID int64) error {
	_, err := execSQL(ctx, r.pool, tx, `DELETE FROM admin_dialogs WHERE telegram_id=$1;`, tgID)
	return mapErr(err)
}
