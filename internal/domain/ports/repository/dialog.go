package repository

import (
	"context"

	"telegram-lessons-bot/internal/domain/model"
)

// -----------------------------
// Admin dialogs
// -----------------------------

// DialogRepository persists admin dialog state so authoring survives restarts.
type DialogRepository interface {
	Get(ctx context.Context, tx Tx, tgID int64) (*model.Dialog, error)
	Save(ctx context.Context, tx Tx, d *model.Dialog) error
	Clear(ctx context.Context, tx Tx, tgID int64) error
}
