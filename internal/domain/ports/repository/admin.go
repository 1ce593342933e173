package repository

import (
	"context"

	"telegram-lessons-bot/internal/domain/model"
)

// -----------------------------
// Admins
// -----------------------------

type AdminRepository interface {
	FindByTelegramID(ctx context.Context, tx Tx, tgID int64) (*model.Admin, error)
	// Upsert makes the admin active with the given permissions.
	Upsert(ctx context.Context, tx Tx, a *model.Admin) error
	TouchLogin(ctx context.Context, tx Tx, tgID int64) error
	ListActive(ctx context.Context, tx Tx) ([]*model.Admin, error)
}
