package repository

import (
	"context"
	"time"

	"telegram-lessons-bot/internal/domain/model"
)

// -----------------------------
// Users
// -----------------------------

type UserRepository interface {
	// Upsert inserts the user on first sight or refreshes profile fields and
	// last activity. The stored record (with ID) is returned; created reports
	// whether the row is new.
	Upsert(ctx context.Context, tx Tx, u *model.User) (stored *model.User, created bool, err error)
	FindByTelegramID(ctx context.Context, tx Tx, tgID int64) (*model.User, error)
	FindByID(ctx context.Context, tx Tx, id int64) (*model.User, error)
	// LockByTelegramID reads the user with a row lock; requires a transaction.
	LockByTelegramID(ctx context.Context, tx Tx, tgID int64) (*model.User, error)
	AddSpent(ctx context.Context, tx Tx, userID int64, delta int64) error
	// Deactivate flips active off and stamps deactivated_at once.
	Deactivate(ctx context.Context, tx Tx, userID int64, at time.Time) error
	Reactivate(ctx context.Context, tx Tx, userID int64) error
	SetBanned(ctx context.Context, tx Tx, tgID int64, banned bool) error
	MaxID(ctx context.Context, tx Tx) (int64, error)
	CountUsers(ctx context.Context, tx Tx) (int, error)
	CountActive(ctx context.Context, tx Tx) (int, error)
	// ListRecipients pages the audience of a run in id order.
	ListRecipients(ctx context.Context, tx Tx, afterID, maxID int64, startedAt time.Time, limit int) ([]model.Recipient, error)
}
