package repository

import (
	"context"
	"time"

	"telegram-lessons-bot/internal/domain/model"
)

// -----------------------------
// Purchases
// -----------------------------

type PurchaseRepository interface {
	// Insert writes the purchase unless its charge id already exists; inserted
	// reports which happened. The charge id is the idempotency key.
	Insert(ctx context.Context, tx Tx, p *model.Purchase) (inserted bool, err error)
	FindByChargeID(ctx context.Context, tx Tx, chargeID string) (*model.Purchase, error)
	HasCompleted(ctx context.Context, tx Tx, userID, lessonID int64) (bool, error)
	ListCompletedByUser(ctx context.Context, tx Tx, userID int64) ([]*model.Purchase, error)
	// MarkRefunded transitions completed -> refunded; false when not completed.
	MarkRefunded(ctx context.Context, tx Tx, chargeID string, at time.Time) (bool, error)
	MarkDelivered(ctx context.Context, tx Tx, id int64, at time.Time) error
	ListUndelivered(ctx context.Context, tx Tx, olderThan time.Time, limit int) ([]*model.Purchase, error)
	SumCompleted(ctx context.Context, tx Tx) (int64, error)
	CountCompleted(ctx context.Context, tx Tx) (int, error)
}
