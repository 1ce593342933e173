package repository

import (
	"context"
	"time"

	"telegram-lessons-bot/internal/domain/model"
)

// -----------------------------
// Onboarding drip
// -----------------------------

type OnboardingRepository interface {
	// Enroll starts the script for a user; no-op when already enrolled.
	Enroll(ctx context.Context, tx Tx, userID int64, nextAt time.Time) (bool, error)
	// ClaimDue leases due rows so concurrent workers never send the same step.
	ClaimDue(ctx context.Context, tx Tx, now time.Time, lease time.Duration, limit int) ([]*model.OnboardingProgress, error)
	Advance(ctx context.Context, tx Tx, userID int64, step int, nextAt time.Time) error
	Complete(ctx context.Context, tx Tx, userID int64) error
}
