package usecase

import (
	"context"

	"telegram-lessons-bot/internal/domain/model"
)

// ContentDeliverer is what background workers need to retry lesson delivery
// for purchases whose first delivery failed.
type ContentDeliverer interface {
	DeliverPurchase(ctx context.Context, p *model.Purchase) error
}

// OnboardingStepper sends the next scripted step for a claimed progress row.
type OnboardingStepper interface {
	SendStep(ctx context.Context, p *model.OnboardingProgress) error
}
