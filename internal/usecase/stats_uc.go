package usecase

import (
	"context"

	"github.com/rs/zerolog"

	"telegram-lessons-bot/internal/domain/ports/repository"
)

// Compile-time check
var _ StatsUseCase = (*statsUC)(nil)

// Totals is the admin /stats snapshot.
type Totals struct {
	Users       int
	ActiveUsers int
	Purchases   int
	Revenue     int64
}

type StatsUseCase interface {
	Totals(ctx context.Context) (Totals, error)
}

type statsUC struct {
	users     repository.UserRepository
	purchases repository.PurchaseRepository

	log *zerolog.Logger
}

func NewStatsUseCase(users repository.UserRepository, purchases repository.PurchaseRepository, logger *zerolog.Logger) *statsUC {
	return &statsUC{users: users, purchases: purchases, log: logger}
}

func (s *statsUC) Totals(ctx context.Context) (Totals, error) {
	var t Totals
	var err error
	if t.Users, err = s.users.CountUsers(ctx, repository.NoTX); err != nil {
		return Totals{}, err
	}
	if t.ActiveUsers, err = s.users.CountActive(ctx, repository.NoTX); err != nil {
		return Totals{}, err
	}
	if t.Purchases, err = s.purchases.CountCompleted(ctx, repository.NoTX); err != nil {
		return Totals{}, err
	}
	if t.Revenue, err = s.purchases.SumCompleted(ctx, repository.NoTX); err != nil {
		return Totals{}, err
	}
	return t, nil
}
