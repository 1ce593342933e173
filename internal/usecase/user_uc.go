package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"telegram-lessons-bot/internal/domain"
	"telegram-lessons-bot/internal/domain/model"
	"telegram-lessons-bot/internal/domain/ports/repository"
	"telegram-lessons-bot/internal/infra/logging"
	"telegram-lessons-bot/internal/infra/metrics"
)

// Compile-time check
var _ UserUseCase = (*userUC)(nil)

// UserUseCase exposes user-related operations used by bot/admin flows.
type UserUseCase interface {
	// RegisterOrFetch creates the user on first sight or refreshes profile
	// fields and last activity.
	RegisterOrFetch(ctx context.Context, tgID int64, username, displayName, lang string) (*model.User, error)
	GetByTelegramID(ctx context.Context, tgID int64) (*model.User, error)
	// MarkUnreachable deactivates a user Telegram reported as blocked or gone.
	MarkUnreachable(ctx context.Context, userID int64) error
	MarkUnreachableByTelegramID(ctx context.Context, tgID int64) error
	SetBanned(ctx context.Context, tgID int64, banned bool) error
}

type userUC struct {
	users repository.UserRepository
	log   *zerolog.Logger
}

func NewUserUseCase(users repository.UserRepository, logger *zerolog.Logger) *userUC {
	return &userUC{users: users, log: logger}
}

func (u *userUC) RegisterOrFetch(ctx context.Context, tgID int64, username, displayName, lang string) (*model.User, error) {
	defer logging.TraceDuration(u.log, "UserUC.RegisterOrFetch")()

	nu, err := model.NewUser(tgID, username, displayName, lang)
	if err != nil {
		return nil, err
	}
	stored, created, err := u.users.Upsert(ctx, repository.NoTX, nu)
	if err != nil {
		u.log.Error().Err(err).Int64("tg_id", tgID).Msg("failed to upsert user")
		return nil, err
	}
	if created {
		metrics.IncUsersRegistered()
		u.log.Info().Int64("tg_id", tgID).Int64("user_id", stored.ID).Msg("user registered")
	}
	return stored, nil
}

func (u *userUC) GetByTelegramID(ctx context.Context, tgID int64) (*model.User, error) {
	return u.users.FindByTelegramID(ctx, repository.NoTX, tgID)
}

func (u *userUC) MarkUnreachable(ctx context.Context, userID int64) error {
	if err := u.users.Deactivate(ctx, repository.NoTX, userID, time.Now().UTC()); err != nil {
		return err
	}
	metrics.IncUsersDeactivated()
	return nil
}

func (u *userUC) MarkUnreachableByTelegramID(ctx context.Context, tgID int64) error {
	usr, err := u.users.FindByTelegramID(ctx, repository.NoTX, tgID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if !usr.Active {
		return nil
	}
	return u.MarkUnreachable(ctx, usr.ID)
}

func (u *userUC) SetBanned(ctx context.Context, tgID int64, banned bool) error {
	return u.users.SetBanned(ctx, repository.NoTX, tgID, banned)
}
