package usecase

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"telegram-lessons-bot/internal/domain"
	"telegram-lessons-bot/internal/domain/model"
	"telegram-lessons-bot/internal/domain/ports/repository"
)

var _ AdminUseCase = (*adminUC)(nil)

type AdminUseCase interface {
	// Bootstrap makes every id an active admin with all permissions.
	Bootstrap(ctx context.Context, ids []int64) error
	// Get returns the admin or nil when tgID is not an admin.
	Get(ctx context.Context, tgID int64) (*model.Admin, error)
	Grant(ctx context.Context, tgID int64, username string, perms []model.Permission) error
	Revoke(ctx context.Context, tgID int64) error
	List(ctx context.Context) ([]*model.Admin, error)
	TouchLogin(ctx context.Context, tgID int64) error
}

type adminUC struct {
	admins repository.AdminRepository
	log    *zerolog.Logger
}

func NewAdminUseCase(admins repository.AdminRepository, logger *zerolog.Logger) *adminUC {
	return &adminUC{admins: admins, log: logger}
}

func (a *adminUC) Bootstrap(ctx context.Context, ids []int64) error {
	for _, id := range ids {
		if id <= 0 {
			continue
		}
		existing, err := a.Get(ctx, id)
		if err != nil {
			return err
		}
		username := ""
		if existing != nil {
			username = existing.Username
		}
		adm := &model.Admin{TelegramID: id, Username: username, Permissions: []model.Permission{model.PermAll}, Active: true}
		if err := a.admins.Upsert(ctx, repository.NoTX, adm); err != nil {
			return err
		}
		a.log.Info().Int64("tg_id", id).Msg("bootstrap admin ensured")
	}
	return nil
}

func (a *adminUC) Get(ctx context.Context, tgID int64) (*model.Admin, error) {
	adm, err := a.admins.FindByTelegramID(ctx, repository.NoTX, tgID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	return adm, err
}

func (a *adminUC) Grant(ctx context.Context, tgID int64, username string, perms []model.Permission) error {
	if len(perms) == 0 {
		return domain.ErrInvalidArgument
	}
	return a.admins.Upsert(ctx, repository.NoTX, &model.Admin{TelegramID: tgID, Username: username, Permissions: perms, Active: true})
}

func (a *adminUC) Revoke(ctx context.Context, tgID int64) error {
	adm, err := a.admins.FindByTelegramID(ctx, repository.NoTX, tgID)
	if err != nil {
		return err
	}
	adm.Active = false
	return a.admins.Upsert(ctx, repository.NoTX, adm)
}

func (a *adminUC) List(ctx context.Context) ([]*model.Admin, error) {
	return a.admins.ListActive(ctx, repository.NoTX)
}

func (a *adminUC) TouchLogin(ctx context.Context, tgID int64) error {
	return a.admins.TouchLogin(ctx, repository.NoTX, tgID)
}
