package usecase

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"telegram-lessons-bot/internal/domain"
	"telegram-lessons-bot/internal/domain/model"
	"telegram-lessons-bot/internal/domain/ports/repository"
)

var _ LessonUseCase = (*lessonUC)(nil)

type LessonUseCase interface {
	Catalog(ctx context.Context, categoryID *int64) ([]*model.Lesson, error)
	Get(ctx context.Context, id int64) (*model.Lesson, error)
	ListAll(ctx context.Context) ([]*model.Lesson, error)
	Create(ctx context.Context, l *model.Lesson) error
	SetActive(ctx context.Context, id int64, active bool) error
	// AttachContent stores the uploaded artifact as the lesson body.
	AttachContent(ctx context.Context, id int64, art model.Artifact) error
	Categories(ctx context.Context) ([]*model.Category, error)
	CreateCategory(ctx context.Context, name string) (*model.Category, error)
}

type lessonUC struct {
	lessons    repository.LessonRepository
	categories repository.CategoryRepository
	log        *zerolog.Logger
}

func NewLessonUseCase(lessons repository.LessonRepository, categories repository.CategoryRepository, logger *zerolog.Logger) *lessonUC {
	return &lessonUC{lessons: lessons, categories: categories, log: logger}
}

func (u *lessonUC) Catalog(ctx context.Context, categoryID *int64) ([]*model.Lesson, error) {
	return u.lessons.ListActive(ctx, repository.NoTX, categoryID)
}

func (u *lessonUC) Get(ctx context.Context, id int64) (*model.Lesson, error) {
	return u.lessons.FindByID(ctx, repository.NoTX, id)
}

func (u *lessonUC) ListAll(ctx context.Context) ([]*model.Lesson, error) {
	return u.lessons.ListAll(ctx, repository.NoTX)
}

func (u *lessonUC) Create(ctx context.Context, l *model.Lesson) error {
	l.IsFree = l.Price == 0
	if err := l.Validate(); err != nil {
		return err
	}
	if err := u.lessons.Save(ctx, repository.NoTX, l); err != nil {
		return err
	}
	u.log.Info().Int64("lesson_id", l.ID).Int64("price", l.Price).Msg("lesson created")
	return nil
}

// SetActive refuses to publish a media lesson that has no content yet.
func (u *lessonUC) SetActive(ctx context.Context, id int64, active bool) error {
	if active {
		l, err := u.lessons.FindByID(ctx, repository.NoTX, id)
		if err != nil {
			return err
		}
		l.Active = true
		if err := l.Validate(); err != nil {
			return err
		}
	}
	return u.lessons.SetActive(ctx, repository.NoTX, id, active)
}

func (u *lessonUC) AttachContent(ctx context.Context, id int64, art model.Artifact) error {
	if !art.Type.Valid() {
		return domain.ErrInvalidArgument
	}
	if art.Type != model.ContentText && art.FileRef == "" {
		return domain.ErrInvalidArgument
	}
	if art.Type == model.ContentText && strings.TrimSpace(art.Text) == "" {
		return domain.ErrInvalidArgument
	}
	return u.lessons.SetContent(ctx, repository.NoTX, id, art.Type, art.FileRef, art.Text)
}

func (u *lessonUC) Categories(ctx context.Context) ([]*model.Category, error) {
	return u.categories.List(ctx, repository.NoTX)
}

func (u *lessonUC) CreateCategory(ctx context.Context, name string) (*model.Category, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, domain.ErrInvalidArgument
	}
	c := &model.Category{Name: name}
	if err := u.categories.Save(ctx, repository.NoTX, c); err != nil {
		return nil, err
	}
	return c, nil
}
