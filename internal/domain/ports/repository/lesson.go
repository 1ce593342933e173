package repository

import (
	"context"

	"telegram-lessons-bot/internal/domain/model"
)

// -----------------------------
// Lessons & Categories
// -----------------------------

type LessonRepository interface {
	Save(ctx context.Context, tx Tx, l *model.Lesson) error
	FindByID(ctx context.Context, tx Tx, id int64) (*model.Lesson, error)
	ListActive(ctx context.Context, tx Tx, categoryID *int64) ([]*model.Lesson, error)
	ListAll(ctx context.Context, tx Tx) ([]*model.Lesson, error)
	SetActive(ctx context.Context, tx Tx, id int64, active bool) error
	SetContent(ctx context.Context, tx Tx, id int64, ct model.ContentType, ref, text string) error
}

type CategoryRepository interface {
	Save(ctx context.Context, tx Tx, c *model.Category) error
	List(ctx context.Context, tx Tx) ([]*model.Category, error)
}
