package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"

	"telegram-lessons-bot/internal/domain"
	"telegram-lessons-bot/internal/domain/model"
	"telegram-lessons-bot/internal/domain/ports/repository"
)

var (
	_ repository.LessonRepository   = (*lessonRepo)(nil)
	_ repository.CategoryRepository = (*categoryRepo)(nil)
)

type lessonRepo struct{ pool *pgxpool.Pool }

func NewLessonRepo(pool *pgxpool.Pool) *lessonRepo {
	return &lessonRepo{pool: pool}
}

const lessonColumns = `id, title, description, price, is_free, active, content_type, content_ref, content_text,
       category_id, created_at, updated_at`

func scanLesson(row interface{ Scan(dest ...interface{}) error }) (*model.Lesson, error) {
	var l model.Lesson
	var ct string
	if err := row.Scan(&l.ID, &l.Title, &l.Description, &l.Price, &l.IsFree, &l.Active, &ct, &l.ContentRef,
		&l.ContentText, &l.CategoryID, &l.CreatedAt, &l.UpdatedAt); err != nil {
		return nil, err
	}
	l.ContentType = model.ContentType(ct)
	return &l, nil
}

// Save inserts a lesson when ID is zero and updates it otherwise.
func (r *lessonRepo) Save(ctx context.Context, tx repository.Tx, l *model.Lesson) error {
	if err := l.Validate(); err != nil {
		return err
	}
	now := time.Now().UTC()
	if l.ID == 0 {
		const q = `
INSERT INTO lessons (title, description, price, is_free, active, content_type, content_ref, content_text, category_id, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$10)
RETURNING id, created_at, updated_at;`
		row, err := pickRow(ctx, r.pool, tx, q, l.Title, l.Description, l.Price, l.IsFree, l.Active,
			string(l.ContentType), l.ContentRef, l.ContentText, l.CategoryID, now)
		if err != nil {
			return err
		}
		return mapErr(row.Scan(&l.ID, &l.CreatedAt, &l.UpdatedAt))
	}

	const q = `
UPDATE lessons SET title=$2, description=$3, price=$4, is_free=$5, active=$6, content_type=$7,
       content_ref=$8, content_text=$9, category_id=$10, updated_at=$11
 WHERE id=$1;`
	cmd, err := execSQL(ctx, r.pool, tx, q, l.ID, l.Title, l.Description, l.Price, l.IsFree, l.Active,
		string(l.ContentType), l.ContentRef, l.ContentText, l.CategoryID, now)
	if err != nil {
		return mapErr(err)
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	l.UpdatedAt = now
	return nil
}

func (r *lessonRepo) FindByID(ctx context.Context, tx repository.Tx, id int64) (*model.Lesson, error) {
	row, err := pickRow(ctx, r.pool, tx, `SELECT `+lessonColumns+` FROM lessons WHERE id=$1;`, id)
	if err != nil {
		return nil, err
	}
	l, err := scanLesson(row)
	if err != nil {
		return nil, mapErr(err)
	}
	return l, nil
}

func (r *lessonRepo) ListActive(ctx context.Context, tx repository.Tx, categoryID *int64) ([]*model.Lesson, error) {
	const q = `SELECT ` + lessonColumns + ` FROM lessons
 WHERE active AND ($1::BIGINT IS NULL OR category_id = $1)
 ORDER BY id ASC;`
	return r.list(ctx, tx, q, categoryID)
}

func (r *lessonRepo) ListAll(ctx context.Context, tx repository.Tx) ([]*model.Lesson, error) {
	return r.list(ctx, tx, `SELECT `+lessonColumns+` FROM lessons ORDER BY id ASC;`)
}

func (r *lessonRepo) list(ctx context.Context, tx repository.Tx, q string, args ...interface{}) ([]*model.Lesson, error) {
	rows, err := queryRows(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var out []*model.Lesson
	for rows.Next() {
		l, err := scanLesson(rows)
		if err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, l)
	}
	return out, mapErr(rows.Err())
}

func (r *lessonRepo) SetActive(ctx context.Context, tx repository.Tx, id int64, active bool) error {
	// Activation requires content for media lessons.
	const q = `
UPDATE lessons SET active=$2, updated_at=NOW()
 WHERE id=$1 AND (NOT $2 OR content_type = 'text' OR content_ref <> '');`
	cmd, err := execSQL(ctx, r.pool, tx, q, id, active)
	if err != nil {
		return mapErr(err)
	}
	if cmd.RowsAffected() == 0 {
		if _, err := r.FindByID(ctx, tx, id); err != nil {
			return err
		}
		return domain.ErrInvalidArgument
	}
	return nil
}

func (r *lessonRepo) SetContent(ctx context.Context, tx repository.Tx, id int64, ct model.ContentType, ref, text string) error {
	if !ct.Valid() {
		return domain.ErrInvalidArgument
	}
	const q = `UPDATE lessons SET content_type=$2, content_ref=$3, content_text=$4, updated_at=NOW() WHERE id=$1;`
	cmd, err := execSQL(ctx, r.pool, tx, q, id, string(ct), ref, text)
	if err != nil {
		return mapErr(err)
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

type categoryRepo struct{ pool *pgxpool.Pool }

func NewCategoryRepo(pool *pgxpool.Pool) *categoryRepo {
	return &categoryRepo{pool: pool}
}

func (r *categoryRepo) Save(ctx context.Context, tx repository.Tx, c *model.Category) error {
	const q = `
INSERT INTO categories (name) VALUES ($1)
ON CONFLICT (name) DO UPDATE SET name=EXCLUDED.name
RETURNING id;`
	row, err := pickRow(ctx, r.pool, tx, q, c.Name)
	if err != nil {
		return err
	}
	return mapErr(row.Scan(&c.ID))
}

func (r *categoryRepo) List(ctx context.Context, tx repository.Tx) ([]*model.Category, error) {
	rows, err := queryRows(ctx, r.pool, tx, `SELECT id, name FROM categories ORDER BY name;`)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var out []*model.Category
	for rows.Next() {
		c := new(model.Category)
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, c)
	}
	return out, mapErr(rows.Err())
}
