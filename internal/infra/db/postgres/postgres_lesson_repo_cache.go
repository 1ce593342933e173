package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"telegram-lessons-bot/internal/domain/model"
	"telegram-lessons-bot/internal/domain/ports/repository"
	"telegram-lessons-bot/internal/infra/metrics"
	red "telegram-lessons-bot/internal/infra/redis"
)

var _ repository.LessonRepository = (*lessonRepoCacheDecorator)(nil)

const catalogKey = "lessons:active:all"

// lessonRepoCacheDecorator serves lesson lookups and the unfiltered catalog
// from Redis. Reads inside a transaction bypass the cache. Every write drops
// the lesson key and the catalog key.
type lessonRepoCacheDecorator struct {
	inner repository.LessonRepository
	cache red.RedisClient
	ttl   time.Duration
}

func NewLessonRepoCacheDecorator(inner repository.LessonRepository, cache red.RedisClient, ttl time.Duration) repository.LessonRepository {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &lessonRepoCacheDecorator{inner: inner, cache: cache, ttl: ttl}
}

func lessonKey(id int64) string { return fmt.Sprintf("lesson:%d", id) }

// load fills dst from key and reports a hit.
func (d *lessonRepoCacheDecorator) load(ctx context.Context, name, key string, dst any) bool {
	val, err := d.cache.Get(ctx, key)
	switch {
	case err == nil:
		if json.Unmarshal([]byte(val), dst) == nil {
			metrics.IncCacheRequest(name, "hit")
			return true
		}
	case !errors.Is(err, redis.Nil):
		metrics.IncCacheRequest(name, "error")
		return false
	}
	metrics.IncCacheRequest(name, "miss")
	return false
}

func (d *lessonRepoCacheDecorator) store(ctx context.Context, key string, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	_ = d.cache.Set(ctx, key, b, d.ttl)
}

func (d *lessonRepoCacheDecorator) invalidate(ctx context.Context, id int64) {
	keys := []string{catalogKey}
	if id > 0 {
		keys = append(keys, lessonKey(id))
	}
	_ = d.cache.Del(ctx, keys...)
}

func (d *lessonRepoCacheDecorator) FindByID(ctx context.Context, tx repository.Tx, id int64) (*model.Lesson, error) {
	if tx != nil {
		return d.inner.FindByID(ctx, tx, id)
	}
	var cached model.Lesson
	if d.load(ctx, "lesson", lessonKey(id), &cached) {
		return &cached, nil
	}
	l, err := d.inner.FindByID(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	d.store(ctx, lessonKey(id), l)
	return l, nil
}

// ListActive caches only the unfiltered catalog.
func (d *lessonRepoCacheDecorator) ListActive(ctx context.Context, tx repository.Tx, categoryID *int64) ([]*model.Lesson, error) {
	if tx != nil || categoryID != nil {
		return d.inner.ListActive(ctx, tx, categoryID)
	}
	var cached []*model.Lesson
	if d.load(ctx, "catalog", catalogKey, &cached) {
		return cached, nil
	}
	lessons, err := d.inner.ListActive(ctx, tx, nil)
	if err != nil {
		return nil, err
	}
	d.store(ctx, catalogKey, lessons)
	return lessons, nil
}

func (d *lessonRepoCacheDecorator) ListAll(ctx context.Context, tx repository.Tx) ([]*model.Lesson, error) {
	return d.inner.ListAll(ctx, tx)
}

func (d *lessonRepoCacheDecorator) Save(ctx context.Context, tx repository.Tx, l *model.Lesson) error {
	if err := d.inner.Save(ctx, tx, l); err != nil {
		return err
	}
	d.invalidate(ctx, l.ID)
	return nil
}

func (d *lessonRepoCacheDecorator) SetActive(ctx context.Context, tx repository.Tx, id int64, active bool) error {
	if err := d.inner.SetActive(ctx, tx, id, active); err != nil {
		return err
	}
	d.invalidate(ctx, id)
	return nil
}

func (d *lessonRepoCacheDecorator) SetContent(ctx context.Context, tx repository.Tx, id int64, ct model.ContentType, ref, text string) error {
	if err := d.inner.SetContent(ctx, tx, id, ct, ref, text); err != nil {
		return err
	}
	d.invalidate(ctx, id)
	return nil
}
