//go:build !integration

package postgres

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"

	"telegram-lessons-bot/internal/domain/model"
	"telegram-lessons-bot/internal/domain/ports/repository"
	red "telegram-lessons-bot/internal/infra/redis"
)

// --- Mocks for Cache Decorator Tests ---

// mockInnerLessonRepo counts the reads that reach the database.
type mockInnerLessonRepo struct {
	lessons   map[int64]*model.Lesson
	findCalls int
	listCalls int
}

func newMockInnerLessonRepo(ls ...*model.Lesson) *mockInnerLessonRepo {
	m := &mockInnerLessonRepo{lessons: map[int64]*model.Lesson{}}
	for _, l := range ls {
		m.lessons[l.ID] = l
	}
	return m
}

func (m *mockInnerLessonRepo) Save(ctx context.Context, tx repository.Tx, l *model.Lesson) error {
	if l.ID == 0 {
		l.ID = int64(len(m.lessons) + 1)
	}
	cp := *l
	m.lessons[l.ID] = &cp
	return nil
}

func (m *mockInnerLessonRepo) FindByID(ctx context.Context, tx repository.Tx, id int64) (*model.Lesson, error) {
	m.findCalls++
	l, ok := m.lessons[id]
	if !ok {
		return nil, errNotFoundForTest
	}
	cp := *l
	return &cp, nil
}

func (m *mockInnerLessonRepo) ListActive(ctx context.Context, tx repository.Tx, categoryID *int64) ([]*model.Lesson, error) {
	m.listCalls++
	var out []*model.Lesson
	for _, l := range m.lessons {
		if l.Active {
			cp := *l
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockInnerLessonRepo) ListAll(ctx context.Context, tx repository.Tx) ([]*model.Lesson, error) {
	return m.ListActive(ctx, tx, nil)
}

func (m *mockInnerLessonRepo) SetActive(ctx context.Context, tx repository.Tx, id int64, active bool) error {
	m.lessons[id].Active = active
	return nil
}

func (m *mockInnerLessonRepo) SetContent(ctx context.Context, tx repository.Tx, id int64, ct model.ContentType, ref, text string) error {
	l := m.lessons[id]
	l.ContentType, l.ContentRef, l.ContentText = ct, ref, text
	return nil
}

// mockRedisClient is an in-memory stand-in for the Redis wrapper.
type mockRedisClient struct {
	data    map[string]string
	deleted []string
	getErr  error
}

var _ red.RedisClient = &mockRedisClient{}

func newMockRedisClient() *mockRedisClient { return &mockRedisClient{data: map[string]string{}} }

func (m *mockRedisClient) Ping(ctx context.Context) error { return nil }
func (m *mockRedisClient) SetNX(ctx context.Context, key string, value interface{}, exp time.Duration) (bool, error) {
	if _, ok := m.data[key]; ok {
		return false, nil
	}
	m.data[key] = toString(value)
	return true, nil
}
func (m *mockRedisClient) Refresh(ctx context.Context, key string, exp time.Duration) (bool, error) {
	_, ok := m.data[key]
	m.data[key] = "1"
	return ok, nil
}
func (m *mockRedisClient) Get(ctx context.Context, key string) (string, error) {
	if m.getErr != nil {
		return "", m.getErr
	}
	v, ok := m.data[key]
	if !ok {
		return "", redis.Nil
	}
	return v, nil
}
func (m *mockRedisClient) Set(ctx context.Context, key string, value interface{}, exp time.Duration) error {
	m.data[key] = toString(value)
	return nil
}
func (m *mockRedisClient) Del(ctx context.Context, keys ...string) error {
	for _, k := range keys {
		delete(m.data, k)
		m.deleted = append(m.deleted, k)
	}
	return nil
}
func (m *mockRedisClient) Close() error { return nil }

func toString(v interface{}) string {
	switch x := v.(type) {
	case []byte:
		return string(x)
	case string:
		return x
	}
	return ""
}
