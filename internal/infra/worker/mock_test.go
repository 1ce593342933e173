//go:build !integration

package worker

import (
	"context"
	"sort"
	"sync"
	"time"

	"telegram-lessons-bot/internal/domain"
	"telegram-lessons-bot/internal/domain/model"
	"telegram-lessons-bot/internal/domain/ports/adapter"
	"telegram-lessons-bot/internal/domain/ports/repository"
)

// MockJobRepo keeps jobs in memory with the same fencing rules as Postgres.
type MockJobRepo struct {
	repository.BroadcastJobRepository
	mu          sync.Mutex
	jobs        map[int64]*model.BroadcastJob
	checkpoints int
}

func NewMockJobRepo(jobs ...*model.BroadcastJob) *MockJobRepo {
	m := &MockJobRepo{jobs: map[int64]*model.BroadcastJob{}}
	for _, j := range jobs {
		m.jobs[j.ID] = j
	}
	return m
}

func (m *MockJobRepo) Checkpoint(ctx context.Context, tx repository.Tx, id int64, runID string, cursor int64, delivered, failed int, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok || j.RunID != runID || j.Status != model.JobRunning {
		return domain.ErrClaimLost
	}
	if cursor > j.CursorUserID {
		j.CursorUserID = cursor
	}
	j.DeliveredCount, j.FailedCount = delivered, failed
	j.HeartbeatAt = &now
	m.checkpoints++
	return nil
}

func (m *MockJobRepo) Finish(ctx context.Context, tx repository.Tx, id int64, runID string, status model.JobStatus, reason string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok || j.RunID != runID || j.Status != model.JobRunning {
		return domain.ErrClaimLost
	}
	j.Status, j.FailReason, j.FinishedAt = status, reason, &now
	return nil
}

// snapshot returns a copy, as a fresh process would read it.
func (m *MockJobRepo) snapshot(id int64) *model.BroadcastJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	j := *m.jobs[id]
	return &j
}

func (m *MockJobRepo) steal(id int64, runID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[id].RunID = runID
}

type outcomeKey struct{ job, user int64 }

// MockOutcomeRepo upserts outcomes and counts every write per key.
type MockOutcomeRepo struct {
	mu       sync.Mutex
	rows     map[outcomeKey]*model.BroadcastOutcome
	deliverN map[outcomeKey]int
	// BeforeDelivered runs ahead of each DeliveredAmong lookup; a non-nil
	// error is returned instead of the result.
	BeforeDelivered func(call int) error
	lookups         int
}

func NewMockOutcomeRepo() *MockOutcomeRepo {
	return &MockOutcomeRepo{rows: map[outcomeKey]*model.BroadcastOutcome{}, deliverN: map[outcomeKey]int{}}
}

func (m *MockOutcomeRepo) Record(ctx context.Context, tx repository.Tx, o *model.BroadcastOutcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := outcomeKey{o.JobID, o.UserID}
	if prev, ok := m.rows[k]; ok {
		cp := *o
		cp.Attempts += prev.Attempts
		m.rows[k] = &cp
	} else {
		cp := *o
		m.rows[k] = &cp
	}
	if o.Result == model.OutcomeDelivered {
		m.deliverN[k]++
	}
	return nil
}

func (m *MockOutcomeRepo) DeliveredAmong(ctx context.Context, tx repository.Tx, jobID int64, userIDs []int64) (map[int64]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookups++
	if m.BeforeDelivered != nil {
		if err := m.BeforeDelivered(m.lookups); err != nil {
			return nil, err
		}
	}
	out := map[int64]bool{}
	for _, id := range userIDs {
		if o, ok := m.rows[outcomeKey{jobID, id}]; ok && o.Result == model.OutcomeDelivered {
			out[id] = true
		}
	}
	return out, nil
}

func (m *MockOutcomeRepo) Stats(ctx context.Context, tx repository.Tx, jobID int64) (*model.BroadcastStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := &model.BroadcastStats{ByState: map[model.OutcomeResult]int{}}
	for k, o := range m.rows {
		if k.job == jobID {
			st.Total++
			st.ByState[o.Result]++
		}
	}
	return st, nil
}

// MockUserRepo serves recipients from an in-memory audience.
type MockUserRepo struct {
	repository.UserRepository
	mu    sync.Mutex
	users map[int64]*model.User
}

func NewMockUserRepo(n int) *MockUserRepo {
	m := &MockUserRepo{users: map[int64]*model.User{}}
	for id := int64(1); id <= int64(n); id++ {
		m.users[id] = &model.User{ID: id, TelegramID: 10000 + id, Active: true}
	}
	return m
}

func (m *MockUserRepo) ListRecipients(ctx context.Context, tx repository.Tx, afterID, maxID int64, startedAt time.Time, limit int) ([]model.Recipient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []int64
	for id, u := range m.users {
		if id <= afterID || id > maxID {
			continue
		}
		if !u.Active && (u.DeactivatedAt == nil || u.DeactivatedAt.Before(startedAt)) {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if len(ids) > limit {
		ids = ids[:limit]
	}
	out := make([]model.Recipient, len(ids))
	for i, id := range ids {
		out[i] = model.Recipient{UserID: id, TelegramID: m.users[id].TelegramID}
	}
	return out, nil
}

func (m *MockUserRepo) Deactivate(ctx context.Context, tx repository.Tx, userID int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return domain.ErrNotFound
	}
	if u.Active {
		u.Active = false
		u.DeactivatedAt = &at
	}
	return nil
}

func (m *MockUserRepo) active(id int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.users[id].Active
}

// MockGateway answers copies through CopyFunc, delivered by default.
type MockGateway struct {
	adapter.TelegramGateway
	mu       sync.Mutex
	CopyFunc func(toChatID int64, attempt int) model.SendResult
	copies   map[int64]int
	times    []time.Time
}

func NewMockGateway() *MockGateway { return &MockGateway{copies: map[int64]int{}} }

func (g *MockGateway) Copy(ctx context.Context, fromChatID int64, messageID int, toChatID int64, kb model.Keyboard) model.SendResult {
	g.mu.Lock()
	g.copies[toChatID]++
	n := g.copies[toChatID]
	g.times = append(g.times, time.Now())
	fn := g.CopyFunc
	g.mu.Unlock()
	if fn != nil {
		return fn(toChatID, n)
	}
	return model.Delivered(n)
}

func (g *MockGateway) total() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.times)
}
