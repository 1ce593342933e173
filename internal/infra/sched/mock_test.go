//go:build !integration

package sched

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"telegram-lessons-bot/internal/domain"
	"telegram-lessons-bot/internal/domain/model"
	"telegram-lessons-bot/internal/domain/ports/repository"
	"telegram-lessons-bot/internal/infra/redis"
)

// MockJobRepo claims with the same compare-and-set rule as Postgres.
type MockJobRepo struct {
	repository.BroadcastJobRepository
	mu     sync.Mutex
	jobs   map[int64]*model.BroadcastJob
	claims int
	// beforeClaim runs between the due listing and the claim, letting a test
	// interleave two schedulers.
	beforeClaim func()
}

func NewMockJobRepo(jobs ...*model.BroadcastJob) *MockJobRepo {
	m := &MockJobRepo{jobs: map[int64]*model.BroadcastJob{}}
	for _, j := range jobs {
		m.jobs[j.ID] = j
	}
	return m
}

func (m *MockJobRepo) ListDue(ctx context.Context, tx repository.Tx, now time.Time, limit int) ([]*model.BroadcastJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.BroadcastJob
	for _, j := range m.jobs {
		if j.Status == model.JobWaiting && !j.FireAt.After(now) {
			cp := *j
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].FireAt.Before(out[k].FireAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MockJobRepo) Claim(ctx context.Context, tx repository.Tx, id int64, runID string, now time.Time) (*model.BroadcastJob, error) {
	if m.beforeClaim != nil {
		m.beforeClaim()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if j.Status != model.JobWaiting {
		return nil, domain.ErrJobNotWaiting
	}
	j.Status, j.RunID = model.JobRunning, runID
	j.ClaimedAt, j.HeartbeatAt = &now, &now
	if j.StartedAt == nil {
		j.StartedAt = &now
	}
	m.claims++
	cp := *j
	return &cp, nil
}

func (m *MockJobRepo) ReclaimStale(ctx context.Context, tx repository.Tx, staleBefore time.Time, maxReclaims int) ([]int64, []int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var back, dead []int64
	for id, j := range m.jobs {
		if j.Status != model.JobRunning || j.HeartbeatAt == nil || !j.HeartbeatAt.Before(staleBefore) {
			continue
		}
		if j.ReclaimCount >= maxReclaims {
			j.Status, j.FailReason = model.JobFailed, "stuck"
			dead = append(dead, id)
			continue
		}
		j.Status, j.RunID = model.JobWaiting, ""
		j.ReclaimCount++
		back = append(back, id)
	}
	return back, dead, nil
}

func (m *MockJobRepo) get(id int64) model.BroadcastJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.jobs[id]
}

// recordingRunner remembers every execution and can block until released.
type recordingRunner struct {
	mu      sync.Mutex
	runs    []string
	release chan struct{}
}

func (r *recordingRunner) Execute(ctx context.Context, job *model.BroadcastJob) error {
	r.mu.Lock()
	r.runs = append(r.runs, job.RunID)
	r.mu.Unlock()
	if r.release != nil {
		select {
		case <-r.release:
		case <-ctx.Done():
		}
	}
	return nil
}

func (r *recordingRunner) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.runs)
}

// MockPurchaseRepo serves a fixed undelivered list.
type MockPurchaseRepo struct {
	repository.PurchaseRepository
	pending []*model.Purchase
	cutoffs []time.Time
}

func (m *MockPurchaseRepo) ListUndelivered(ctx context.Context, tx repository.Tx, olderThan time.Time, limit int) ([]*model.Purchase, error) {
	m.cutoffs = append(m.cutoffs, olderThan)
	if len(m.pending) > limit {
		return m.pending[:limit], nil
	}
	return m.pending, nil
}

type fakeDeliverer struct {
	delivered []int64
	failFor   map[int64]bool
}

func (d *fakeDeliverer) DeliverPurchase(ctx context.Context, p *model.Purchase) error {
	if d.failFor[p.ID] {
		return errors.New("send failed")
	}
	d.delivered = append(d.delivered, p.ID)
	return nil
}

// fakeLocker hands the key to the first caller only.
type fakeLocker struct {
	mu       sync.Mutex
	held     map[string]string
	unlocked int
	err      error
}

func (l *fakeLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return "", l.err
	}
	if l.held == nil {
		l.held = map[string]string{}
	}
	if _, ok := l.held[key]; ok {
		return "", redis.ErrLockHeld
	}
	l.held[key] = "token"
	return "token", nil
}

func (l *fakeLocker) Unlock(ctx context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, key)
	l.unlocked++
	return nil
}

type MockOnboardingRepo struct {
	repository.OnboardingRepository
	due    []*model.OnboardingProgress
	leases []time.Duration
}

func (m *MockOnboardingRepo) ClaimDue(ctx context.Context, tx repository.Tx, now time.Time, lease time.Duration, limit int) ([]*model.OnboardingProgress, error) {
	m.leases = append(m.leases, lease)
	out := m.due
	m.due = nil
	return out, nil
}

type fakeStepper struct {
	steps  []int64
	failAt map[int64]bool
}

func (s *fakeStepper) SendStep(ctx context.Context, p *model.OnboardingProgress) error {
	s.steps = append(s.steps, p.UserID)
	if s.failAt[p.UserID] {
		return domain.ErrTransient
	}
	return nil
}
