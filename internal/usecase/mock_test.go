//go:build !integration

package usecase_test

import (
	"context"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"telegram-lessons-bot/internal/domain"
	"telegram-lessons-bot/internal/domain/model"
	"telegram-lessons-bot/internal/domain/ports/adapter"
	"telegram-lessons-bot/internal/domain/ports/repository"
)

// newTestLogger creates a silent zerolog.Logger for use in tests.
func newTestLogger() *zerolog.Logger {
	logger := zerolog.New(io.Discard)
	return &logger
}

// =============================
// Adapters
// =============================

// ---- Mock TelegramGateway ----

type sentMessage struct {
	ChatID   int64
	Artifact model.Artifact
	Keyboard model.Keyboard
}

type copiedMessage struct {
	FromChatID int64
	MessageID  int
	ToChatID   int64
	Keyboard   model.Keyboard
}

type refundCall struct {
	UserTgID int64
	ChargeID string
}

type MockGateway struct {
	mu        sync.Mutex
	Sent      []sentMessage
	Copied    []copiedMessage
	Invoices  []adapter.Invoice
	Refunds   []refundCall
	Approvals [][2]int64

	SendFunc        func(ctx context.Context, chatID int64, art model.Artifact, kb model.Keyboard) model.SendResult
	CopyFunc        func(ctx context.Context, fromChatID int64, messageID int, toChatID int64, kb model.Keyboard) model.SendResult
	SendInvoiceFunc func(ctx context.Context, inv adapter.Invoice) model.SendResult
	RefundFunc      func(ctx context.Context, userTgID int64, chargeID string) error
	ApproveFunc     func(ctx context.Context, chatID, userTgID int64) error
}

var _ adapter.TelegramGateway = (*MockGateway)(nil)

func (g *MockGateway) Send(ctx context.Context, chatID int64, art model.Artifact, kb model.Keyboard) model.SendResult {
	g.mu.Lock()
	g.Sent = append(g.Sent, sentMessage{ChatID: chatID, Artifact: art, Keyboard: kb})
	g.mu.Unlock()
	if g.SendFunc != nil {
		return g.SendFunc(ctx, chatID, art, kb)
	}
	return model.Delivered(1)
}

func (g *MockGateway) Copy(ctx context.Context, fromChatID int64, messageID int, toChatID int64, kb model.Keyboard) model.SendResult {
	g.mu.Lock()
	g.Copied = append(g.Copied, copiedMessage{FromChatID: fromChatID, MessageID: messageID, ToChatID: toChatID, Keyboard: kb})
	g.mu.Unlock()
	if g.CopyFunc != nil {
		return g.CopyFunc(ctx, fromChatID, messageID, toChatID, kb)
	}
	return model.Delivered(1)
}

func (g *MockGateway) SendButtons(ctx context.Context, chatID int64, text string, rows [][]adapter.InlineButton) model.SendResult {
	return model.Delivered(1)
}

func (g *MockGateway) SendInvoice(ctx context.Context, inv adapter.Invoice) model.SendResult {
	g.mu.Lock()
	g.Invoices = append(g.Invoices, inv)
	g.mu.Unlock()
	if g.SendInvoiceFunc != nil {
		return g.SendInvoiceFunc(ctx, inv)
	}
	return model.Delivered(1)
}

func (g *MockGateway) AnswerPreCheckout(ctx context.Context, queryID string, ok bool, reason string) error {
	return nil
}

func (g *MockGateway) AnswerCallback(ctx context.Context, callbackID, text string) error { return nil }

func (g *MockGateway) RefundStarPayment(ctx context.Context, userTgID int64, chargeID string) error {
	if g.RefundFunc != nil {
		if err := g.RefundFunc(ctx, userTgID, chargeID); err != nil {
			return err
		}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Refunds = append(g.Refunds, refundCall{UserTgID: userTgID, ChargeID: chargeID})
	return nil
}

func (g *MockGateway) ApproveJoinRequest(ctx context.Context, chatID, userTgID int64) error {
	if g.ApproveFunc != nil {
		return g.ApproveFunc(ctx, chatID, userTgID)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Approvals = append(g.Approvals, [2]int64{chatID, userTgID})
	return nil
}

// =============================
// Repositories
// =============================

// ---- Mock UserRepository ----

type MockUserRepo struct {
	mu     sync.Mutex
	nextID int64
	byID   map[int64]*model.User

	UpsertFunc           func(ctx context.Context, tx repository.Tx, u *model.User) (*model.User, bool, error)
	FindByTelegramIDFunc func(ctx context.Context, tx repository.Tx, tgID int64) (*model.User, error)
}

var _ repository.UserRepository = (*MockUserRepo)(nil)

func NewMockUserRepo() *MockUserRepo {
	return &MockUserRepo{byID: map[int64]*model.User{}}
}

// seed stores u as-is and returns its assigned id.
func (r *MockUserRepo) seed(u *model.User) *model.User {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	cp := *u
	cp.ID = r.nextID
	r.byID[cp.ID] = &cp
	out := cp
	return &out
}

func (r *MockUserRepo) get(id int64) *model.User {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.byID[id]; ok {
		cp := *u
		return &cp
	}
	return nil
}

func (r *MockUserRepo) findTG(tgID int64) *model.User {
	for _, u := range r.byID {
		if u.TelegramID == tgID {
			return u
		}
	}
	return nil
}

func (r *MockUserRepo) Upsert(ctx context.Context, tx repository.Tx, u *model.User) (*model.User, bool, error) {
	if r.UpsertFunc != nil {
		return r.UpsertFunc(ctx, tx, u)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing := r.findTG(u.TelegramID); existing != nil {
		if u.Username != "" {
			existing.Username = u.Username
		}
		existing.Active = true
		existing.DeactivatedAt = nil
		existing.LastActiveAt = time.Now()
		cp := *existing
		return &cp, false, nil
	}
	r.nextID++
	cp := *u
	cp.ID = r.nextID
	cp.Active = true
	r.byID[cp.ID] = &cp
	out := cp
	return &out, true, nil
}

func (r *MockUserRepo) FindByTelegramID(ctx context.Context, tx repository.Tx, tgID int64) (*model.User, error) {
	if r.FindByTelegramIDFunc != nil {
		return r.FindByTelegramIDFunc(ctx, tx, tgID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if u := r.findTG(tgID); u != nil {
		cp := *u
		return &cp, nil
	}
	return nil, domain.ErrNotFound
}

func (r *MockUserRepo) FindByID(ctx context.Context, tx repository.Tx, id int64) (*model.User, error) {
	if u := r.get(id); u != nil {
		return u, nil
	}
	return nil, domain.ErrNotFound
}

func (r *MockUserRepo) LockByTelegramID(ctx context.Context, tx repository.Tx, tgID int64) (*model.User, error) {
	return r.FindByTelegramID(ctx, tx, tgID)
}

func (r *MockUserRepo) AddSpent(ctx context.Context, tx repository.Tx, userID int64, delta int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[userID]
	if !ok || u.TotalSpent+delta < 0 {
		return domain.ErrNotFound
	}
	u.TotalSpent += delta
	return nil
}

func (r *MockUserRepo) Deactivate(ctx context.Context, tx repository.Tx, userID int64, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.byID[userID]; ok && u.Active {
		u.Active = false
		u.DeactivatedAt = &at
	}
	return nil
}

func (r *MockUserRepo) Reactivate(ctx context.Context, tx repository.Tx, userID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.byID[userID]; ok {
		u.Active = true
		u.DeactivatedAt = nil
	}
	return nil
}

func (r *MockUserRepo) SetBanned(ctx context.Context, tx repository.Tx, tgID int64, banned bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u := r.findTG(tgID)
	if u == nil {
		return domain.ErrNotFound
	}
	u.Banned = banned
	return nil
}

func (r *MockUserRepo) MaxID(ctx context.Context, tx repository.Tx) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.nextID, nil
}

func (r *MockUserRepo) CountUsers(ctx context.Context, tx repository.Tx) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID), nil
}

func (r *MockUserRepo) CountActive(ctx context.Context, tx repository.Tx) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, u := range r.byID {
		if u.Active {
			n++
		}
	}
	return n, nil
}

func (r *MockUserRepo) ListRecipients(ctx context.Context, tx repository.Tx, afterID, maxID int64, startedAt time.Time, limit int) ([]model.Recipient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Recipient
	for id := afterID + 1; id <= maxID && len(out) < limit; id++ {
		if u, ok := r.byID[id]; ok && (u.Active || (u.DeactivatedAt != nil && !u.DeactivatedAt.Before(startedAt))) {
			out = append(out, model.Recipient{UserID: u.ID, TelegramID: u.TelegramID})
		}
	}
	return out, nil
}

// ---- Mock LessonRepository ----

type MockLessonRepo struct {
	mu     sync.Mutex
	nextID int64
	byID   map[int64]*model.Lesson

	FindByIDFunc func(ctx context.Context, tx repository.Tx, id int64) (*model.Lesson, error)
}

var _ repository.LessonRepository = (*MockLessonRepo)(nil)

func NewMockLessonRepo() *MockLessonRepo {
	return &MockLessonRepo{byID: map[int64]*model.Lesson{}}
}

func (r *MockLessonRepo) Save(ctx context.Context, tx repository.Tx, l *model.Lesson) error {
	if err := l.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if l.ID == 0 {
		r.nextID++
		l.ID = r.nextID
	}
	cp := *l
	r.byID[l.ID] = &cp
	return nil
}

func (r *MockLessonRepo) FindByID(ctx context.Context, tx repository.Tx, id int64) (*model.Lesson, error) {
	if r.FindByIDFunc != nil {
		return r.FindByIDFunc(ctx, tx, id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.byID[id]; ok {
		cp := *l
		return &cp, nil
	}
	return nil, domain.ErrNotFound
}

func (r *MockLessonRepo) ListActive(ctx context.Context, tx repository.Tx, categoryID *int64) ([]*model.Lesson, error) {
	all, _ := r.ListAll(ctx, tx)
	var out []*model.Lesson
	for _, l := range all {
		if l.Active && (categoryID == nil || (l.CategoryID != nil && *l.CategoryID == *categoryID)) {
			out = append(out, l)
		}
	}
	return out, nil
}

func (r *MockLessonRepo) ListAll(ctx context.Context, tx repository.Tx) ([]*model.Lesson, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*model.Lesson, 0, len(r.byID))
	for _, l := range r.byID {
		cp := *l
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *MockLessonRepo) SetActive(ctx context.Context, tx repository.Tx, id int64, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.byID[id]
	if !ok {
		return domain.ErrNotFound
	}
	l.Active = active
	return nil
}

func (r *MockLessonRepo) SetContent(ctx context.Context, tx repository.Tx, id int64, ct model.ContentType, ref, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.byID[id]
	if !ok {
		return domain.ErrNotFound
	}
	l.ContentType, l.ContentRef, l.ContentText = ct, ref, text
	return nil
}

// ---- Mock CategoryRepository ----

type MockCategoryRepo struct {
	mu    sync.Mutex
	items []*model.Category
}

var _ repository.CategoryRepository = (*MockCategoryRepo)(nil)

func (r *MockCategoryRepo) Save(ctx context.Context, tx repository.Tx, c *model.Category) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.items {
		if e.Name == c.Name {
			return domain.ErrAlreadyExists
		}
	}
	c.ID = int64(len(r.items) + 1)
	cp := *c
	r.items = append(r.items, &cp)
	return nil
}

func (r *MockCategoryRepo) List(ctx context.Context, tx repository.Tx) ([]*model.Category, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*model.Category(nil), r.items...), nil
}

// ---- Mock PurchaseRepository ----

type MockPurchaseRepo struct {
	mu       sync.Mutex
	nextID   int64
	byCharge map[string]*model.Purchase

	InsertFunc func(ctx context.Context, tx repository.Tx, p *model.Purchase) (bool, error)
}

var _ repository.PurchaseRepository = (*MockPurchaseRepo)(nil)

func NewMockPurchaseRepo() *MockPurchaseRepo {
	return &MockPurchaseRepo{byCharge: map[string]*model.Purchase{}}
}

func (r *MockPurchaseRepo) all() []*model.Purchase {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*model.Purchase, 0, len(r.byCharge))
	for _, p := range r.byCharge {
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *MockPurchaseRepo) Insert(ctx context.Context, tx repository.Tx, p *model.Purchase) (bool, error) {
	if r.InsertFunc != nil {
		return r.InsertFunc(ctx, tx, p)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.byCharge[p.ChargeID]; dup {
		return false, nil
	}
	r.nextID++
	p.ID = r.nextID
	cp := *p
	r.byCharge[p.ChargeID] = &cp
	return true, nil
}

func (r *MockPurchaseRepo) FindByChargeID(ctx context.Context, tx repository.Tx, chargeID string) (*model.Purchase, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.byCharge[chargeID]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, domain.ErrNotFound
}

func (r *MockPurchaseRepo) HasCompleted(ctx context.Context, tx repository.Tx, userID, lessonID int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.byCharge {
		if p.UserID == userID && p.LessonID == lessonID && p.Status == model.PurchaseStatusCompleted {
			return true, nil
		}
	}
	return false, nil
}

func (r *MockPurchaseRepo) ListCompletedByUser(ctx context.Context, tx repository.Tx, userID int64) ([]*model.Purchase, error) {
	var out []*model.Purchase
	for _, p := range r.all() {
		if p.UserID == userID && p.Status == model.PurchaseStatusCompleted {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *MockPurchaseRepo) MarkRefunded(ctx context.Context, tx repository.Tx, chargeID string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byCharge[chargeID]
	if !ok || p.Status != model.PurchaseStatusCompleted {
		return false, nil
	}
	p.Status = model.PurchaseStatusRefunded
	p.RefundedAt = &at
	return true, nil
}

func (r *MockPurchaseRepo) MarkDelivered(ctx context.Context, tx repository.Tx, id int64, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.byCharge {
		if p.ID == id && p.DeliveredAt == nil {
			p.DeliveredAt = &at
		}
	}
	return nil
}

func (r *MockPurchaseRepo) ListUndelivered(ctx context.Context, tx repository.Tx, olderThan time.Time, limit int) ([]*model.Purchase, error) {
	var out []*model.Purchase
	for _, p := range r.all() {
		if p.Status == model.PurchaseStatusCompleted && p.DeliveredAt == nil && p.PurchasedAt.Before(olderThan) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *MockPurchaseRepo) SumCompleted(ctx context.Context, tx repository.Tx) (int64, error) {
	var sum int64
	for _, p := range r.all() {
		if p.Status == model.PurchaseStatusCompleted {
			sum += p.Amount
		}
	}
	return sum, nil
}

func (r *MockPurchaseRepo) CountCompleted(ctx context.Context, tx repository.Tx) (int, error) {
	n := 0
	for _, p := range r.all() {
		if p.Status == model.PurchaseStatusCompleted {
			n++
		}
	}
	return n, nil
}

// ---- Mock AdminRepository ----

type MockAdminRepo struct {
	mu   sync.Mutex
	byTG map[int64]*model.Admin
}

var _ repository.AdminRepository = (*MockAdminRepo)(nil)

func NewMockAdminRepo() *MockAdminRepo { return &MockAdminRepo{byTG: map[int64]*model.Admin{}} }

func (r *MockAdminRepo) FindByTelegramID(ctx context.Context, tx repository.Tx, tgID int64) (*model.Admin, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.byTG[tgID]; ok {
		cp := *a
		return &cp, nil
	}
	return nil, domain.ErrNotFound
}

func (r *MockAdminRepo) Upsert(ctx context.Context, tx repository.Tx, a *model.Admin) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *a
	if existing, ok := r.byTG[a.TelegramID]; ok && cp.Username == "" {
		cp.Username = existing.Username
	}
	r.byTG[a.TelegramID] = &cp
	return nil
}

func (r *MockAdminRepo) TouchLogin(ctx context.Context, tx repository.Tx, tgID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.byTG[tgID]; ok {
		now := time.Now()
		a.LastLoginAt = &now
	}
	return nil
}

func (r *MockAdminRepo) ListActive(ctx context.Context, tx repository.Tx) ([]*model.Admin, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Admin
	for _, a := range r.byTG {
		if a.Active {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TelegramID < out[j].TelegramID })
	return out, nil
}

// ---- Mock BroadcastJobRepository / BroadcastOutcomeRepository ----

type MockBroadcastJobRepo struct {
	mu     sync.Mutex
	nextID int64
	byID   map[int64]*model.BroadcastJob
}

var _ repository.BroadcastJobRepository = (*MockBroadcastJobRepo)(nil)

func NewMockBroadcastJobRepo() *MockBroadcastJobRepo {
	return &MockBroadcastJobRepo{byID: map[int64]*model.BroadcastJob{}}
}

func (r *MockBroadcastJobRepo) Create(ctx context.Context, tx repository.Tx, j *model.BroadcastJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	j.ID = r.nextID
	cp := *j
	r.byID[j.ID] = &cp
	return nil
}

func (r *MockBroadcastJobRepo) FindByID(ctx context.Context, tx repository.Tx, id int64) (*model.BroadcastJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if j, ok := r.byID[id]; ok {
		cp := *j
		return &cp, nil
	}
	return nil, domain.ErrNotFound
}

func (r *MockBroadcastJobRepo) ListDue(ctx context.Context, tx repository.Tx, now time.Time, limit int) ([]*model.BroadcastJob, error) {
	return nil, nil
}

func (r *MockBroadcastJobRepo) ListRecent(ctx context.Context, tx repository.Tx, limit int) ([]*model.BroadcastJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.BroadcastJob
	for _, j := range r.byID {
		cp := *j
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID > out[k].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MockBroadcastJobRepo) Claim(ctx context.Context, tx repository.Tx, id int64, runID string, now time.Time) (*model.BroadcastJob, error) {
	return nil, domain.ErrJobNotWaiting
}

func (r *MockBroadcastJobRepo) Checkpoint(ctx context.Context, tx repository.Tx, id int64, runID string, cursor int64, delivered, failed int, now time.Time) error {
	return domain.ErrClaimLost
}

func (r *MockBroadcastJobRepo) Finish(ctx context.Context, tx repository.Tx, id int64, runID string, status model.JobStatus, reason string, now time.Time) error {
	return domain.ErrClaimLost
}

func (r *MockBroadcastJobRepo) Cancel(ctx context.Context, tx repository.Tx, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.byID[id]
	if !ok {
		return domain.ErrNotFound
	}
	if j.Status != model.JobWaiting {
		return domain.ErrJobNotWaiting
	}
	j.Status = model.JobCancelled
	return nil
}

func (r *MockBroadcastJobRepo) ReclaimStale(ctx context.Context, tx repository.Tx, staleBefore time.Time, maxReclaims int) ([]int64, []int64, error) {
	return nil, nil, nil
}

type MockBroadcastOutcomeRepo struct{}

var _ repository.BroadcastOutcomeRepository = (*MockBroadcastOutcomeRepo)(nil)

func (MockBroadcastOutcomeRepo) Record(ctx context.Context, tx repository.Tx, o *model.BroadcastOutcome) error {
	return nil
}

func (MockBroadcastOutcomeRepo) DeliveredAmong(ctx context.Context, tx repository.Tx, jobID int64, userIDs []int64) (map[int64]bool, error) {
	return map[int64]bool{}, nil
}

func (MockBroadcastOutcomeRepo) Stats(ctx context.Context, tx repository.Tx, jobID int64) (*model.BroadcastStats, error) {
	return &model.BroadcastStats{ByState: map[model.OutcomeResult]int{}}, nil
}

// ---- Mock DialogRepository ----

type MockDialogRepo struct {
	mu   sync.Mutex
	byTG map[int64]model.Dialog
}

var _ repository.DialogRepository = (*MockDialogRepo)(nil)

func NewMockDialogRepo() *MockDialogRepo { return &MockDialogRepo{byTG: map[int64]model.Dialog{}} }

func (r *MockDialogRepo) Get(ctx context.Context, tx repository.Tx, tgID int64) (*model.Dialog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.byTG[tgID]
	if !ok {
		return &model.Dialog{TelegramID: tgID}, nil
	}
	return &d, nil
}

func (r *MockDialogRepo) Save(ctx context.Context, tx repository.Tx, d *model.Dialog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byTG[d.TelegramID] = *d
	return nil
}

func (r *MockDialogRepo) Clear(ctx context.Context, tx repository.Tx, tgID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byTG, tgID)
	return nil
}

// ---- Mock OnboardingRepository ----

type MockOnboardingRepo struct {
	mu   sync.Mutex
	rows map[int64]*model.OnboardingProgress
}

var _ repository.OnboardingRepository = (*MockOnboardingRepo)(nil)

func NewMockOnboardingRepo() *MockOnboardingRepo {
	return &MockOnboardingRepo{rows: map[int64]*model.OnboardingProgress{}}
}

func (r *MockOnboardingRepo) get(userID int64) *model.OnboardingProgress {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.rows[userID]; ok {
		cp := *p
		return &cp
	}
	return nil
}

func (r *MockOnboardingRepo) Enroll(ctx context.Context, tx repository.Tx, userID int64, nextAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[userID]; ok {
		return false, nil
	}
	r.rows[userID] = &model.OnboardingProgress{UserID: userID, NextAt: nextAt}
	return true, nil
}

func (r *MockOnboardingRepo) ClaimDue(ctx context.Context, tx repository.Tx, now time.Time, lease time.Duration, limit int) ([]*model.OnboardingProgress, error) {
	return nil, nil
}

func (r *MockOnboardingRepo) Advance(ctx context.Context, tx repository.Tx, userID int64, step int, nextAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.rows[userID]
	if !ok {
		return domain.ErrNotFound
	}
	p.Step, p.NextAt, p.Attempts = step, nextAt, 0
	return nil
}

func (r *MockOnboardingRepo) Complete(ctx context.Context, tx repository.Tx, userID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.rows[userID]
	if !ok {
		return domain.ErrNotFound
	}
	p.Done = true
	return nil
}

// ---- Mock TransactionManager ----

type MockTxManager struct {
	WithTxFunc func(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error
}

func NewMockTxManager() *MockTxManager {
	return &MockTxManager{}
}

var _ repository.TransactionManager = (*MockTxManager)(nil)

// WithTx runs fn immediately with NoTX unless WithTxFunc overrides it.
func (m *MockTxManager) WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	if m.WithTxFunc != nil {
		return m.WithTxFunc(ctx, txOpt, fn)
	}
	return fn(ctx, repository.NoTX)
}
