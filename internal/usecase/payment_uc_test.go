//go:build !integration

package usecase_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"telegram-lessons-bot/internal/domain"
	"telegram-lessons-bot/internal/domain/model"
	"telegram-lessons-bot/internal/domain/ports/adapter"
	"telegram-lessons-bot/internal/domain/ports/repository"
	"telegram-lessons-bot/internal/usecase"
)

type paymentUCTestDeps struct {
	users     *MockUserRepo
	lessons   *MockLessonRepo
	purchases *MockPurchaseRepo
	tm        *MockTxManager
	gateway   *MockGateway
}

func newPaymentUCDeps() *paymentUCTestDeps {
	return &paymentUCTestDeps{
		users:     NewMockUserRepo(),
		lessons:   NewMockLessonRepo(),
		purchases: NewMockPurchaseRepo(),
		tm:        NewMockTxManager(),
		gateway:   &MockGateway{},
	}
}

func (d *paymentUCTestDeps) uc(timeout time.Duration) usecase.PaymentUseCase {
	return usecase.NewPaymentUseCase(d.users, d.lessons, d.purchases, d.tm, d.gateway, timeout, newTestLogger())
}

func (d *paymentUCTestDeps) lesson(t *testing.T, price int64) *model.Lesson {
	t.Helper()
	l := &model.Lesson{Title: "Goroutines", Price: price, IsFree: price == 0, Active: true, ContentType: model.ContentVideo, ContentRef: "file-42"}
	if err := d.lessons.Save(context.Background(), repository.NoTX, l); err != nil {
		t.Fatalf("seed lesson: %v", err)
	}
	return l
}

func payment(chargeID string, tgID, lessonID, amount int64) model.SuccessfulPayment {
	pl := model.InvoicePayload{LessonID: lessonID, UserID: tgID, IssuedAt: time.Now()}
	return model.SuccessfulPayment{
		FromID:   tgID,
		ChatID:   tgID,
		ChargeID: chargeID,
		Currency: model.StarsCurrency,
		Amount:   amount,
		Payload:  pl.String(),
	}
}

func TestPaymentUseCase_PurchaseFlow(t *testing.T) {
	ctx := context.Background()
	deps := newPaymentUCDeps()
	uc := deps.uc(time.Second)
	lesson := deps.lesson(t, 75)
	const buyer int64 = 1001

	v, err := uc.EmitInvoice(ctx, buyer, lesson.ID)
	if err != nil || !v.OK {
		t.Fatalf("expected invoice to be emitted, got %+v, %v", v, err)
	}
	if len(deps.gateway.Invoices) != 1 {
		t.Fatalf("expected one invoice, got %d", len(deps.gateway.Invoices))
	}
	inv := deps.gateway.Invoices[0]
	if inv.Price != 75 || inv.Currency != model.StarsCurrency || inv.ChatID != buyer {
		t.Errorf("unexpected invoice %+v", inv)
	}

	d := uc.AuthorizePreCheckout(ctx, model.PreCheckout{QueryID: "q1", FromID: buyer, Currency: model.StarsCurrency, Amount: 75, Payload: inv.Payload})
	if !d.Approved {
		t.Fatalf("expected pre-checkout approval, got %s", d.Reason)
	}

	res, err := uc.FinalizePayment(ctx, model.SuccessfulPayment{
		FromID: buyer, ChatID: buyer, ChargeID: "ch-1", Currency: model.StarsCurrency, Amount: 75, Payload: inv.Payload,
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if res.AlreadyProcessed || res.Duplicate || !res.Delivered {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Purchase.Status != model.PurchaseStatusCompleted {
		t.Errorf("expected completed purchase, got %s", res.Purchase.Status)
	}

	user, _ := deps.users.FindByTelegramID(ctx, repository.NoTX, buyer)
	if user.TotalSpent != 75 {
		t.Errorf("expected total spent 75, got %d", user.TotalSpent)
	}
	if len(deps.gateway.Sent) != 1 || deps.gateway.Sent[0].Artifact.FileRef != "file-42" {
		t.Errorf("expected lesson content delivered once, got %+v", deps.gateway.Sent)
	}
	stored, _ := deps.purchases.FindByChargeID(ctx, repository.NoTX, "ch-1")
	if stored.DeliveredAt == nil {
		t.Error("expected purchase to be marked delivered")
	}

	has, err := uc.HasAccess(ctx, user.ID, lesson)
	if err != nil || !has {
		t.Errorf("expected access after purchase, got %v, %v", has, err)
	}
	if v, _ := uc.Validate(ctx, buyer, lesson.ID); v.OK || v.Reason != model.ReasonAlreadyPurchased {
		t.Errorf("expected already_purchased on second attempt, got %+v", v)
	}
}

func TestPaymentUseCase_FinalizeIsIdempotent(t *testing.T) {
	ctx := context.Background()
	deps := newPaymentUCDeps()
	uc := deps.uc(time.Second)
	lesson := deps.lesson(t, 50)
	p := payment("ch-replay", 2002, lesson.ID, 50)

	if _, err := uc.FinalizePayment(ctx, p); err != nil {
		t.Fatalf("first finalize: %v", err)
	}
	res, err := uc.FinalizePayment(ctx, p)
	if err != nil {
		t.Fatalf("replay finalize: %v", err)
	}
	if !res.AlreadyProcessed {
		t.Fatal("expected replay to report AlreadyProcessed")
	}
	if n := len(deps.purchases.all()); n != 1 {
		t.Errorf("expected exactly one purchase, got %d", n)
	}
	user, _ := deps.users.FindByTelegramID(ctx, repository.NoTX, 2002)
	if user.TotalSpent != 50 {
		t.Errorf("expected spend counted once, got %d", user.TotalSpent)
	}
	if len(deps.gateway.Sent) != 1 {
		t.Errorf("expected a single delivery, got %d", len(deps.gateway.Sent))
	}
}

func TestPaymentUseCase_ConcurrentReplays(t *testing.T) {
	ctx := context.Background()
	deps := newPaymentUCDeps()
	uc := deps.uc(time.Second)
	lesson := deps.lesson(t, 10)
	p := payment("ch-race", 3003, lesson.ID, 10)

	// Pre-create the payer so every goroutine locks the same row.
	if _, _, err := deps.users.Upsert(ctx, repository.NoTX, &model.User{TelegramID: 3003}); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	fresh := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := uc.FinalizePayment(ctx, p)
			if err != nil {
				t.Errorf("finalize: %v", err)
				return
			}
			if !res.AlreadyProcessed {
				mu.Lock()
				fresh++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if fresh != 1 {
		t.Errorf("expected exactly one fresh finalize, got %d", fresh)
	}
}

func TestPaymentUseCase_PayloadMismatch(t *testing.T) {
	ctx := context.Background()
	deps := newPaymentUCDeps()
	uc := deps.uc(time.Second)
	lesson := deps.lesson(t, 30)

	p := payment("ch-stolen", 4004, lesson.ID, 30)
	p.FromID = 5005 // someone else paid with 4004's invoice

	_, err := uc.FinalizePayment(ctx, p)
	if !errors.Is(err, domain.ErrPayloadMismatch) {
		t.Fatalf("expected ErrPayloadMismatch, got %v", err)
	}
	if n := len(deps.purchases.all()); n != 0 {
		t.Errorf("expected no purchase recorded, got %d", n)
	}
	if len(deps.gateway.Sent) != 0 {
		t.Error("expected no content delivered")
	}
}

func TestPaymentUseCase_FinalizeRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	deps := newPaymentUCDeps()
	uc := deps.uc(time.Second)
	lesson := deps.lesson(t, 30)

	cases := map[string]struct {
		mutate func(p *model.SuccessfulPayment)
		want   error
	}{
		"empty charge":    {func(p *model.SuccessfulPayment) { p.ChargeID = " " }, domain.ErrInvalidArgument},
		"garbage payload": {func(p *model.SuccessfulPayment) { p.Payload = "plan|1" }, domain.ErrMalformedPayload},
		"wrong currency":  {func(p *model.SuccessfulPayment) { p.Currency = "USD" }, domain.ErrWrongCurrency},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			p := payment("ch-"+name, 6006, lesson.ID, 30)
			tc.mutate(&p)
			if _, err := uc.FinalizePayment(ctx, p); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
	if n := len(deps.purchases.all()); n != 0 {
		t.Errorf("expected no purchases, got %d", n)
	}
}

func TestPaymentUseCase_DuplicateLessonIsRefunded(t *testing.T) {
	ctx := context.Background()
	deps := newPaymentUCDeps()
	uc := deps.uc(time.Second)
	lesson := deps.lesson(t, 40)

	if _, err := uc.FinalizePayment(ctx, payment("ch-a", 7007, lesson.ID, 40)); err != nil {
		t.Fatalf("first finalize: %v", err)
	}
	res, err := uc.FinalizePayment(ctx, payment("ch-b", 7007, lesson.ID, 40))
	if err != nil {
		t.Fatalf("second finalize: %v", err)
	}
	if !res.Duplicate {
		t.Fatal("expected second charge to be flagged duplicate")
	}
	dup, _ := deps.purchases.FindByChargeID(ctx, repository.NoTX, "ch-b")
	if dup.Status != model.PurchaseStatusFailed || dup.Note != "duplicate_lesson" {
		t.Errorf("expected failed duplicate purchase, got %+v", dup)
	}
	if len(deps.gateway.Refunds) != 1 || deps.gateway.Refunds[0].ChargeID != "ch-b" {
		t.Errorf("expected refund of ch-b, got %+v", deps.gateway.Refunds)
	}
	user, _ := deps.users.FindByTelegramID(ctx, repository.NoTX, 7007)
	if user.TotalSpent != 40 {
		t.Errorf("expected spend to ignore duplicate, got %d", user.TotalSpent)
	}
}

func TestPaymentUseCase_UnknownLessonIsRefunded(t *testing.T) {
	ctx := context.Background()
	deps := newPaymentUCDeps()
	uc := deps.uc(time.Second)

	res, err := uc.FinalizePayment(ctx, payment("ch-gone", 7010, 999, 25))
	if err != nil {
		t.Fatalf("expected the charge recorded, got %v", err)
	}
	if !res.UnknownLesson || res.Delivered {
		t.Fatalf("expected an unknown lesson result, got %+v", res)
	}
	rec, err := deps.purchases.FindByChargeID(ctx, repository.NoTX, "ch-gone")
	if err != nil {
		t.Fatalf("expected a purchase row, got %v", err)
	}
	if rec.Status != model.PurchaseStatusFailed || rec.Note != "unknown_lesson" {
		t.Errorf("expected failed unknown_lesson purchase, got %+v", rec)
	}
	if len(deps.gateway.Refunds) != 1 || deps.gateway.Refunds[0].ChargeID != "ch-gone" {
		t.Errorf("expected refund of ch-gone, got %+v", deps.gateway.Refunds)
	}
	user, _ := deps.users.FindByTelegramID(ctx, repository.NoTX, 7010)
	if user.TotalSpent != 0 {
		t.Errorf("expected no spend recorded, got %d", user.TotalSpent)
	}

	// a replay neither refunds again nor errors
	again, err := uc.FinalizePayment(ctx, payment("ch-gone", 7010, 999, 25))
	if err != nil || !again.AlreadyProcessed {
		t.Fatalf("expected replay to be a no-op, got %+v, %v", again, err)
	}
	if len(deps.gateway.Refunds) != 1 {
		t.Errorf("expected a single refund, got %d", len(deps.gateway.Refunds))
	}
}

func TestPaymentUseCase_DeliveryFailureKeepsPurchase(t *testing.T) {
	ctx := context.Background()
	deps := newPaymentUCDeps()
	deps.gateway.SendFunc = func(ctx context.Context, chatID int64, art model.Artifact, kb model.Keyboard) model.SendResult {
		return model.SendResult{Kind: model.ResultBlocked}
	}
	uc := deps.uc(time.Second)
	lesson := deps.lesson(t, 20)

	res, err := uc.FinalizePayment(ctx, payment("ch-blocked", 8008, lesson.ID, 20))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if res.Delivered {
		t.Error("expected Delivered to be false")
	}
	if res.Purchase.Status != model.PurchaseStatusCompleted {
		t.Errorf("expected purchase to stay completed, got %s", res.Purchase.Status)
	}
	user, _ := deps.users.FindByTelegramID(ctx, repository.NoTX, 8008)
	if user.Active {
		t.Error("expected blocked buyer to be deactivated")
	}
}

func TestPaymentUseCase_AuthorizePreCheckout(t *testing.T) {
	ctx := context.Background()
	const buyer int64 = 9009

	cases := []struct {
		name  string
		setup func(d *paymentUCTestDeps, lesson *model.Lesson)
		query func(lesson *model.Lesson) model.PreCheckout
		want  model.RejectReason
	}{
		{
			name: "price changed after invoice",
			setup: func(d *paymentUCTestDeps, l *model.Lesson) {
				l.Price = 90
				_ = d.lessons.Save(ctx, repository.NoTX, l)
			},
			want: model.ReasonPriceMismatch,
		},
		{
			name:  "lesson deactivated",
			setup: func(d *paymentUCTestDeps, l *model.Lesson) { _ = d.lessons.SetActive(ctx, repository.NoTX, l.ID, false) },
			want:  model.ReasonLessonInactive,
		},
		{
			name: "payer differs from payload",
			query: func(l *model.Lesson) model.PreCheckout {
				pl := model.InvoicePayload{LessonID: l.ID, UserID: buyer + 1, IssuedAt: time.Now()}
				return model.PreCheckout{QueryID: "q", FromID: buyer, Currency: model.StarsCurrency, Amount: l.Price, Payload: pl.String()}
			},
			want: model.ReasonPayloadMismatch,
		},
		{
			name: "malformed payload",
			query: func(l *model.Lesson) model.PreCheckout {
				return model.PreCheckout{QueryID: "q", FromID: buyer, Currency: model.StarsCurrency, Amount: l.Price, Payload: "nope"}
			},
			want: model.ReasonMalformedPayload,
		},
		{
			name: "wrong currency",
			query: func(l *model.Lesson) model.PreCheckout {
				pl := model.InvoicePayload{LessonID: l.ID, UserID: buyer, IssuedAt: time.Now()}
				return model.PreCheckout{QueryID: "q", FromID: buyer, Currency: "EUR", Amount: l.Price, Payload: pl.String()}
			},
			want: model.ReasonWrongCurrency,
		},
		{
			name: "banned user",
			setup: func(d *paymentUCTestDeps, l *model.Lesson) {
				_, _, _ = d.users.Upsert(ctx, repository.NoTX, &model.User{TelegramID: buyer})
				_ = d.users.SetBanned(ctx, repository.NoTX, buyer, true)
			},
			want: model.ReasonUserBlocked,
		},
		{
			name: "already owned",
			setup: func(d *paymentUCTestDeps, l *model.Lesson) {
				u, _, _ := d.users.Upsert(ctx, repository.NoTX, &model.User{TelegramID: buyer})
				_, _ = d.purchases.Insert(ctx, repository.NoTX, &model.Purchase{UserID: u.ID, LessonID: l.ID, ChargeID: "old", Status: model.PurchaseStatusCompleted})
			},
			want: model.ReasonAlreadyPurchased,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			deps := newPaymentUCDeps()
			lesson := deps.lesson(t, 75)
			q := model.PreCheckout{
				QueryID:  "q",
				FromID:   buyer,
				Currency: model.StarsCurrency,
				Amount:   75,
				Payload:  model.InvoicePayload{LessonID: lesson.ID, UserID: buyer, IssuedAt: time.Now()}.String(),
			}
			if tc.query != nil {
				q = tc.query(lesson)
			}
			if tc.setup != nil {
				tc.setup(deps, lesson)
			}
			d := deps.uc(time.Second).AuthorizePreCheckout(ctx, q)
			if d.Approved || d.Reason != tc.want {
				t.Fatalf("expected deny %s, got %+v", tc.want, d)
			}
		})
	}
}

func TestPaymentUseCase_PreCheckoutTimeout(t *testing.T) {
	ctx := context.Background()
	deps := newPaymentUCDeps()
	lesson := deps.lesson(t, 75)
	deps.lessons.FindByIDFunc = func(ctx context.Context, tx repository.Tx, id int64) (*model.Lesson, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	uc := deps.uc(50 * time.Millisecond)

	start := time.Now()
	d := uc.AuthorizePreCheckout(ctx, model.PreCheckout{
		QueryID: "q", FromID: 1, Currency: model.StarsCurrency, Amount: 75,
		Payload: model.InvoicePayload{LessonID: lesson.ID, UserID: 1, IssuedAt: time.Now()}.String(),
	})
	if d.Approved || d.Reason != model.ReasonInternal {
		t.Fatalf("expected internal deny on timeout, got %+v", d)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("expected answer within the deadline, took %s", elapsed)
	}
}

func TestPaymentUseCase_Validate(t *testing.T) {
	ctx := context.Background()
	deps := newPaymentUCDeps()
	uc := deps.uc(time.Second)

	free := &model.Lesson{Title: "Intro", Active: true, IsFree: true, ContentType: model.ContentText}
	_ = deps.lessons.Save(ctx, repository.NoTX, free)

	if v, _ := uc.Validate(ctx, 1, 999); v.Reason != model.ReasonLessonMissing {
		t.Errorf("expected lesson_missing, got %s", v.Reason)
	}
	if v, _ := uc.Validate(ctx, 1, free.ID); v.Reason != model.ReasonLessonFree {
		t.Errorf("expected lesson_free, got %s", v.Reason)
	}
	if has, _ := uc.HasAccess(ctx, 1, free); !has {
		t.Error("expected implicit access to an active free lesson")
	}

	deps.gateway.SendInvoiceFunc = func(ctx context.Context, inv adapter.Invoice) model.SendResult {
		return model.SendResult{Kind: model.ResultTransient, Detail: "timeout"}
	}
	paid := deps.lesson(t, 10)
	if _, err := uc.EmitInvoice(ctx, 1, paid.ID); !errors.Is(err, domain.ErrTransient) {
		t.Errorf("expected ErrTransient when the invoice cannot be sent, got %v", err)
	}
}

func TestPaymentUseCase_Refund(t *testing.T) {
	ctx := context.Background()

	t.Run("refunds a completed purchase", func(t *testing.T) {
		deps := newPaymentUCDeps()
		uc := deps.uc(time.Second)
		lesson := deps.lesson(t, 60)
		if _, err := uc.FinalizePayment(ctx, payment("ch-r", 1111, lesson.ID, 60)); err != nil {
			t.Fatal(err)
		}

		pur, err := uc.Refund(ctx, "ch-r")
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if pur.Status != model.PurchaseStatusRefunded || pur.RefundedAt == nil {
			t.Errorf("unexpected purchase after refund %+v", pur)
		}
		user, _ := deps.users.FindByTelegramID(ctx, repository.NoTX, 1111)
		if user.TotalSpent != 0 {
			t.Errorf("expected spend rolled back, got %d", user.TotalSpent)
		}
		if has, _ := uc.HasAccess(ctx, user.ID, lesson); has {
			t.Error("expected access revoked after refund")
		}
		if _, err := uc.Refund(ctx, "ch-r"); !errors.Is(err, domain.ErrNotRefundable) {
			t.Errorf("expected ErrNotRefundable on second refund, got %v", err)
		}
	})

	t.Run("provider failure leaves the purchase completed", func(t *testing.T) {
		deps := newPaymentUCDeps()
		deps.gateway.RefundFunc = func(ctx context.Context, userTgID int64, chargeID string) error {
			return fmt.Errorf("refund: %w", domain.ErrTransient)
		}
		uc := deps.uc(time.Second)
		lesson := deps.lesson(t, 60)
		if _, err := uc.FinalizePayment(ctx, payment("ch-x", 2222, lesson.ID, 60)); err != nil {
			t.Fatal(err)
		}

		if _, err := uc.Refund(ctx, "ch-x"); !errors.Is(err, domain.ErrTransient) {
			t.Fatalf("expected transient error, got %v", err)
		}
		pur, _ := deps.purchases.FindByChargeID(ctx, repository.NoTX, "ch-x")
		if pur.Status != model.PurchaseStatusCompleted {
			t.Errorf("expected purchase still completed, got %s", pur.Status)
		}
	})

	t.Run("unknown charge", func(t *testing.T) {
		deps := newPaymentUCDeps()
		if _, err := deps.uc(time.Second).Refund(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestPaymentUseCase_ListOwned(t *testing.T) {
	ctx := context.Background()
	deps := newPaymentUCDeps()
	uc := deps.uc(time.Second)
	a := deps.lesson(t, 10)
	deps.lesson(t, 20)

	if owned, err := uc.ListOwned(ctx, 3333); err != nil || len(owned) != 0 {
		t.Fatalf("unknown user should own nothing, got %v, %v", owned, err)
	}
	if _, err := uc.FinalizePayment(ctx, payment("ch-own", 3333, a.ID, 10)); err != nil {
		t.Fatal(err)
	}
	owned, err := uc.ListOwned(ctx, 3333)
	if err != nil || len(owned) != 1 || owned[0].ID != a.ID {
		t.Fatalf("expected lesson %d owned, got %v, %v", a.ID, owned, err)
	}
	sum, n, err := uc.Revenue(ctx)
	if err != nil || sum != 10 || n != 1 {
		t.Errorf("expected revenue 10 over 1 purchase, got %d/%d, %v", sum, n, err)
	}
}
