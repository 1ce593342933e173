// File: internal/usecase/payment_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"telegram-lessons-bot/internal/domain"
	"telegram-lessons-bot/internal/domain/model"
	"telegram-lessons-bot/internal/domain/ports/adapter"
	"telegram-lessons-bot/internal/domain/ports/repository"
	ports "telegram-lessons-bot/internal/domain/ports/usecase"
	"telegram-lessons-bot/internal/infra/logging"
	"telegram-lessons-bot/internal/infra/metrics"
)

// Compile-time check
var (
	_ PaymentUseCase         = (*paymentUC)(nil)
	_ ports.ContentDeliverer = (*paymentUC)(nil)
)

const (
	noteDuplicateLesson = "duplicate_lesson"
	noteUnknownLesson   = "unknown_lesson"
)

type PaymentUseCase interface {
	// Validate checks whether the Telegram user may buy the lesson.
	Validate(ctx context.Context, tgUserID, lessonID int64) (model.Validation, error)
	// EmitInvoice validates and, when allowed, sends a Stars invoice.
	EmitInvoice(ctx context.Context, tgUserID, lessonID int64) (model.Validation, error)
	// AuthorizePreCheckout decides a pre-checkout query within the configured
	// deadline. Internal failures deny with ReasonInternal.
	AuthorizePreCheckout(ctx context.Context, q model.PreCheckout) model.Decision
	// FinalizePayment records a captured charge exactly once and delivers the lesson.
	FinalizePayment(ctx context.Context, p model.SuccessfulPayment) (model.FinalizeResult, error)
	Refund(ctx context.Context, chargeID string) (*model.Purchase, error)
	DeliverPurchase(ctx context.Context, p *model.Purchase) error
	HasAccess(ctx context.Context, userID int64, lesson *model.Lesson) (bool, error)
	ListOwned(ctx context.Context, tgUserID int64) ([]*model.Lesson, error)
	Revenue(ctx context.Context) (sum int64, count int, err error)
}

type paymentUC struct {
	users     repository.UserRepository
	lessons   repository.LessonRepository
	purchases repository.PurchaseRepository
	tm        repository.TransactionManager
	gateway   adapter.TelegramGateway

	preCheckoutTimeout time.Duration
	now                func() time.Time
	log                *zerolog.Logger
}

func NewPaymentUseCase(
	users repository.UserRepository,
	lessons repository.LessonRepository,
	purchases repository.PurchaseRepository,
	tm repository.TransactionManager,
	gateway adapter.TelegramGateway,
	preCheckoutTimeout time.Duration,
	logger *zerolog.Logger,
) *paymentUC {
	if preCheckoutTimeout <= 0 {
		preCheckoutTimeout = 3 * time.Second
	}
	return &paymentUC{
		users:              users,
		lessons:            lessons,
		purchases:          purchases,
		tm:                 tm,
		gateway:            gateway,
		preCheckoutTimeout: preCheckoutTimeout,
		now:                func() time.Time { return time.Now().UTC() },
		log:                logger,
	}
}

func (u *paymentUC) Validate(ctx context.Context, tgUserID, lessonID int64) (model.Validation, error) {
	lesson, err := u.lessons.FindByID(ctx, repository.NoTX, lessonID)
	if errors.Is(err, domain.ErrNotFound) {
		return model.Reject(model.ReasonLessonMissing, nil), nil
	}
	if err != nil {
		return model.Validation{}, err
	}
	if !lesson.Active {
		return model.Reject(model.ReasonLessonInactive, lesson), nil
	}
	if lesson.IsFree {
		return model.Reject(model.ReasonLessonFree, lesson), nil
	}
	user, err := u.users.FindByTelegramID(ctx, repository.NoTX, tgUserID)
	if errors.Is(err, domain.ErrNotFound) {
		// never seen: owns nothing and cannot be banned
		return model.Validation{OK: true, Lesson: lesson}, nil
	}
	if err != nil {
		return model.Validation{}, err
	}
	if user.Banned {
		return model.Reject(model.ReasonUserBlocked, lesson), nil
	}
	owned, err := u.purchases.HasCompleted(ctx, repository.NoTX, user.ID, lesson.ID)
	if err != nil {
		return model.Validation{}, err
	}
	if owned {
		return model.Reject(model.ReasonAlreadyPurchased, lesson), nil
	}
	return model.Validation{OK: true, Lesson: lesson}, nil
}

func (u *paymentUC) EmitInvoice(ctx context.Context, tgUserID, lessonID int64) (model.Validation, error) {
	defer logging.TraceDuration(u.log, "PaymentUC.EmitInvoice")()

	v, err := u.Validate(ctx, tgUserID, lessonID)
	if err != nil || !v.OK {
		return v, err
	}
	desc := strings.TrimSpace(v.Lesson.Description)
	if desc == "" {
		desc = v.Lesson.Title
	}
	payload := model.InvoicePayload{LessonID: v.Lesson.ID, UserID: tgUserID, IssuedAt: u.now()}
	res := u.gateway.SendInvoice(ctx, adapter.Invoice{
		ChatID:      tgUserID,
		Title:       v.Lesson.Title,
		Description: desc,
		Payload:     payload.String(),
		Currency:    model.StarsCurrency,
		Price:       v.Lesson.Price,
	})
	if !res.OK() {
		metrics.IncPayment("invoice_failed")
		return v, fmt.Errorf("send invoice: %w: %s", domain.ErrTransient, res.Kind)
	}
	metrics.IncPayment("invoice_sent")
	return v, nil
}

func (u *paymentUC) AuthorizePreCheckout(ctx context.Context, q model.PreCheckout) model.Decision {
	ctx, cancel := context.WithTimeout(ctx, u.preCheckoutTimeout)
	defer cancel()

	ch := make(chan model.Decision, 1)
	go func() { ch <- u.decide(ctx, q) }()

	var d model.Decision
	select {
	case d = <-ch:
	case <-ctx.Done():
		d = model.Deny(model.ReasonInternal)
	}
	metrics.IncPreCheckout(string(d.Reason))
	if !d.Approved {
		u.log.Info().Int64("tg_id", q.FromID).Str("reason", string(d.Reason)).Msg("pre-checkout denied")
	}
	return d
}

func (u *paymentUC) decide(ctx context.Context, q model.PreCheckout) model.Decision {
	pl, err := model.ParseInvoicePayload(q.Payload)
	if err != nil {
		return model.Deny(model.ReasonMalformedPayload)
	}
	if q.Currency != model.StarsCurrency {
		return model.Deny(model.ReasonWrongCurrency)
	}
	if pl.UserID != q.FromID {
		return model.Deny(model.ReasonPayloadMismatch)
	}
	lesson, err := u.lessons.FindByID(ctx, repository.NoTX, pl.LessonID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return model.Deny(model.ReasonLessonMissing)
	case err != nil:
		u.log.Error().Err(err).Msg("pre-checkout lesson lookup failed")
		return model.Deny(model.ReasonInternal)
	case !lesson.Active:
		return model.Deny(model.ReasonLessonInactive)
	case lesson.IsFree:
		return model.Deny(model.ReasonLessonFree)
	case q.Amount != lesson.Price:
		return model.Deny(model.ReasonPriceMismatch)
	}
	user, err := u.users.FindByTelegramID(ctx, repository.NoTX, q.FromID)
	if errors.Is(err, domain.ErrNotFound) {
		return model.Approve()
	}
	if err != nil {
		u.log.Error().Err(err).Msg("pre-checkout user lookup failed")
		return model.Deny(model.ReasonInternal)
	}
	if user.Banned {
		return model.Deny(model.ReasonUserBlocked)
	}
	owned, err := u.purchases.HasCompleted(ctx, repository.NoTX, user.ID, lesson.ID)
	if err != nil {
		u.log.Error().Err(err).Msg("pre-checkout ownership lookup failed")
		return model.Deny(model.ReasonInternal)
	}
	if owned {
		return model.Deny(model.ReasonAlreadyPurchased)
	}
	return model.Approve()
}

func (u *paymentUC) FinalizePayment(ctx context.Context, p model.SuccessfulPayment) (model.FinalizeResult, error) {
	defer logging.TraceDuration(u.log, "PaymentUC.FinalizePayment")()
	log := u.log.With().Str("charge_id", p.ChargeID).Int64("tg_id", p.FromID).Logger()

	if strings.TrimSpace(p.ChargeID) == "" {
		return model.FinalizeResult{}, domain.ErrInvalidArgument
	}
	pl, err := model.ParseInvoicePayload(p.Payload)
	if err != nil {
		metrics.IncPayment("rejected")
		return model.FinalizeResult{}, fmt.Errorf("finalize %s: %w", p.ChargeID, err)
	}
	if pl.UserID != p.FromID {
		metrics.IncPayment("rejected")
		log.Error().Int64("payload_user", pl.UserID).Msg("payment payload does not match payer")
		return model.FinalizeResult{}, fmt.Errorf("finalize %s: %w", p.ChargeID, domain.ErrPayloadMismatch)
	}
	if p.Currency != model.StarsCurrency {
		metrics.IncPayment("rejected")
		return model.FinalizeResult{}, fmt.Errorf("finalize %s: %w", p.ChargeID, domain.ErrWrongCurrency)
	}

	var res model.FinalizeResult
	err = u.tm.WithTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(ctx context.Context, tx repository.Tx) error {
		res = model.FinalizeResult{}
		user, err := u.lockPayer(ctx, tx, p.FromID)
		if err != nil {
			return err
		}
		unknown := false
		if _, err := u.lessons.FindByID(ctx, tx, pl.LessonID); errors.Is(err, domain.ErrNotFound) {
			unknown = true
		} else if err != nil {
			return err
		}
		owned := false
		if !unknown {
			if owned, err = u.purchases.HasCompleted(ctx, tx, user.ID, pl.LessonID); err != nil {
				return err
			}
		}
		pur := &model.Purchase{
			UserID:      user.ID,
			LessonID:    pl.LessonID,
			ChargeID:    p.ChargeID,
			Amount:      p.Amount,
			Currency:    p.Currency,
			Status:      model.PurchaseStatusCompleted,
			PurchasedAt: u.now(),
		}
		switch {
		case unknown:
			pur.Status = model.PurchaseStatusFailed
			pur.Note = noteUnknownLesson
		case owned:
			pur.Status = model.PurchaseStatusFailed
			pur.Note = noteDuplicateLesson
		}
		inserted, err := u.purchases.Insert(ctx, tx, pur)
		if err != nil {
			return err
		}
		if !inserted {
			existing, err := u.purchases.FindByChargeID(ctx, tx, p.ChargeID)
			if err != nil {
				return err
			}
			res.Purchase = existing
			res.AlreadyProcessed = true
			return nil
		}
		res.Purchase = pur
		if unknown {
			res.UnknownLesson = true
			return nil
		}
		if owned {
			res.Duplicate = true
			return nil
		}
		return u.users.AddSpent(ctx, tx, user.ID, p.Amount)
	})
	if err != nil {
		metrics.IncPayment("error")
		log.Error().Err(err).Msg("failed to record payment")
		return model.FinalizeResult{}, fmt.Errorf("finalize %s: %w", p.ChargeID, err)
	}

	switch {
	case res.AlreadyProcessed:
		metrics.IncPayment("replayed")
		log.Info().Msg("charge already processed")
		return res, nil
	case res.Duplicate:
		metrics.IncPayment(noteDuplicateLesson)
		log.Warn().Int64("lesson_id", pl.LessonID).Msg("lesson already owned, refunding charge")
		if err := u.gateway.RefundStarPayment(ctx, p.FromID, p.ChargeID); err != nil {
			log.Error().Err(err).Msg("refund of duplicate charge failed")
		}
		return res, nil
	case res.UnknownLesson:
		metrics.IncPayment(noteUnknownLesson)
		log.Warn().Int64("lesson_id", pl.LessonID).Msg("charge names a lesson that does not exist, refunding")
		if err := u.gateway.RefundStarPayment(ctx, p.FromID, p.ChargeID); err != nil {
			log.Error().Err(err).Msg("refund of unknown lesson charge failed")
		}
		return res, nil
	}

	metrics.IncPayment("completed")
	metrics.AddPaymentRevenue(p.Currency, p.Amount)
	log.Info().Int64("lesson_id", pl.LessonID).Int64("amount", p.Amount).Msg("purchase completed")

	if err := u.DeliverPurchase(ctx, res.Purchase); err != nil {
		log.Warn().Err(err).Msg("lesson delivery failed, reconciler will retry")
		return res, nil
	}
	res.Delivered = true
	return res, nil
}

// lockPayer row-locks the payer, creating the user when the charge is the
// first thing we hear from them.
func (u *paymentUC) lockPayer(ctx context.Context, tx repository.Tx, tgID int64) (*model.User, error) {
	user, err := u.users.LockByTelegramID(ctx, tx, tgID)
	if !errors.Is(err, domain.ErrNotFound) {
		return user, err
	}
	nu, err := model.NewUser(tgID, "", "", "")
	if err != nil {
		return nil, err
	}
	if _, _, err := u.users.Upsert(ctx, tx, nu); err != nil {
		return nil, err
	}
	return u.users.LockByTelegramID(ctx, tx, tgID)
}

// Refund returns the Stars first and only then marks the purchase refunded,
// so a failed provider call leaves the purchase untouched.
func (u *paymentUC) Refund(ctx context.Context, chargeID string) (*model.Purchase, error) {
	pur, err := u.purchases.FindByChargeID(ctx, repository.NoTX, chargeID)
	if err != nil {
		return nil, err
	}
	if pur.Status != model.PurchaseStatusCompleted {
		return nil, domain.ErrNotRefundable
	}
	user, err := u.users.FindByID(ctx, repository.NoTX, pur.UserID)
	if err != nil {
		return nil, err
	}
	if err := u.gateway.RefundStarPayment(ctx, user.TelegramID, chargeID); err != nil {
		metrics.IncPayment("refund_failed")
		return nil, err
	}
	at := u.now()
	err = u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		ok, err := u.purchases.MarkRefunded(ctx, tx, chargeID, at)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrNotRefundable
		}
		return u.users.AddSpent(ctx, tx, pur.UserID, -pur.Amount)
	})
	if err != nil {
		return nil, err
	}
	pur.Status = model.PurchaseStatusRefunded
	pur.RefundedAt = &at
	metrics.IncPayment("refunded")
	u.log.Info().Str("charge_id", chargeID).Int64("amount", pur.Amount).Msg("purchase refunded")
	return pur, nil
}

func (u *paymentUC) DeliverPurchase(ctx context.Context, p *model.Purchase) error {
	lesson, err := u.lessons.FindByID(ctx, repository.NoTX, p.LessonID)
	if err != nil {
		return err
	}
	user, err := u.users.FindByID(ctx, repository.NoTX, p.UserID)
	if err != nil {
		return err
	}
	res := u.gateway.Send(ctx, user.TelegramID, lesson.Artifact(), nil)
	metrics.IncDelivery(res.Kind.String())
	switch res.Kind {
	case model.ResultDelivered:
		return u.purchases.MarkDelivered(ctx, repository.NoTX, p.ID, u.now())
	case model.ResultBlocked, model.ResultInvalidChat:
		if err := u.users.Deactivate(ctx, repository.NoTX, user.ID, u.now()); err != nil {
			u.log.Warn().Err(err).Int64("user_id", user.ID).Msg("failed to deactivate unreachable buyer")
		}
	}
	return res.Err()
}

func (u *paymentUC) HasAccess(ctx context.Context, userID int64, lesson *model.Lesson) (bool, error) {
	if lesson.IsFree {
		return lesson.Active, nil
	}
	return u.purchases.HasCompleted(ctx, repository.NoTX, userID, lesson.ID)
}

func (u *paymentUC) ListOwned(ctx context.Context, tgUserID int64) ([]*model.Lesson, error) {
	user, err := u.users.FindByTelegramID(ctx, repository.NoTX, tgUserID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	purchases, err := u.purchases.ListCompletedByUser(ctx, repository.NoTX, user.ID)
	if err != nil {
		return nil, err
	}
	out := make([]*model.Lesson, 0, len(purchases))
	for _, p := range purchases {
		l, err := u.lessons.FindByID(ctx, repository.NoTX, p.LessonID)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, nil
}

func (u *paymentUC) Revenue(ctx context.Context) (int64, int, error) {
	sum, err := u.purchases.SumCompleted(ctx, repository.NoTX)
	if err != nil {
		return 0, 0, err
	}
	n, err := u.purchases.CountCompleted(ctx, repository.NoTX)
	if err != nil {
		return 0, 0, err
	}
	return sum, n, nil
}
