package application

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"telegram-lessons-bot/internal/domain"
	"telegram-lessons-bot/internal/domain/model"
	"telegram-lessons-bot/internal/domain/ports/adapter"
	"telegram-lessons-bot/internal/usecase"
)

// Callback data prefixes shared with the Telegram router.
const (
	CbMenu      = "menu"
	CbCatalog   = "catalog"
	CbMyLessons = "my"
	CbBuy       = "buy:"
	CbLesson    = "lesson:"
	CbDialog    = "dlg:"
)

// BotFacade composes usecases into high-level bot commands.
// Methods return rendered replies so the Telegram router only forwards them.
type BotFacade struct {
	UserUC       usecase.UserUseCase
	AdminUC      usecase.AdminUseCase
	LessonUC     usecase.LessonUseCase
	PaymentUC    usecase.PaymentUseCase
	BroadcastUC  usecase.BroadcastUseCase
	DialogUC     usecase.DialogUseCase
	OnboardingUC usecase.OnboardingUseCase
	StatsUC      usecase.StatsUseCase
	T            Translator
}

func NewBotFacade(
	userUC usecase.UserUseCase,
	adminUC usecase.AdminUseCase,
	lessonUC usecase.LessonUseCase,
	paymentUC usecase.PaymentUseCase,
	broadcastUC usecase.BroadcastUseCase,
	dialogUC usecase.DialogUseCase,
	onboardingUC usecase.OnboardingUseCase,
	statsUC usecase.StatsUseCase,
	t Translator,
) *BotFacade {
	return &BotFacade{
		UserUC:       userUC,
		AdminUC:      adminUC,
		LessonUC:     lessonUC,
		PaymentUC:    paymentUC,
		BroadcastUC:  broadcastUC,
		DialogUC:     dialogUC,
		OnboardingUC: onboardingUC,
		StatsUC:      statsUC,
		T:            t,
	}
}

// MainMenu is the keyboard under the welcome message.
func (b *BotFacade) MainMenu(lang string) [][]adapter.InlineButton {
	return [][]adapter.InlineButton{
		{{Text: b.T.T(lang, "menu_catalog"), Data: CbCatalog}},
		{{Text: b.T.T(lang, "menu_my_lessons"), Data: CbMyLessons}},
	}
}

func (b *BotFacade) HandleStart(user *model.User) Reply {
	name := user.DisplayName
	if name == "" {
		name = user.Username
	}
	return Reply{Text: b.T.T(user.Lang(), "welcome", name), Rows: b.MainMenu(user.Lang())}
}

func (b *BotFacade) HandleHelp(lang string, admin *model.Admin) Reply {
	msg := b.T.T(lang, "help_user")
	if admin.Allows() {
		msg += "\n\n" + b.T.T(lang, "help_admin")
	}
	return text(msg)
}

// HandleCatalog lists active lessons. Owned and free lessons open directly,
// the rest lead to an invoice.
func (b *BotFacade) HandleCatalog(ctx context.Context, user *model.User) (Reply, error) {
	lang := user.Lang()
	lessons, err := b.LessonUC.Catalog(ctx, nil)
	if err != nil {
		return Reply{}, fmt.Errorf("catalog: %w", err)
	}
	if len(lessons) == 0 {
		return Reply{Text: b.T.T(lang, "catalog_empty"), Rows: b.backRow(lang)}, nil
	}
	rows := make([][]adapter.InlineButton, 0, len(lessons)+1)
	for _, l := range lessons {
		has, err := b.PaymentUC.HasAccess(ctx, user.ID, l)
		if err != nil {
			return Reply{}, fmt.Errorf("catalog access: %w", err)
		}
		var btn adapter.InlineButton
		switch {
		case l.IsFree:
			btn = adapter.InlineButton{Text: b.T.T(lang, "catalog_item_free", l.Title), Data: lessonData(l.ID)}
		case has:
			btn = adapter.InlineButton{Text: b.T.T(lang, "catalog_item_owned", l.Title), Data: lessonData(l.ID)}
		default:
			btn = adapter.InlineButton{Text: b.T.T(lang, "catalog_item_paid", l.Title, l.Price), Data: buyData(l.ID)}
		}
		rows = append(rows, []adapter.InlineButton{btn})
	}
	rows = append(rows, b.backRow(lang)...)
	return Reply{Text: b.T.T(lang, "catalog_header"), Rows: rows}, nil
}

func (b *BotFacade) HandleMyLessons(ctx context.Context, user *model.User) (Reply, error) {
	lang := user.Lang()
	owned, err := b.PaymentUC.ListOwned(ctx, user.TelegramID)
	if err != nil {
		return Reply{}, fmt.Errorf("owned lessons: %w", err)
	}
	if len(owned) == 0 {
		return Reply{Text: b.T.T(lang, "my_lessons_empty"), Rows: b.MainMenu(lang)}, nil
	}
	rows := make([][]adapter.InlineButton, 0, len(owned)+1)
	for _, l := range owned {
		rows = append(rows, []adapter.InlineButton{{Text: l.Title, Data: lessonData(l.ID)}})
	}
	rows = append(rows, b.backRow(lang)...)
	return Reply{Text: b.T.T(lang, "my_lessons_header"), Rows: rows}, nil
}

// HandleOpenLesson returns the lesson body when the user has access, or an
// offer to buy it otherwise.
func (b *BotFacade) HandleOpenLesson(ctx context.Context, user *model.User, lessonID int64) (*model.Artifact, Reply, error) {
	lang := user.Lang()
	l, err := b.LessonUC.Get(ctx, lessonID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, text(b.RejectText(lang, model.ReasonLessonMissing)), nil
	}
	if err != nil {
		return nil, Reply{}, err
	}
	has, err := b.PaymentUC.HasAccess(ctx, user.ID, l)
	if err != nil {
		return nil, Reply{}, err
	}
	if has {
		art := l.Artifact()
		return &art, Reply{}, nil
	}
	if !l.Active {
		return nil, text(b.RejectText(lang, model.ReasonLessonInactive)), nil
	}
	return nil, Reply{
		Text: b.T.T(lang, "lesson_locked", l.Title, l.Price),
		Rows: [][]adapter.InlineButton{{{Text: b.T.T(lang, "button_buy", l.Price), Data: buyData(l.ID)}}},
	}, nil
}

// HandleBuy emits an invoice. On success the invoice is the answer and the
// returned reply is empty.
func (b *BotFacade) HandleBuy(ctx context.Context, user *model.User, lessonID int64) (Reply, error) {
	v, err := b.PaymentUC.EmitInvoice(ctx, user.TelegramID, lessonID)
	if err != nil {
		return Reply{}, err
	}
	if !v.OK {
		return text(b.RejectText(user.Lang(), v.Reason)), nil
	}
	return Reply{}, nil
}

func (b *BotFacade) RejectText(lang string, reason model.RejectReason) string {
	if reason == model.ReasonNone {
		return ""
	}
	return b.T.T(lang, "reject_"+string(reason))
}

// PaymentReply tells the buyer what happened to a captured charge. Replays
// are silent.
func (b *BotFacade) PaymentReply(lang string, res model.FinalizeResult) Reply {
	switch {
	case res.AlreadyProcessed:
		return Reply{}
	case res.Duplicate:
		return text(b.T.T(lang, "payment_duplicate_refunded"))
	case res.UnknownLesson:
		return text(b.T.T(lang, "payment_unknown_lesson_refunded"))
	case res.Delivered:
		return Reply{Text: b.T.T(lang, "payment_thanks"), Rows: b.MainMenu(lang)}
	}
	return text(b.T.T(lang, "payment_delivery_pending"))
}

func (b *BotFacade) HandleStats(ctx context.Context, lang string) (Reply, error) {
	t, err := b.StatsUC.Totals(ctx)
	if err != nil {
		return Reply{}, fmt.Errorf("stats: %w", err)
	}
	return text(b.T.T(lang, "stats_text", t.Users, t.ActiveUsers, t.Purchases, t.Revenue)), nil
}

func (b *BotFacade) HandleBroadcasts(ctx context.Context, lang string) (Reply, error) {
	jobs, err := b.BroadcastUC.List(ctx, 10)
	if err != nil {
		return Reply{}, fmt.Errorf("list broadcasts: %w", err)
	}
	if len(jobs) == 0 {
		return text(b.T.T(lang, "broadcasts_empty")), nil
	}
	var sb strings.Builder
	sb.WriteString(b.T.T(lang, "broadcasts_header"))
	for _, j := range jobs {
		sb.WriteString("\n")
		sb.WriteString(b.T.T(lang, "broadcasts_item", j.ID, string(j.Status), j.FireAt.Format("2006-01-02 15:04"), j.DeliveredCount, j.FailedCount))
		if j.FailReason != "" {
			sb.WriteString(" (" + j.FailReason + ")")
		}
	}
	return text(sb.String()), nil
}

func (b *BotFacade) HandleCancelBroadcast(ctx context.Context, lang, arg string) (Reply, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(arg), 10, 64)
	if err != nil || id <= 0 {
		return text(b.T.T(lang, "usage_cancel_broadcast")), nil
	}
	err = b.BroadcastUC.Cancel(ctx, id)
	switch {
	case err == nil:
		return text(b.T.T(lang, "broadcast_cancelled", id)), nil
	case errors.Is(err, domain.ErrNotFound):
		return text(b.T.T(lang, "broadcast_not_found", id)), nil
	case errors.Is(err, domain.ErrJobNotWaiting):
		return text(b.T.T(lang, "broadcast_not_waiting", id)), nil
	}
	return Reply{}, err
}

func (b *BotFacade) HandleRefund(ctx context.Context, lang, chargeID string) (Reply, error) {
	chargeID = strings.TrimSpace(chargeID)
	if chargeID == "" {
		return text(b.T.T(lang, "usage_refund")), nil
	}
	pur, err := b.PaymentUC.Refund(ctx, chargeID)
	switch {
	case err == nil:
		return text(b.T.T(lang, "refund_done", pur.Amount, chargeID)), nil
	case errors.Is(err, domain.ErrNotFound):
		return text(b.T.T(lang, "refund_not_found", chargeID)), nil
	case errors.Is(err, domain.ErrNotRefundable):
		return text(b.T.T(lang, "refund_not_refundable", chargeID)), nil
	}
	return Reply{}, err
}

func (b *BotFacade) HandleSetBanned(ctx context.Context, lang, arg string, banned bool) (Reply, error) {
	tgID, err := strconv.ParseInt(strings.TrimSpace(arg), 10, 64)
	if err != nil || tgID <= 0 {
		return text(b.T.T(lang, "usage_ban")), nil
	}
	if err := b.UserUC.SetBanned(ctx, tgID, banned); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return text(b.T.T(lang, "user_not_found", tgID)), nil
		}
		return Reply{}, err
	}
	if banned {
		return text(b.T.T(lang, "user_banned", tgID)), nil
	}
	return text(b.T.T(lang, "user_unbanned", tgID)), nil
}

// HandleGrant parses "<tg_id> <perm,perm>" and upserts the admin.
func (b *BotFacade) HandleGrant(ctx context.Context, lang, args string) (Reply, error) {
	fields := strings.Fields(args)
	if len(fields) != 2 {
		return text(b.T.T(lang, "usage_grant")), nil
	}
	tgID, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil || tgID <= 0 {
		return text(b.T.T(lang, "usage_grant")), nil
	}
	var perms []model.Permission
	for _, p := range strings.Split(fields[1], ",") {
		if p = strings.TrimSpace(p); p != "" {
			perms = append(perms, model.Permission(p))
		}
	}
	if err := b.AdminUC.Grant(ctx, tgID, "", perms); err != nil {
		if errors.Is(err, domain.ErrInvalidArgument) {
			return text(b.T.T(lang, "usage_grant")), nil
		}
		return Reply{}, err
	}
	return text(b.T.T(lang, "admin_granted", tgID)), nil
}

func (b *BotFacade) HandleRevoke(ctx context.Context, lang, arg string) (Reply, error) {
	tgID, err := strconv.ParseInt(strings.TrimSpace(arg), 10, 64)
	if err != nil || tgID <= 0 {
		return text(b.T.T(lang, "usage_revoke")), nil
	}
	if err := b.AdminUC.Revoke(ctx, tgID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return text(b.T.T(lang, "user_not_found", tgID)), nil
		}
		return Reply{}, err
	}
	return text(b.T.T(lang, "admin_revoked", tgID)), nil
}

// DialogReply renders a dialog step. The confirm step carries yes/no buttons.
func (b *BotFacade) DialogReply(lang string, step usecase.DialogStep) Reply {
	r := text(b.T.T(lang, step.Prompt, step.Args...))
	if step.State == model.DialogAwaitConfirm {
		r.Rows = [][]adapter.InlineButton{{
			{Text: b.T.T(lang, "dialog_yes"), Data: CbDialog + "yes"},
			{Text: b.T.T(lang, "dialog_no"), Data: CbDialog + "no"},
		}}
	}
	return r
}

func (b *BotFacade) backRow(lang string) [][]adapter.InlineButton {
	return [][]adapter.InlineButton{{{Text: b.T.T(lang, "menu_back"), Data: CbMenu}}}
}

func lessonData(id int64) string { return CbLesson + strconv.FormatInt(id, 10) }
func buyData(id int64) string    { return CbBuy + strconv.FormatInt(id, 10) }
