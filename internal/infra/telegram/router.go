package telegram

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"telegram-lessons-bot/internal/application"
	"telegram-lessons-bot/internal/config"
	"telegram-lessons-bot/internal/domain"
	"telegram-lessons-bot/internal/domain/model"
	"telegram-lessons-bot/internal/domain/ports/adapter"
	"telegram-lessons-bot/internal/infra/logging"
	"telegram-lessons-bot/internal/infra/metrics"
	"telegram-lessons-bot/internal/usecase"
)

// UpdateSource is the long-polling half of *tgbotapi.BotAPI.
type UpdateSource interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// handleTimeout bounds one update once it has been taken off the wire.
const handleTimeout = 30 * time.Second

// Router polls updates and hands each one to a worker chosen by user id, so
// a user's updates are handled in order while different users run
// concurrently.
type Router struct {
	src      UpdateSource
	facade   *application.BotFacade
	gw       adapter.TelegramGateway
	throttle Throttler

	workers     int
	pollTimeout int
	log         *zerolog.Logger
}

func NewRouter(src UpdateSource, facade *application.BotFacade, gw adapter.TelegramGateway, throttle Throttler, cfg config.BotConfig, logger *zerolog.Logger) *Router {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 8
	}
	poll := cfg.PollTimeoutSec
	if poll <= 0 {
		poll = 30
	}
	if throttle == nil {
		throttle = NewMemoryThrottle(cfg.Throttle())
	}
	l := logger.With().Str("component", "TelegramRouter").Logger()
	return &Router{
		src:         src,
		facade:      facade,
		gw:          gw,
		throttle:    throttle,
		workers:     workers,
		pollTimeout: poll,
		log:         &l,
	}
}

// Run polls until ctx is cancelled. Updates already received are still
// handled to completion before Run returns.
func (r *Router) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = r.pollTimeout
	u.AllowedUpdates = []string{"message", "callback_query", "pre_checkout_query", "chat_join_request", "my_chat_member"}
	updates := r.src.GetUpdatesChan(u)

	shards := make([]chan tgbotapi.Update, r.workers)
	var wg sync.WaitGroup
	for i := range shards {
		shards[i] = make(chan tgbotapi.Update, 64)
		wg.Add(1)
		go func(in <-chan tgbotapi.Update) {
			defer wg.Done()
			for up := range in {
				r.handle(ctx, up)
			}
		}(shards[i])
	}
	r.log.Info().Int("workers", r.workers).Msg("polling for updates")

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case up, ok := <-updates:
			if !ok {
				break loop
			}
			select {
			case shards[shardOf(up, r.workers)] <- up:
			case <-ctx.Done():
				break loop
			}
		}
	}

	r.src.StopReceivingUpdates()
	for _, s := range shards {
		close(s)
	}
	wg.Wait()
	r.log.Info().Msg("router stopped")
	return nil
}

func shardOf(up tgbotapi.Update, n int) int {
	id := updateUserID(up)
	if id < 0 {
		id = -id
	}
	return int(id % int64(n))
}

func updateUserID(up tgbotapi.Update) int64 {
	switch {
	case up.Message != nil && up.Message.From != nil:
		return up.Message.From.ID
	case up.CallbackQuery != nil && up.CallbackQuery.From != nil:
		return up.CallbackQuery.From.ID
	case up.PreCheckoutQuery != nil && up.PreCheckoutQuery.From != nil:
		return up.PreCheckoutQuery.From.ID
	case up.ChatJoinRequest != nil:
		return up.ChatJoinRequest.From.ID
	case up.MyChatMember != nil:
		return up.MyChatMember.From.ID
	}
	return 0
}

// handle runs one update on a context detached from shutdown so payments
// already taken off the wire are still recorded.
func (r *Router) handle(parent context.Context, up tgbotapi.Update) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), handleTimeout)
	defer cancel()
	ctx = logging.WithTraceID(ctx, uuid.NewString())
	if id := updateUserID(up); id != 0 {
		ctx = logging.WithTgID(ctx, id)
	}
	log := logging.With(ctx, r.log)

	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Interface("panic", rec).Int("update_id", up.UpdateID).Msg("update handler panicked")
		}
	}()

	route, err := r.dispatch(ctx, up)
	metrics.IncTelegramUpdate(route)
	if err != nil {
		log.Error().Err(err).Str("route", route).Int("update_id", up.UpdateID).Msg("update handling failed")
	}
}

// dispatch picks the handler by update kind. Payments and join requests are
// never throttled.
func (r *Router) dispatch(ctx context.Context, up tgbotapi.Update) (string, error) {
	switch {
	case up.PreCheckoutQuery != nil:
		return "pre_checkout", r.handlePreCheckout(ctx, up.PreCheckoutQuery)
	case up.Message != nil && up.Message.SuccessfulPayment != nil:
		return "successful_payment", r.handleSuccessfulPayment(ctx, up.Message)
	case up.ChatJoinRequest != nil:
		return "join_request", r.handleJoinRequest(ctx, up.ChatJoinRequest)
	case up.MyChatMember != nil:
		return "my_chat_member", r.handleMyChatMember(ctx, up.MyChatMember)
	case up.CallbackQuery != nil:
		if up.CallbackQuery.From == nil {
			return "ignored", nil
		}
		if !r.allow(ctx, up.CallbackQuery.From.ID) {
			_ = r.gw.AnswerCallback(ctx, up.CallbackQuery.ID, "")
			return "throttled", nil
		}
		return "callback", r.handleCallback(ctx, up.CallbackQuery)
	case up.Message != nil:
		if up.Message.From == nil || up.Message.Chat == nil || !up.Message.Chat.IsPrivate() {
			return "ignored", nil
		}
		if !r.allow(ctx, up.Message.From.ID) {
			return "throttled", nil
		}
		if up.Message.IsCommand() {
			return "command", r.handleCommand(ctx, up.Message)
		}
		return "message", r.handleMessage(ctx, up.Message)
	}
	return "ignored", nil
}

func (r *Router) allow(ctx context.Context, tgID int64) bool {
	ok, err := r.throttle.Allow(ctx, tgID)
	if err != nil {
		r.log.Warn().Err(err).Msg("throttle backend failed, letting update through")
		return true
	}
	if !ok {
		metrics.IncRateLimitTriggered()
	}
	return ok
}

// session is the authenticated caller of an interactive update.
type session struct {
	user  *model.User
	admin *model.Admin
	chat  int64
}

func (s *session) lang() string { return s.user.Lang() }

// authenticate registers the user on first sight and loads admin rights.
func (r *Router) authenticate(ctx context.Context, from *tgbotapi.User, chatID int64) (*session, error) {
	user, err := r.facade.UserUC.RegisterOrFetch(ctx, from.ID, from.UserName, displayName(from), from.LanguageCode)
	if err != nil {
		return nil, err
	}
	admin, err := r.facade.AdminUC.Get(ctx, from.ID)
	if err != nil {
		return nil, err
	}
	return &session{user: user, admin: admin, chat: chatID}, nil
}

func displayName(u *tgbotapi.User) string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

func (r *Router) handlePreCheckout(ctx context.Context, q *tgbotapi.PreCheckoutQuery) error {
	if q.From == nil {
		return r.gw.AnswerPreCheckout(ctx, q.ID, false, "")
	}
	d := r.facade.PaymentUC.AuthorizePreCheckout(ctx, model.PreCheckout{
		QueryID:  q.ID,
		FromID:   q.From.ID,
		Currency: q.Currency,
		Amount:   int64(q.TotalAmount),
		Payload:  q.InvoicePayload,
	})
	return r.gw.AnswerPreCheckout(ctx, q.ID, d.Approved, r.facade.RejectText(q.From.LanguageCode, d.Reason))
}

func (r *Router) handleSuccessfulPayment(ctx context.Context, msg *tgbotapi.Message) error {
	sp := msg.SuccessfulPayment
	if msg.From == nil {
		return errors.New("successful payment without sender")
	}
	res, err := r.facade.PaymentUC.FinalizePayment(ctx, model.SuccessfulPayment{
		FromID:   msg.From.ID,
		ChatID:   msg.Chat.ID,
		ChargeID: sp.TelegramPaymentChargeID,
		Currency: sp.Currency,
		Amount:   int64(sp.TotalAmount),
		Payload:  sp.InvoicePayload,
	})
	lang := msg.From.LanguageCode
	if err != nil {
		_ = r.reply(ctx, msg.Chat.ID, application.Reply{Text: r.facade.T.T(lang, "payment_error")})
		return err
	}
	return r.reply(ctx, msg.Chat.ID, r.facade.PaymentReply(lang, res))
}

func (r *Router) handleJoinRequest(ctx context.Context, jr *tgbotapi.ChatJoinRequest) error {
	err := r.facade.OnboardingUC.HandleJoinRequest(ctx, jr.Chat.ID, jr.From.ID, jr.From.UserName, displayName(&jr.From), jr.From.LanguageCode)
	if errors.Is(err, domain.ErrForbidden) {
		r.log.Debug().Int64("chat_id", jr.Chat.ID).Msg("join request for an unmanaged chat ignored")
		return nil
	}
	return err
}

// handleMyChatMember tracks users blocking and unblocking the bot.
func (r *Router) handleMyChatMember(ctx context.Context, m *tgbotapi.ChatMemberUpdated) error {
	if !m.Chat.IsPrivate() {
		return nil
	}
	switch m.NewChatMember.Status {
	case "kicked":
		return r.facade.UserUC.MarkUnreachableByTelegramID(ctx, m.From.ID)
	case "member":
		_, err := r.facade.UserUC.RegisterOrFetch(ctx, m.From.ID, m.From.UserName, displayName(&m.From), m.From.LanguageCode)
		return err
	}
	return nil
}

func (r *Router) handleCallback(ctx context.Context, q *tgbotapi.CallbackQuery) error {
	defer func() { _ = r.gw.AnswerCallback(ctx, q.ID, "") }()

	chatID := q.From.ID
	if q.Message != nil && q.Message.Chat != nil {
		chatID = q.Message.Chat.ID
	}
	s, err := r.authenticate(ctx, q.From, chatID)
	if err != nil {
		return err
	}
	data := strings.TrimSpace(q.Data)
	if fn, ok := r.callbackRoutes()[data]; ok {
		return fn(ctx, s, data)
	}
	for _, pr := range r.callbackPrefixRoutes() {
		if strings.HasPrefix(data, pr.Prefix) {
			return pr.Fn(ctx, s, strings.TrimPrefix(data, pr.Prefix))
		}
	}
	return errors.New("unknown callback data")
}

func (r *Router) handleCommand(ctx context.Context, msg *tgbotapi.Message) error {
	s, err := r.authenticate(ctx, msg.From, msg.Chat.ID)
	if err != nil {
		_ = r.reply(ctx, msg.Chat.ID, application.Reply{Text: r.facade.T.T(msg.From.LanguageCode, "error_generic")})
		return err
	}
	cmd := strings.ToLower(msg.Command())
	fn, ok := r.commandRoutes()[cmd]
	if !ok {
		return r.say(ctx, s, "unknown_command")
	}
	return fn(ctx, s, msg)
}

// handleMessage feeds plain messages to a running admin dialog.
func (r *Router) handleMessage(ctx context.Context, msg *tgbotapi.Message) error {
	s, err := r.authenticate(ctx, msg.From, msg.Chat.ID)
	if err != nil {
		return err
	}
	if s.admin.Allows() {
		active, err := r.facade.DialogUC.Active(ctx, s.user.TelegramID)
		if err != nil {
			return err
		}
		if active {
			return r.continueDialog(ctx, s, dialogInput(msg))
		}
	}
	return r.say(ctx, s, "use_menu")
}

func (r *Router) continueDialog(ctx context.Context, s *session, in usecase.DialogInput) error {
	step, err := r.facade.DialogUC.Handle(ctx, s.user.TelegramID, in)
	if err != nil {
		_ = r.say(ctx, s, "error_generic")
		return err
	}
	if step.State == model.DialogAwaitConfirm {
		// preview exactly what recipients will get
		res := r.gw.Copy(ctx, step.Draft.SourceChatID, step.Draft.SourceMessageID, s.chat, step.Draft.Keyboard)
		if !res.OK() {
			r.log.Warn().Str("result", res.Kind.String()).Msg("broadcast preview failed")
		}
	}
	return r.reply(ctx, s.chat, r.facade.DialogReply(s.lang(), step))
}

// reply sends a rendered answer. A user who blocked the bot is marked
// unreachable on the spot.
func (r *Router) reply(ctx context.Context, chatID int64, rep application.Reply) error {
	if rep.Empty() {
		return nil
	}
	var res model.SendResult
	if len(rep.Rows) > 0 {
		res = r.gw.SendButtons(ctx, chatID, rep.Text, rep.Rows)
	} else {
		res = r.gw.Send(ctx, chatID, model.Artifact{Type: model.ContentText, Text: rep.Text}, nil)
	}
	switch res.Kind {
	case model.ResultDelivered:
		return nil
	case model.ResultBlocked, model.ResultInvalidChat:
		if err := r.facade.UserUC.MarkUnreachableByTelegramID(ctx, chatID); err != nil {
			r.log.Warn().Err(err).Msg("failed to mark user unreachable")
		}
		return nil
	}
	return res.Err()
}

func (r *Router) say(ctx context.Context, s *session, key string, args ...interface{}) error {
	return r.reply(ctx, s.chat, application.Reply{Text: r.facade.T.T(s.lang(), key, args...)})
}
