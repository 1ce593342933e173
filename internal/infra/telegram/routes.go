package telegram

import (
	"context"
	"errors"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"telegram-lessons-bot/internal/application"
	"telegram-lessons-bot/internal/domain"
	"telegram-lessons-bot/internal/domain/model"
	"telegram-lessons-bot/internal/infra/metrics"
	"telegram-lessons-bot/internal/usecase"
)

type commandHandler func(ctx context.Context, s *session, msg *tgbotapi.Message) error

type cbHandler func(ctx context.Context, s *session, arg string) error

type prefixCB struct {
	Prefix string
	Fn     cbHandler
}

// commandRoutes maps slash commands to handlers. Admin commands are wrapped
// in requireAdmin.
func (r *Router) commandRoutes() map[string]commandHandler {
	return map[string]commandHandler{
		"start":   r.handleStartCommand,
		"lessons": r.handleCatalogCommand,
		"catalog": r.handleCatalogCommand,
		"my":      r.handleMyLessonsCommand,
		"help":    r.handleHelpCommand,

		"cancel":           r.requireAdmin(r.handleCancelDialogCommand),
		"broadcast":        r.requireAdmin(r.handleBroadcastCommand, model.PermBroadcast),
		"broadcasts":       r.requireAdmin(r.handleBroadcastsCommand, model.PermBroadcast),
		"cancel_broadcast": r.requireAdmin(r.handleCancelBroadcastCommand, model.PermBroadcast),
		"refund":           r.requireAdmin(r.handleRefundCommand, model.PermRefunds),
		"stats":            r.requireAdmin(r.handleStatsCommand, model.PermStats),
		"lesson_content":   r.requireAdmin(r.handleLessonContentCommand, model.PermLessons),
		"ban":              r.requireAdmin(r.handleBanCommand(true), model.PermAll),
		"unban":            r.requireAdmin(r.handleBanCommand(false), model.PermAll),
		"grant":            r.requireAdmin(r.handleGrantCommand, model.PermAll),
		"revoke":           r.requireAdmin(r.handleRevokeCommand, model.PermAll),
	}
}

// requireAdmin lets the command through only for active admins holding perms.
func (r *Router) requireAdmin(next commandHandler, perms ...model.Permission) commandHandler {
	return func(ctx context.Context, s *session, msg *tgbotapi.Message) error {
		cmd := "/" + msg.Command()
		if !s.admin.Allows(perms...) {
			metrics.IncAdminCommand(cmd, "unauthorized")
			return r.say(ctx, s, "error_unauthorized")
		}
		metrics.IncAdminCommand(cmd, "authorized")
		if err := r.facade.AdminUC.TouchLogin(ctx, s.user.TelegramID); err != nil {
			r.log.Warn().Err(err).Int64("tg_id", s.user.TelegramID).Msg("failed to touch admin login")
		}
		return next(ctx, s, msg)
	}
}

func (r *Router) handleStartCommand(ctx context.Context, s *session, msg *tgbotapi.Message) error {
	// deep link t.me/<bot>?start=catalog opens the catalog directly
	if strings.TrimSpace(msg.CommandArguments()) == application.CbCatalog {
		return r.handleCatalogCommand(ctx, s, msg)
	}
	return r.reply(ctx, s.chat, r.facade.HandleStart(s.user))
}

func (r *Router) handleCatalogCommand(ctx context.Context, s *session, _ *tgbotapi.Message) error {
	rep, err := r.facade.HandleCatalog(ctx, s.user)
	if err != nil {
		_ = r.say(ctx, s, "error_generic")
		return err
	}
	return r.reply(ctx, s.chat, rep)
}

func (r *Router) handleMyLessonsCommand(ctx context.Context, s *session, _ *tgbotapi.Message) error {
	rep, err := r.facade.HandleMyLessons(ctx, s.user)
	if err != nil {
		_ = r.say(ctx, s, "error_generic")
		return err
	}
	return r.reply(ctx, s.chat, rep)
}

func (r *Router) handleHelpCommand(ctx context.Context, s *session, _ *tgbotapi.Message) error {
	return r.reply(ctx, s.chat, r.facade.HandleHelp(s.lang(), s.admin))
}

func (r *Router) handleCancelDialogCommand(ctx context.Context, s *session, _ *tgbotapi.Message) error {
	if err := r.facade.DialogUC.Cancel(ctx, s.user.TelegramID); err != nil {
		return err
	}
	return r.say(ctx, s, "dialog_cancelled")
}

func (r *Router) handleBroadcastCommand(ctx context.Context, s *session, _ *tgbotapi.Message) error {
	step, err := r.facade.DialogUC.StartBroadcast(ctx, s.user.TelegramID)
	if err != nil {
		return err
	}
	return r.reply(ctx, s.chat, r.facade.DialogReply(s.lang(), step))
}

func (r *Router) handleLessonContentCommand(ctx context.Context, s *session, msg *tgbotapi.Message) error {
	id, err := strconv.ParseInt(strings.TrimSpace(msg.CommandArguments()), 10, 64)
	if err != nil || id <= 0 {
		return r.say(ctx, s, "usage_lesson_content")
	}
	step, err := r.facade.DialogUC.StartLessonUpload(ctx, s.user.TelegramID, id)
	if errors.Is(err, domain.ErrNotFound) {
		return r.reply(ctx, s.chat, application.Reply{Text: r.facade.RejectText(s.lang(), model.ReasonLessonMissing)})
	}
	if err != nil {
		return err
	}
	return r.reply(ctx, s.chat, r.facade.DialogReply(s.lang(), step))
}

// adminReply adapts a facade admin call into a command handler.
func (r *Router) adminReply(fn func(ctx context.Context, lang, arg string) (application.Reply, error)) commandHandler {
	return func(ctx context.Context, s *session, msg *tgbotapi.Message) error {
		rep, err := fn(ctx, s.lang(), strings.TrimSpace(msg.CommandArguments()))
		if err != nil {
			_ = r.say(ctx, s, "error_generic")
			return err
		}
		return r.reply(ctx, s.chat, rep)
	}
}

func (r *Router) handleBroadcastsCommand(ctx context.Context, s *session, msg *tgbotapi.Message) error {
	return r.adminReply(func(ctx context.Context, lang, _ string) (application.Reply, error) {
		return r.facade.HandleBroadcasts(ctx, lang)
	})(ctx, s, msg)
}

func (r *Router) handleCancelBroadcastCommand(ctx context.Context, s *session, msg *tgbotapi.Message) error {
	return r.adminReply(r.facade.HandleCancelBroadcast)(ctx, s, msg)
}

func (r *Router) handleRefundCommand(ctx context.Context, s *session, msg *tgbotapi.Message) error {
	return r.adminReply(r.facade.HandleRefund)(ctx, s, msg)
}

func (r *Router) handleStatsCommand(ctx context.Context, s *session, msg *tgbotapi.Message) error {
	return r.adminReply(func(ctx context.Context, lang, _ string) (application.Reply, error) {
		return r.facade.HandleStats(ctx, lang)
	})(ctx, s, msg)
}

func (r *Router) handleBanCommand(banned bool) commandHandler {
	return r.adminReply(func(ctx context.Context, lang, arg string) (application.Reply, error) {
		return r.facade.HandleSetBanned(ctx, lang, arg, banned)
	})
}

func (r *Router) handleGrantCommand(ctx context.Context, s *session, msg *tgbotapi.Message) error {
	return r.adminReply(r.facade.HandleGrant)(ctx, s, msg)
}

func (r *Router) handleRevokeCommand(ctx context.Context, s *session, msg *tgbotapi.Message) error {
	return r.adminReply(r.facade.HandleRevoke)(ctx, s, msg)
}

// callbackRoutes are exact-match callback data handlers.
func (r *Router) callbackRoutes() map[string]cbHandler {
	return map[string]cbHandler{
		application.CbMenu:      r.menuCBRoute,
		application.CbCatalog:   r.catalogCBRoute,
		application.CbMyLessons: r.myLessonsCBRoute,
	}
}

func (r *Router) callbackPrefixRoutes() []prefixCB {
	return []prefixCB{
		{Prefix: application.CbBuy, Fn: r.buyPrefixCBRoute},
		{Prefix: application.CbLesson, Fn: r.lessonPrefixCBRoute},
		{Prefix: application.CbDialog, Fn: r.dialogPrefixCBRoute},
	}
}

func (r *Router) menuCBRoute(ctx context.Context, s *session, _ string) error {
	return r.reply(ctx, s.chat, r.facade.HandleStart(s.user))
}

func (r *Router) catalogCBRoute(ctx context.Context, s *session, _ string) error {
	return r.handleCatalogCommand(ctx, s, nil)
}

func (r *Router) myLessonsCBRoute(ctx context.Context, s *session, _ string) error {
	return r.handleMyLessonsCommand(ctx, s, nil)
}

func (r *Router) buyPrefixCBRoute(ctx context.Context, s *session, arg string) error {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return r.reply(ctx, s.chat, application.Reply{Text: r.facade.RejectText(s.lang(), model.ReasonLessonMissing)})
	}
	rep, err := r.facade.HandleBuy(ctx, s.user, id)
	if err != nil {
		_ = r.say(ctx, s, "error_generic")
		return err
	}
	return r.reply(ctx, s.chat, rep)
}

// lessonPrefixCBRoute sends the lesson body itself when the user has access.
func (r *Router) lessonPrefixCBRoute(ctx context.Context, s *session, arg string) error {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return r.reply(ctx, s.chat, application.Reply{Text: r.facade.RejectText(s.lang(), model.ReasonLessonMissing)})
	}
	art, rep, err := r.facade.HandleOpenLesson(ctx, s.user, id)
	if err != nil {
		_ = r.say(ctx, s, "error_generic")
		return err
	}
	if art == nil {
		return r.reply(ctx, s.chat, rep)
	}
	res := r.gw.Send(ctx, s.chat, *art, nil)
	metrics.IncDelivery(res.Kind.String())
	return res.Err()
}

func (r *Router) dialogPrefixCBRoute(ctx context.Context, s *session, arg string) error {
	if !s.admin.Allows() {
		return r.say(ctx, s, "error_unauthorized")
	}
	return r.continueDialog(ctx, s, usecase.DialogInput{ChatID: s.chat, Text: arg})
}

// dialogInput extracts what a dialog step may need from an admin message.
// Media messages use their caption as text.
func dialogInput(msg *tgbotapi.Message) usecase.DialogInput {
	in := usecase.DialogInput{ChatID: msg.Chat.ID, MessageID: msg.MessageID, Text: msg.Text}
	if art := artifactOf(msg); art != nil {
		in.Artifact = art
		in.Text = msg.Caption
	}
	return in
}

// artifactOf returns the media carried by msg, or nil for plain text.
func artifactOf(msg *tgbotapi.Message) *model.Artifact {
	switch {
	case len(msg.Photo) > 0:
		// the last size is the largest
		p := msg.Photo[len(msg.Photo)-1]
		return &model.Artifact{Type: model.ContentPhoto, FileRef: p.FileID, Text: msg.Caption}
	case msg.Video != nil:
		return &model.Artifact{Type: model.ContentVideo, FileRef: msg.Video.FileID, Text: msg.Caption}
	case msg.Document != nil:
		return &model.Artifact{Type: model.ContentDocument, FileRef: msg.Document.FileID, Text: msg.Caption}
	}
	return nil
}
