// File: internal/infra/telegram/gateway.go
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"telegram-lessons-bot/internal/domain"
	"telegram-lessons-bot/internal/domain/model"
	"telegram-lessons-bot/internal/domain/ports/adapter"
	"telegram-lessons-bot/internal/infra/metrics"
)

// BotAPI is the subset of *tgbotapi.BotAPI the gateway calls.
type BotAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	CopyMessage(c tgbotapi.CopyMessageConfig) (tgbotapi.MessageID, error)
	MakeRequest(endpoint string, params tgbotapi.Params) (*tgbotapi.APIResponse, error)
}

var _ adapter.TelegramGateway = (*Gateway)(nil)

// Gateway sends through the Bot API and classifies every failure.
type Gateway struct {
	api BotAPI
	log *zerolog.Logger
}

func NewGateway(api BotAPI, logger *zerolog.Logger) *Gateway {
	l := logger.With().Str("component", "TelegramGateway").Logger()
	return &Gateway{api: api, log: &l}
}

func (g *Gateway) Send(ctx context.Context, chatID int64, art model.Artifact, kb model.Keyboard) model.SendResult {
	if err := ctx.Err(); err != nil {
		return cancelled(err)
	}
	var c tgbotapi.Chattable
	markup := keyboardMarkup(kb)
	switch art.Type {
	case model.ContentPhoto:
		m := tgbotapi.NewPhoto(chatID, tgbotapi.FileID(art.FileRef))
		m.Caption = art.Text
		m.ReplyMarkup = markup
		c = m
	case model.ContentVideo:
		m := tgbotapi.NewVideo(chatID, tgbotapi.FileID(art.FileRef))
		m.Caption = art.Text
		m.ReplyMarkup = markup
		c = m
	case model.ContentDocument:
		m := tgbotapi.NewDocument(chatID, tgbotapi.FileID(art.FileRef))
		m.Caption = art.Text
		m.ReplyMarkup = markup
		c = m
	default:
		m := tgbotapi.NewMessage(chatID, art.Text)
		m.ReplyMarkup = markup
		c = m
	}
	msg, err := g.api.Send(c)
	return g.result(msg.MessageID, err)
}

func (g *Gateway) Copy(ctx context.Context, fromChatID int64, messageID int, toChatID int64, kb model.Keyboard) model.SendResult {
	if err := ctx.Err(); err != nil {
		return cancelled(err)
	}
	cfg := tgbotapi.NewCopyMessage(toChatID, fromChatID, messageID)
	cfg.ReplyMarkup = keyboardMarkup(kb)
	id, err := g.api.CopyMessage(cfg)
	return g.result(id.MessageID, err)
}

// SendButtons sends a message with inline buttons.
// - If btn.URL is set, the button opens a link
// - Else if btn.Data is set, the button sends callback data
// - Else the label doubles as callback data
func (g *Gateway) SendButtons(ctx context.Context, chatID int64, text string, rows [][]adapter.InlineButton) model.SendResult {
	if err := ctx.Err(); err != nil {
		return cancelled(err)
	}
	kbRows := make([][]tgbotapi.InlineKeyboardButton, 0, len(rows))
	for _, row := range rows {
		if len(row) == 0 {
			continue
		}
		r := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, btn := range row {
			label := strings.TrimSpace(btn.Text)
			if label == "" {
				label = "•"
			}
			switch {
			case btn.URL != "":
				r = append(r, tgbotapi.NewInlineKeyboardButtonURL(label, btn.URL))
			case btn.Data != "":
				r = append(r, tgbotapi.NewInlineKeyboardButtonData(label, btn.Data))
			default:
				r = append(r, tgbotapi.NewInlineKeyboardButtonData(label, label))
			}
		}
		kbRows = append(kbRows, r)
	}
	msg := tgbotapi.NewMessage(chatID, text)
	if len(kbRows) > 0 {
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(kbRows...)
	}
	sent, err := g.api.Send(msg)
	return g.result(sent.MessageID, err)
}

func (g *Gateway) SendInvoice(ctx context.Context, inv adapter.Invoice) model.SendResult {
	if err := ctx.Err(); err != nil {
		return cancelled(err)
	}
	currency := inv.Currency
	if currency == "" {
		currency = model.StarsCurrency
	}
	prices := []tgbotapi.LabeledPrice{{Label: inv.Title, Amount: int(inv.Price)}}
	cfg := tgbotapi.NewInvoice(inv.ChatID, inv.Title, inv.Description, inv.Payload, "", "", currency, prices)
	// Bot API rejects a null tip list.
	cfg.SuggestedTipAmounts = []int{}
	msg, err := g.api.Send(cfg)
	return g.result(msg.MessageID, err)
}

func (g *Gateway) AnswerPreCheckout(ctx context.Context, queryID string, ok bool, reason string) error {
	cfg := tgbotapi.PreCheckoutConfig{PreCheckoutQueryID: queryID, OK: ok}
	if !ok {
		cfg.ErrorMessage = reason
	}
	_, err := g.api.Request(cfg)
	return wrapTransport("answer pre-checkout", err)
}

func (g *Gateway) AnswerCallback(ctx context.Context, callbackID, text string) error {
	_, err := g.api.Request(tgbotapi.NewCallback(callbackID, text))
	return wrapTransport("answer callback", err)
}

// RefundStarPayment calls refundStarPayment, which the library has no config type for.
func (g *Gateway) RefundStarPayment(ctx context.Context, userTgID int64, chargeID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	params := tgbotapi.Params{}
	params["user_id"] = strconv.FormatInt(userTgID, 10)
	params["telegram_payment_charge_id"] = chargeID
	_, err := g.api.MakeRequest("refundStarPayment", params)
	return wrapTransport("refund star payment", err)
}

func (g *Gateway) ApproveJoinRequest(ctx context.Context, chatID, userTgID int64) error {
	cfg := tgbotapi.ApproveChatJoinRequestConfig{
		ChatConfig: tgbotapi.ChatConfig{ChatID: chatID},
		UserID:     userTgID,
	}
	_, err := g.api.Request(cfg)
	return wrapTransport("approve join request", err)
}

func (g *Gateway) result(msgID int, err error) model.SendResult {
	res := Classify(err)
	if res.OK() {
		res.MessageID = msgID
	} else {
		g.log.Debug().Str("kind", res.Kind.String()).Str("detail", res.Detail).Msg("send not delivered")
	}
	metrics.IncSend(res.Kind.String())
	return res
}

// Classify maps a Bot API error onto the send taxonomy.
//
//	nil                          -> delivered
//	429                          -> rate_limited (retry_after, at least 1s)
//	403                          -> blocked (blocked, deactivated, kicked)
//	400 message to copy missing  -> source_missing
//	400 chat/user not found      -> invalid_chat
//	anything else                -> transient with detail
func Classify(err error) model.SendResult {
	if err == nil {
		return model.SendResult{Kind: model.ResultDelivered}
	}
	var apiErr *tgbotapi.Error
	if !errors.As(err, &apiErr) {
		return model.SendResult{Kind: model.ResultTransient, Detail: err.Error()}
	}
	desc := strings.ToLower(apiErr.Message)
	switch {
	case apiErr.Code == 429:
		wait := time.Duration(apiErr.RetryAfter) * time.Second
		if wait < time.Second {
			wait = time.Second
		}
		return model.SendResult{Kind: model.ResultRateLimited, RetryAfter: wait, Detail: apiErr.Message}
	case apiErr.Code == 403:
		return model.SendResult{Kind: model.ResultBlocked, Detail: apiErr.Message}
	case apiErr.Code == 400 && strings.Contains(desc, "message to copy not found"):
		return model.SendResult{Kind: model.ResultSourceMissing, Detail: apiErr.Message}
	case apiErr.Code == 400 && isInvalidChat(desc):
		return model.SendResult{Kind: model.ResultInvalidChat, Detail: apiErr.Message}
	}
	return model.SendResult{Kind: model.ResultTransient, Detail: fmt.Sprintf("%d: %s", apiErr.Code, apiErr.Message)}
}

func isInvalidChat(desc string) bool {
	for _, s := range []string{"chat not found", "user not found", "peer_id_invalid", "user is deactivated", "chat_write_forbidden"} {
		if strings.Contains(desc, s) {
			return true
		}
	}
	return false
}

func cancelled(err error) model.SendResult {
	return model.SendResult{Kind: model.ResultTransient, Detail: err.Error()}
}

func wrapTransport(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %v", op, domain.ErrTransient, err)
}

// keyboardMarkup renders one URL button per row; nil when there are none.
func keyboardMarkup(kb model.Keyboard) interface{} {
	if len(kb) == 0 {
		return nil
	}
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(kb))
	for _, b := range kb {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonURL(b.Label, b.URL)))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}
