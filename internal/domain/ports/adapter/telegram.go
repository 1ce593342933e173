// File: internal/domain/ports/adapter/telegram.go
package adapter

import (
	"context"

	"telegram-lessons-bot/internal/domain/model"
)

// InlineButton is a callback or URL button for interactive replies.
type InlineButton struct {
	Text string
	Data string
	URL  string
}

// Invoice describes a single-line Stars invoice.
type Invoice struct {
	ChatID      int64
	Title       string
	Description string
	Payload     string
	Currency    string
	Price       int64
}

// TelegramGateway is the outbound side of the Telegram API. Send and Copy never
// return transport errors; every failure is classified into the SendResult.
type TelegramGateway interface {
	Send(ctx context.Context, chatID int64, art model.Artifact, kb model.Keyboard) model.SendResult
	Copy(ctx context.Context, fromChatID int64, messageID int, toChatID int64, kb model.Keyboard) model.SendResult
	SendButtons(ctx context.Context, chatID int64, text string, rows [][]InlineButton) model.SendResult
	SendInvoice(ctx context.Context, inv Invoice) model.SendResult
	AnswerPreCheckout(ctx context.Context, queryID string, ok bool, reason string) error
	AnswerCallback(ctx context.Context, callbackID, text string) error
	RefundStarPayment(ctx context.Context, userTgID int64, chargeID string) error
	ApproveJoinRequest(ctx context.Context, chatID, userTgID int64) error
}
