package telegram

import (
	"errors"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"telegram-lessons-bot/internal/config"
)

// NewBotAPI connects to the Bot API and verifies the token.
func NewBotAPI(cfg config.BotConfig) (*tgbotapi.BotAPI, error) {
	if cfg.Token == "" {
		return nil, errors.New("bot token is empty")
	}
	api, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("connect bot api: %w", err)
	}
	return api, nil
}

// userCommands is the menu every private chat sees.
var userCommands = []tgbotapi.BotCommand{
	{Command: "start", Description: "Main menu"},
	{Command: "lessons", Description: "Lesson catalog"},
	{Command: "my", Description: "My lessons"},
	{Command: "help", Description: "Help"},
}

var adminCommands = []tgbotapi.BotCommand{
	{Command: "broadcast", Description: "Schedule a broadcast"},
	{Command: "broadcasts", Description: "Recent broadcasts"},
	{Command: "cancel_broadcast", Description: "Cancel a waiting broadcast"},
	{Command: "cancel", Description: "Abort the current dialog"},
	{Command: "lesson_content", Description: "Upload lesson content"},
	{Command: "refund", Description: "Refund a charge"},
	{Command: "stats", Description: "Totals"},
}

// SetMenuCommands publishes the default menu and an extended one for each
// bootstrap admin.
func SetMenuCommands(api BotAPI, adminIDs []int64) error {
	if _, err := api.Request(tgbotapi.NewSetMyCommands(userCommands...)); err != nil {
		return fmt.Errorf("set default commands: %w", err)
	}
	all := append(append([]tgbotapi.BotCommand{}, userCommands...), adminCommands...)
	for _, id := range adminIDs {
		scope := tgbotapi.NewBotCommandScopeChat(id)
		if _, err := api.Request(tgbotapi.NewSetMyCommandsWithScope(scope, all...)); err != nil {
			return fmt.Errorf("set admin commands for %d: %w", id, err)
		}
	}
	return nil
}
