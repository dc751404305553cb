// File: internal/notify/telegram.go

// Package notify delivers change notifications to external channels.
// Telegram is the only channel today; the schemas.Notifier interface
// keeps the monitor decoupled from the transport.
package notify

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/buttonwatcher/wbw/internal/config"
)

// botClient is the slice of the Telegram API the notifier needs.
// Narrowed for testability.
type botClient interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramNotifier sends plain-text messages to a single chat.
type TelegramNotifier struct {
	bot    botClient
	chatID int64
	logger *zap.Logger
}

// NewTelegramNotifier authenticates against the Bot API and returns a
// notifier bound to the configured chat. The token is read from
// configuration (environment only, never the config file).
func NewTelegramNotifier(cfg config.NotifyConfig, logger *zap.Logger) (*TelegramNotifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("telegram authentication failed: %w", err)
	}
	logger.Info("Telegram bot authenticated", zap.String("username", bot.Self.UserName))

	return &TelegramNotifier{
		bot:    bot,
		chatID: cfg.ChatID,
		logger: logger.Named("telegram"),
	}, nil
}

// Notify sends one message to the configured chat. The context governs
// only the caller's patience; the underlying client uses its own HTTP
// timeout.
func (n *TelegramNotifier) Notify(ctx context.Context, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := tgbotapi.NewMessage(n.chatID, message)
	if _, err := n.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram send to chat %d: %w", n.chatID, err)
	}

	n.logger.Debug("Notification delivered", zap.Int64("chat_id", n.chatID))
	return nil
}
