// Package notify surfaces operator-visible failures. The pipeline itself
// never blocks on notification delivery.
package notify

import (
	"context"
	"fmt"

	"formsync/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// TelegramNotifier pushes dead-letter and credential alerts to the
// operator chat.
type TelegramNotifier struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	logger zerolog.Logger
}

func NewTelegram(token string, chatID int64, logger zerolog.Logger) (*TelegramNotifier, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram init: %w", err)
	}
	return &TelegramNotifier{
		bot:    bot,
		chatID: chatID,
		logger: logger.With().Str("component", "notify").Logger(),
	}, nil
}

func (n *TelegramNotifier) JobDeadLettered(ctx context.Context, job *models.Job) {
	cause := ""
	if job.LastError != nil {
		cause = *job.LastError
	}
	n.send(fmt.Sprintf("⚠️ Job #%d (%s) dead-lettered after %d attempts on queue %s.\nLast error: %s",
		job.ID, job.Name, job.Attempt+1, job.Queue, cause))
}

func (n *TelegramNotifier) AuthFailed(ctx context.Context, job *models.Job, err error) {
	n.send(fmt.Sprintf("🔑 Job #%d (%s) failed with an auth error: %v\nRe-run the credential bootstrap, then retry the run.",
		job.ID, job.Name, err))
}

func (n *TelegramNotifier) send(text string) {
	msg := tgbotapi.NewMessage(n.chatID, text)
	if _, err := n.bot.Send(msg); err != nil {
		n.logger.Error().Err(err).Msg("telegram send failed")
	}
}
