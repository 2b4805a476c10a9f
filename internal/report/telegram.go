package report

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"pairgo/backend/internal/models"
)

// TelegramNotifier posts new abuse reports into a moderation chat.
type TelegramNotifier struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	log    zerolog.Logger
}

// NewTelegramNotifier connects the bot and targets the given chat.
func NewTelegramNotifier(token string, chatID int64, log zerolog.Logger) (*TelegramNotifier, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return &TelegramNotifier{
		bot:    bot,
		chatID: chatID,
		log:    log.With().Str("component", "telegram").Logger(),
	}, nil
}

// NotifyReport implements Notifier.
func (t *TelegramNotifier) NotifyReport(ctx context.Context, r *models.Report) error {
	var b strings.Builder
	fmt.Fprintf(&b, "New abuse report #%d\n", r.ID)
	fmt.Fprintf(&b, "Reason: %s\n", r.Reason)
	if r.Details != "" {
		fmt.Fprintf(&b, "Details: %s\n", r.Details)
	}
	fmt.Fprintf(&b, "Reporter: %s\nReported: %s\n", r.ReporterID, r.ReportedID)
	if r.PairingID != "" {
		fmt.Fprintf(&b, "Pairing: %s\n", r.PairingID)
	}
	if len(r.MessageIDs) > 0 {
		fmt.Fprintf(&b, "Captured messages: %s", strings.Join(r.MessageIDs, ", "))
	}

	msg := tgbotapi.NewMessage(t.chatID, b.String())
	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("send moderation message: %w", err)
	}
	t.log.Debug().Uint("report", r.ID).Msg("moderation notified")
	return nil
}
