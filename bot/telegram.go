package bot

import (
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"

	"github.com/dyntrade/tracker/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// TELEGRAM NOTIFIER - Execution and deadline alerts
// ═══════════════════════════════════════════════════════════════════════════════

// Notifier pushes engine events to a Telegram chat
type Notifier struct {
	api    *tgbotapi.BotAPI
	chatID int64
}

// NewNotifier creates a notifier for the given bot token and chat
func NewNotifier(token string, chatID int64) (*Notifier, error) {
	if token == "" {
		return nil, fmt.Errorf("telegram token not set")
	}
	if chatID == 0 {
		return nil, fmt.Errorf("telegram chat id not set")
	}

	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	log.Info().Str("username", api.Self.UserName).Msg("🤖 Telegram notifier initialized")
	return &Notifier{api: api, chatID: chatID}, nil
}

// NotifyExecution reports an executed trade
func (n *Notifier) NotifyExecution(r types.DynamicTradeResult) {
	emoji := "🟢"
	if r.SignalType == types.SignalSell {
		emoji = "🔴"
	}

	text := fmt.Sprintf(
		"%s *%s executed*\nSignal: %s\nExecution: %s\nImprovement: %s (%s%%)\nReason: %s\nTracked: %s",
		emoji,
		r.SignalType,
		r.OriginalSignalPrice.StringFixed(2),
		r.ActualExecutionPrice.StringFixed(2),
		r.PriceImprovement.StringFixed(2),
		r.ImprovementPercentage.StringFixed(3),
		r.ExecutionReason,
		r.TrackingDuration.Round(time.Second),
	)
	n.send(text)
}

// NotifyWarning reports a window nearing its deadline
func (n *Notifier) NotifyWarning(windowID string, minutesRemaining float64) {
	n.send(fmt.Sprintf("⏰ Window `%s` closes in %.0f minutes without a trigger", windowID, minutesRemaining))
}

func (n *Notifier) send(text string) {
	msg := tgbotapi.NewMessage(n.chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	if _, err := n.api.Send(msg); err != nil {
		log.Error().Err(err).Msg("Failed to send Telegram message")
	}
}
