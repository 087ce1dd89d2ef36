// Package notify pushes trade and session events to the operator.
package notify

import (
	"fmt"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/shubhamtaywade82/dhan-scalper-sub002/pkg/types"
)

// Notifier receives engine events. Implementations must be non-blocking on
// the decision path; sends happen on a background goroutine.
type Notifier interface {
	TradeOpened(order types.Order)
	TradeClosed(order types.Order, realized string)
	SessionHalted(reason string)
	SessionReport(report types.SessionReport)
}

// Noop discards every event.
type Noop struct{}

func (Noop) TradeOpened(types.Order)           {}
func (Noop) TradeClosed(types.Order, string)   {}
func (Noop) SessionHalted(string)              {}
func (Noop) SessionReport(types.SessionReport) {}

// Telegram pushes events to a chat via the bot API.
type Telegram struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	logger *slog.Logger
}

var _ Notifier = (*Telegram)(nil)

// NewTelegram creates a Telegram notifier. Errors mean the token was
// rejected; callers fall back to Noop.
func NewTelegram(token string, chatID int64, logger *slog.Logger) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	return &Telegram{bot: bot, chatID: chatID, logger: logger.With("component", "notify")}, nil
}

func (t *Telegram) send(text string) {
	go func() {
		if _, err := t.bot.Send(tgbotapi.NewMessage(t.chatID, text)); err != nil {
			t.logger.Warn("telegram send failed", "error", err)
		}
	}()
}

func (t *Telegram) TradeOpened(order types.Order) {
	t.send(fmt.Sprintf("🟢 BUY %s x%d @ %s (%s)",
		order.SecurityID, order.FilledQuantity, order.FilledPrice, order.Reason))
}

func (t *Telegram) TradeClosed(order types.Order, realized string) {
	t.send(fmt.Sprintf("🔴 SELL %s x%d @ %s (%s) P&L %s",
		order.SecurityID, order.FilledQuantity, order.FilledPrice, order.Reason, realized))
}

func (t *Telegram) SessionHalted(reason string) {
	t.send("⛔ session halted: " + reason)
}

func (t *Telegram) SessionReport(report types.SessionReport) {
	t.send(report.String())
}
