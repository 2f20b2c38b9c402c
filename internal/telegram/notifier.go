package telegram

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/itaek/kw-trader/internal/config"
	"github.com/itaek/kw-trader/internal/logger"
)

type Notifier struct {
	bot     *tgbotapi.BotAPI
	chatID  int64
	enabled bool
	logger  *logger.Logger
}

func NewNotifier(cfg *config.Config, log *logger.Logger) *Notifier {
	if !cfg.Telegram.Enabled {
		return &Notifier{enabled: false, logger: log}
	}

	bot, err := tgbotapi.NewBotAPI(cfg.Telegram.BotToken)
	if err != nil {
		log.Error("failed to create telegram bot", "error", err)
		return &Notifier{enabled: false, logger: log}
	}

	log.Info("telegram bot connected", "username", bot.Self.UserName)

	return &Notifier{
		bot:     bot,
		chatID:  cfg.Telegram.ChatID,
		enabled: true,
		logger:  log,
	}
}

func (n *Notifier) NotifyBuy(code, name string, price float64, qty int64, confidence float64) {
	msg := fmt.Sprintf("🟢 *BUY* %s (%s)\nPrice: %.0f\nQty: %d\nConfidence: %.0f%%",
		name, code, price, qty, confidence*100)
	n.send(msg)
}

func (n *Notifier) NotifyPartialSell(code, name string, stage int, price float64, qty int64, profitPct float64) {
	msg := fmt.Sprintf("🟡 *PARTIAL SELL* %s (%s)\nStage: %d\nPrice: %.0f\nQty: %d\nProfit: %+.2f%%",
		name, code, stage, price, qty, profitPct)
	n.send(msg)
}

func (n *Notifier) NotifySell(code, name string, price float64, qty int64, pnl float64, reason string) {
	emoji := "🔴"
	if pnl > 0 {
		emoji = "💰"
	}
	msg := fmt.Sprintf("%s *SELL* %s (%s)\nPrice: %.0f\nQty: %d\nP&L: %.0f\nReason: %s",
		emoji, name, code, price, qty, pnl, reason)
	n.send(msg)
}

func (n *Notifier) NotifyError(context string, err error) {
	msg := fmt.Sprintf("⚠️ *Error* [%s]\n%v", context, err)
	n.send(msg)
}

func (n *Notifier) NotifyStatus(message string) {
	n.send(message)
}

func (n *Notifier) send(text string) {
	if !n.enabled {
		return
	}

	msg := tgbotapi.NewMessage(n.chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown

	if _, err := n.bot.Send(msg); err != nil {
		n.logger.Error("send telegram message", "error", err)
	}
}
