package main

import (
	"os"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// AlertSink forwards operator-facing notices (Steam Guard needed, invalid
// password backoff) to a Telegram chat. It is optional: when
// TELEGRAM_BOT_TOKEN/TELEGRAM_CHAT_ID aren't set, Notify is a no-op so a bot
// swarm can run headless.
type AlertSink struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

// NewAlertSink builds an AlertSink from the process environment, returning
// (nil, nil) when Telegram isn't configured.
func NewAlertSink() (*AlertSink, error) {
	token := os.Getenv("TELEGRAM_BOT_TOKEN")
	chatIDStr := os.Getenv("TELEGRAM_CHAT_ID")
	if token == "" || chatIDStr == "" {
		LogInfo("Alert sink disabled (TELEGRAM_BOT_TOKEN/TELEGRAM_CHAT_ID not set)")
		return nil, nil
	}

	chatID, err := strconv.ParseInt(chatIDStr, 10, 64)
	if err != nil {
		return nil, err
	}

	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}

	LogInfo("Alert sink enabled, authorized as %s", bot.Self.UserName)
	return &AlertSink{bot: bot, chatID: chatID}, nil
}

// Notify sends message to the configured chat, logging (not panicking) on
// delivery failure — a dropped alert should never take down a farming bot.
func (a *AlertSink) Notify(message string) {
	if a == nil || a.bot == nil {
		return
	}
	msg := tgbotapi.NewMessage(a.chatID, message)
	if _, err := a.bot.Send(msg); err != nil {
		LogWarning("Alert sink: failed to send message: %v", err)
	}
}
