package telegram

import "gopkg.in/telebot.v3"

// Client defines an interface for sending messages to clinic staff via a Telegram bot.
// Patients are never contacted through it.
type Client interface {
	SendMessage(recipientChatID int64, text string, options *telebot.SendOptions) error
}
