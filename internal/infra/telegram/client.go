package telegram

import (
	"gopkg.in/telebot.v3"
)

// joinButton is attached to invitation reminders mirrored to the group chat.
var joinButton = telebot.Btn{Unique: "join_cohort", Text: "Join the next cohort"}

// TelebotAdapter implements the telegram.Client interface using the gopkg.in/telebot.v3 library.
type TelebotAdapter struct {
	bot *telebot.Bot
}

func NewTelebotAdapter(b *telebot.Bot) *TelebotAdapter {
	return &TelebotAdapter{bot: b}
}

// SendText sends a plain text message to a user or group chat.
func (tba *TelebotAdapter) SendText(chatID int64, text string) error {
	_, err := tba.bot.Send(telebot.ChatID(chatID), text)
	return err
}

// SendWithJoinButton sends text with an inline "join" button under it.
func (tba *TelebotAdapter) SendWithJoinButton(chatID int64, text string) error {
	markup := &telebot.ReplyMarkup{}
	markup.Inline(markup.Row(joinButton))
	_, err := tba.bot.Send(telebot.ChatID(chatID), text, markup)
	return err
}
