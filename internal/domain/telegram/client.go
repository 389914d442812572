package telegram

// Client sends plain text to a Telegram chat. Announcements mirrored to a group chat and
// admin command replies go through it.
type Client interface {
	SendText(chatID int64, text string) error
}
