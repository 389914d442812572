package telegram

import (
	"context"
	"fmt"

	"reading_group_scheduler/internal/domain/notification"
	dtelegram "reading_group_scheduler/internal/domain/telegram"

	"github.com/sirupsen/logrus"
)

type joinButtonSender interface {
	SendWithJoinButton(chatID int64, text string) error
}

// MirroringAnnouncer stores announcements through next and mirrors them to a Telegram chat.
// A failed mirror is logged; the stored announcement counts as posted.
type MirroringAnnouncer struct {
	next   notification.Announcer
	client dtelegram.Client
	chatID int64
	logger *logrus.Entry
}

func NewMirroringAnnouncer(next notification.Announcer, client dtelegram.Client, chatID int64, logger *logrus.Entry) *MirroringAnnouncer {
	return &MirroringAnnouncer{
		next:   next,
		client: client,
		chatID: chatID,
		logger: logger.WithField("component", "announce_mirror"),
	}
}

func (m *MirroringAnnouncer) Post(ctx context.Context, a *notification.Announcement) error {
	if err := m.next.Post(ctx, a); err != nil {
		return err
	}
	if m.client == nil || m.chatID == 0 {
		return nil
	}

	text := fmt.Sprintf("%s\n\n%s", a.Title, a.Body)
	var err error
	if js, ok := m.client.(joinButtonSender); ok && a.Kind == notification.KindInvitationReminder {
		err = js.SendWithJoinButton(m.chatID, text)
	} else {
		err = m.client.SendText(m.chatID, text)
	}
	if err != nil {
		m.logger.WithError(err).WithFields(logrus.Fields{
			"cohort_id": a.CohortID,
			"kind":      a.Kind,
			"chat_id":   m.chatID,
		}).Warn("Failed to mirror announcement to Telegram")
	}
	return nil
}
