package telegram

import (
	"context"
	"errors"

	"reading_group_scheduler/internal/app"
	"reading_group_scheduler/internal/domain/cohort"
	idb "reading_group_scheduler/internal/infra/database"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

// memberCommands serves the self-service commands of registered members.
type memberCommands struct {
	lifecycle *app.LifecycleService
	members   cohort.MemberRepository
	logger    *logrus.Entry
}

// RegisterMemberHandlers registers /join and the join button of mirrored reminders.
func RegisterMemberHandlers(ctx context.Context, b *telebot.Bot, lifecycle *app.LifecycleService, members cohort.MemberRepository, baseLogger *logrus.Entry) {
	cmds := &memberCommands{lifecycle: lifecycle, members: members, logger: baseLogger.WithField("handler_group", "member")}

	b.Handle("/join", func(c telebot.Context) error {
		return c.Send(cmds.join(ctx, c.Sender().ID))
	})

	b.Handle(&joinButton, func(c telebot.Context) error {
		reply := cmds.join(ctx, c.Sender().ID)
		if err := c.Respond(&telebot.CallbackResponse{Text: reply}); err != nil {
			c.Bot().OnError(err, c)
		}
		// The button lives in a group chat; the full answer goes to the member directly.
		_, err := c.Bot().Send(c.Sender(), reply)
		return err
	})
}

func (h *memberCommands) join(ctx context.Context, senderID int64) string {
	logCtx := h.logger.WithField("sender_id", senderID)

	member, err := h.members.GetMemberByTelegramID(ctx, senderID)
	if errors.Is(err, idb.ErrMemberNotFound) {
		logCtx.Info("Join requested by unknown user")
		return "You are not registered yet. Please ask an administrator to add you."
	}
	if err != nil {
		logCtx.WithError(err).Error("Error looking up member for join")
		return "An error occurred while checking your registration. Please try again later."
	}

	res, err := h.lifecycle.Enroll(ctx, member.ID)
	if err != nil {
		logCtx.WithError(err).WithField("member_id", member.ID).Error("Enrollment failed")
		return "An error occurred while joining. Please try again later."
	}
	logCtx.WithFields(logrus.Fields{
		"member_id": member.ID,
		"cohort_id": res.CohortID,
		"outcome":   res.Outcome,
	}).Info("Join processed")
	return res.Message
}
