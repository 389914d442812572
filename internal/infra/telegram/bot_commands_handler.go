package telegram

import (
	"context"
	"errors"
	"fmt"

	"reading_group_scheduler/internal/app"
	"reading_group_scheduler/internal/domain/cohort"
	idb "reading_group_scheduler/internal/infra/database"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

const adminHelp = "Admin commands:\n\n" +
	"`/create_cohort <YYYY-MM-DD> [capacity] [status] [name]`\n - Create a cohort. The date is aligned to its quarter.\n\n" +
	"`/update_cohort <id> [start=] [capacity=] [status=] [name=]`\n - Change a cohort.\n\n" +
	"`/list_cohorts`\n - Show all cohorts in display order.\n\n" +
	"`/sort <id> [id...]`\n - Set the display order.\n\n" +
	"`/add_member <email> [tg=<TelegramID>] <name>`\n - Register a member.\n\n" +
	"`/enroll <cohortID> <memberID>` and `/remove <cohortID> <memberID>`\n - Manage memberships.\n\n" +
	"`/run_scheduler`\n - Run the scheduler pass now.\n\n" +
	"`/normalize`\n - Re-derive cohort dates and names.\n\n" +
	"`/help`\n - Show this message."

const memberHelp = "I keep you posted about the reading group cohorts.\n\n" +
	"`/join` - join the cohort that is open for registration.\n" +
	"`/help` - show this message."

type greeter struct {
	admin   *app.AdminService
	members cohort.MemberRepository
	logger  *logrus.Entry
}

// RegisterBotCommands registers /start and /help, answering by the sender's role.
func RegisterBotCommands(ctx context.Context, b *telebot.Bot, adminService *app.AdminService, members cohort.MemberRepository, baseLogger *logrus.Entry) {
	g := &greeter{admin: adminService, members: members, logger: baseLogger.WithField("handler_group", "start_help")}

	b.Handle("/start", func(c telebot.Context) error {
		return c.Send(g.start(ctx, c.Sender().ID, c.Sender().FirstName))
	})
	b.Handle("/help", func(c telebot.Context) error {
		return c.Send(g.help(ctx, c.Sender().ID), &telebot.SendOptions{ParseMode: telebot.ModeMarkdown})
	})
}

func (g *greeter) start(ctx context.Context, senderID int64, firstName string) string {
	logCtx := g.logger.WithField("command", "/start").WithField("sender_id", senderID)

	isAdmin, err := g.admin.IsAdmin(ctx, senderID)
	if err != nil {
		logCtx.WithError(err).Error("Error checking admin status for /start command")
		return "An error occurred while checking your status. Please try again later."
	}
	if isAdmin {
		logCtx.Info("User identified as Admin")
		return fmt.Sprintf("Hello, administrator %s! Use /help for the list of commands.", firstName)
	}
	m, err := g.members.GetMemberByTelegramID(ctx, senderID)
	switch {
	case err == nil:
		logCtx.WithField("member_id", m.ID).Info("User identified as member")
		return fmt.Sprintf("Hello, %s! Use /join to register for the open cohort.", m.DisplayName)
	case errors.Is(err, idb.ErrMemberNotFound):
		logCtx.Info("User is unknown")
		return "Hello! I announce reading group cohorts. Ask an administrator to register you."
	default:
		logCtx.WithError(err).Error("Error checking member status for /start command")
		return "An error occurred while checking your status. Please try again later."
	}
}

func (g *greeter) help(ctx context.Context, senderID int64) string {
	isAdmin, err := g.admin.IsAdmin(ctx, senderID)
	if err != nil {
		g.logger.WithError(err).WithField("sender_id", senderID).Error("Error checking admin status for /help command")
	}
	if isAdmin {
		return adminHelp
	}
	if _, err := g.members.GetMemberByTelegramID(ctx, senderID); err != nil {
		if !errors.Is(err, idb.ErrMemberNotFound) {
			g.logger.WithError(err).WithField("sender_id", senderID).Error("Error checking member status for /help command")
		}
		return "No commands are available to you yet. Ask an administrator to register you."
	}
	return memberHelp
}
