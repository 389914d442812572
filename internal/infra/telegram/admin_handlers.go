package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"reading_group_scheduler/internal/app"
	"reading_group_scheduler/internal/domain/cohort"
	"reading_group_scheduler/internal/domain/dateanchor"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

const msgUnauthorized = "Error: you are not allowed to run this command."

// adminCommands turns admin command arguments into AdminService calls and reply texts.
type adminCommands struct {
	admin  *app.AdminService
	logger *logrus.Entry
}

// RegisterAdminHandlers registers handlers for admin commands.
// Authorization is checked by AdminService against the configured admin IDs and stored member roles.
func RegisterAdminHandlers(ctx context.Context, b *telebot.Bot, adminService *app.AdminService, baseLogger *logrus.Entry) {
	cmds := &adminCommands{admin: adminService, logger: baseLogger.WithField("handler_group", "admin")}

	handlers := map[string]func(context.Context, int64, []string) string{
		"/create_cohort": cmds.createCohort,
		"/update_cohort": cmds.updateCohort,
		"/list_cohorts":  cmds.listCohorts,
		"/enroll":        cmds.enroll,
		"/remove":        cmds.remove,
		"/sort":          cmds.sort,
		"/add_member":    cmds.addMember,
		"/run_scheduler": cmds.runScheduler,
		"/normalize":     cmds.normalize,
	}
	for command, handle := range handlers {
		b.Handle(command, func(c telebot.Context) error {
			cmds.logger.WithFields(logrus.Fields{
				"handler":   command,
				"sender_id": c.Sender().ID,
			}).Info("Command received")
			return c.Send(handle(ctx, c.Sender().ID, c.Args()))
		})
	}
}

// createCohort: /create_cohort <YYYY-MM-DD> [capacity] [status] [name...]
func (h *adminCommands) createCohort(ctx context.Context, senderID int64, args []string) string {
	if len(args) < 1 {
		return "Usage: /create_cohort <YYYY-MM-DD> [capacity] [status] [name]"
	}
	in := app.CreateCohortInput{StartDate: args[0]}
	rest := args[1:]
	if len(rest) > 0 {
		if n, err := strconv.Atoi(rest[0]); err == nil {
			in.Capacity = n
			rest = rest[1:]
		}
	}
	if len(rest) > 0 {
		if st, err := cohort.ParseStatus(strings.ToLower(rest[0])); err == nil {
			in.Status = st
			rest = rest[1:]
		}
	}
	in.Name = strings.Join(rest, " ")

	c, err := h.admin.CreateCohort(ctx, senderID, in)
	if err != nil {
		return h.replyForError("/create_cohort", senderID, err)
	}
	return "Created: " + formatCohort(c)
}

// updateCohort: /update_cohort <id> [start=YYYY-MM-DD] [capacity=N] [status=S] [name=...]
// name= must come last and takes the rest of the line.
func (h *adminCommands) updateCohort(ctx context.Context, senderID int64, args []string) string {
	usage := "Usage: /update_cohort <id> [start=YYYY-MM-DD] [capacity=N] [status=S] [name=...]"
	if len(args) < 2 {
		return usage
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return "Error: cohort ID must be a number."
	}
	patch, err := parseCohortPatch(args[1:])
	if err != nil {
		return fmt.Sprintf("Error: %v\n%s", err, usage)
	}

	c, err := h.admin.UpdateCohort(ctx, senderID, id, patch)
	if err != nil {
		return h.replyForError("/update_cohort", senderID, err)
	}
	return "Updated: " + formatCohort(c)
}

func parseCohortPatch(args []string) (app.CohortPatch, error) {
	var patch app.CohortPatch
	for i, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok {
			return patch, fmt.Errorf("expected key=value, got %q", arg)
		}
		switch strings.ToLower(key) {
		case "start":
			patch.StartDate = &value
		case "capacity":
			n, err := strconv.Atoi(value)
			if err != nil {
				return patch, fmt.Errorf("capacity must be a number")
			}
			patch.Capacity = &n
		case "status":
			s := strings.ToLower(value)
			patch.Status = &s
		case "name":
			name := strings.TrimSpace(strings.Join(append([]string{value}, args[i+1:]...), " "))
			patch.Name = &name
			return patch, nil
		default:
			return patch, fmt.Errorf("unknown field %q", key)
		}
	}
	return patch, nil
}

func (h *adminCommands) listCohorts(ctx context.Context, senderID int64, _ []string) string {
	list, err := h.admin.ListCohorts(ctx, senderID)
	if err != nil {
		return h.replyForError("/list_cohorts", senderID, err)
	}
	if len(list) == 0 {
		return "No cohorts yet."
	}
	var b strings.Builder
	b.WriteString("--- Cohorts ---\n")
	for _, c := range list {
		b.WriteString(formatCohort(c))
		b.WriteString("\n")
	}
	return b.String()
}

// enroll: /enroll <cohortID> <memberID>
func (h *adminCommands) enroll(ctx context.Context, senderID int64, args []string) string {
	cohortID, memberID, err := parseTwoIDs(args)
	if err != nil {
		return "Usage: /enroll <cohortID> <memberID>"
	}
	res, err := h.admin.EnrollMember(ctx, senderID, cohortID, memberID)
	if err != nil {
		return h.replyForError("/enroll", senderID, err)
	}
	return res.Message
}

// remove: /remove <cohortID> <memberID>
func (h *adminCommands) remove(ctx context.Context, senderID int64, args []string) string {
	cohortID, memberID, err := parseTwoIDs(args)
	if err != nil {
		return "Usage: /remove <cohortID> <memberID>"
	}
	res, err := h.admin.RemoveMember(ctx, senderID, cohortID, memberID)
	if err != nil {
		return h.replyForError("/remove", senderID, err)
	}
	return res.Message
}

// sort: /sort <id> [id...], in the desired display order.
func (h *adminCommands) sort(ctx context.Context, senderID int64, args []string) string {
	if len(args) == 0 {
		return "Usage: /sort <cohortID> [cohortID...]"
	}
	ids := make([]int64, 0, len(args))
	for _, a := range args {
		id, err := strconv.ParseInt(a, 10, 64)
		if err != nil {
			return fmt.Sprintf("Error: %q is not a cohort ID.", a)
		}
		ids = append(ids, id)
	}
	if err := h.admin.SetSortOrder(ctx, senderID, ids); err != nil {
		return h.replyForError("/sort", senderID, err)
	}
	return fmt.Sprintf("Sort order saved for %d cohorts.", len(ids))
}

// addMember: /add_member <email> [tg=<TelegramID>] [role=member|admin] <display name...>
func (h *adminCommands) addMember(ctx context.Context, senderID int64, args []string) string {
	usage := "Usage: /add_member <email> [tg=<TelegramID>] [role=member|admin] <display name>"
	if len(args) < 2 {
		return usage
	}
	email, rest := args[0], args[1:]
	var telegramID *int64
	var role cohort.Role
	for len(rest) > 0 {
		if v, ok := strings.CutPrefix(rest[0], "tg="); ok {
			id, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return "Error: Telegram ID must be a number."
			}
			telegramID = &id
			rest = rest[1:]
			continue
		}
		if v, ok := strings.CutPrefix(rest[0], "role="); ok {
			role = cohort.Role(strings.ToLower(v))
			rest = rest[1:]
			continue
		}
		break
	}

	m, err := h.admin.AddMember(ctx, senderID, email, strings.Join(rest, " "), telegramID, role)
	if err != nil {
		return h.replyForError("/add_member", senderID, err)
	}
	return fmt.Sprintf("Member %s <%s> added with ID %d as %s.", m.DisplayName, m.Email, m.ID, m.Role)
}

func (h *adminCommands) runScheduler(ctx context.Context, senderID int64, _ []string) string {
	report, err := h.admin.RunScheduler(ctx, senderID)
	if err != nil {
		return h.replyForError("/run_scheduler", senderID, err)
	}
	return formatRunReport(report)
}

func (h *adminCommands) normalize(ctx context.Context, senderID int64, _ []string) string {
	n, err := h.admin.NormalizeCohorts(ctx, senderID)
	if err != nil {
		return h.replyForError("/normalize", senderID, err)
	}
	return fmt.Sprintf("Normalization finished: %d cohorts updated.", n)
}

func (h *adminCommands) replyForError(handler string, senderID int64, err error) string {
	logWithError := h.logger.WithError(err).WithFields(logrus.Fields{
		"handler":   handler,
		"sender_id": senderID,
	})
	switch {
	case errors.Is(err, app.ErrAdminNotAuthorized):
		logWithError.Warn("Unauthorized access attempt")
		return msgUnauthorized
	case errors.Is(err, app.ErrNotFound):
		logWithError.Warn("Requested record not found")
		return "Error: not found."
	case errors.Is(err, app.ErrConflict):
		logWithError.Warn("Request conflicts with existing data")
		return fmt.Sprintf("Error: %v", err)
	case errors.Is(err, app.ErrInvalidMember),
		errors.Is(err, app.ErrInvalidStartDate),
		errors.Is(err, app.ErrInvalidCapacity),
		errors.Is(err, app.ErrInvalidName),
		errors.Is(err, app.ErrInvalidStatus):
		logWithError.Warn("Invalid command arguments")
		return fmt.Sprintf("Error: %v", err)
	default:
		logWithError.Error("Command failed")
		return "An internal error occurred. Please try again later."
	}
}

func parseTwoIDs(args []string) (int64, int64, error) {
	if len(args) != 2 {
		return 0, 0, fmt.Errorf("expected 2 arguments, got %d", len(args))
	}
	a, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return 0, 0, err
	}
	b, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return 0, 0, err
	}
	return a, b, nil
}

func formatCohort(c *cohort.Cohort) string {
	return fmt.Sprintf("#%d %s [%s] starts %s, register by %s, capacity %d",
		c.ID,
		c.Name,
		c.Status,
		dateanchor.Format(c.StartDate),
		dateanchor.Format(c.RegistrationDeadline),
		c.Capacity)
}

func formatRunReport(r app.RunReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Scheduler run %s\n", r.RunID)
	for _, s := range r.Steps {
		if s.Err != nil {
			fmt.Fprintf(&b, "%s: failed (%v)\n", s.Name, s.Err)
			continue
		}
		fmt.Fprintf(&b, "%s: ok\n", s.Name)
	}
	return b.String()
}
