// internal/app/notification_service.go
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"reading_group_scheduler/internal/domain/cohort"
	"reading_group_scheduler/internal/domain/dateanchor"
	"reading_group_scheduler/internal/domain/mail"
	"reading_group_scheduler/internal/domain/notification"

	"github.com/sirupsen/logrus"
)

// NotificationGate answers whether a notification already went out, using the message log.
type NotificationGate struct {
	log notification.MessageLog
}

func NewNotificationGate(log notification.MessageLog) *NotificationGate {
	return &NotificationGate{log: log}
}

// WelcomeBlockedToday is the coarse daily gate: any welcome logged today blocks the pass.
func (g *NotificationGate) WelcomeBlockedToday(ctx context.Context, today time.Time) (bool, error) {
	return g.log.HasKindOnDay(ctx, notification.KindWelcome, today)
}

// WelcomeSent reports whether the cohort was ever welcomed.
func (g *NotificationGate) WelcomeSent(ctx context.Context, cohortID int64) (bool, error) {
	return g.log.HasCohortKind(ctx, cohortID, notification.KindWelcome)
}

// ReminderSent reports whether the cohort got its reminder for the day.
func (g *NotificationGate) ReminderSent(ctx context.Context, cohortID int64, today time.Time) (bool, error) {
	return g.log.HasRecord(ctx, notification.NewKey(cohortID, notification.KindInvitationReminder, today))
}

// Mark writes the record closing the gate for key.
func (g *NotificationGate) Mark(ctx context.Context, key notification.Key, recipients int, now time.Time) (bool, error) {
	return g.log.WriteRecord(ctx, &notification.Record{Key: key, RecipientCount: recipients, CreatedAt: now})
}

// PassReport summarizes one notification pass.
type PassReport struct {
	Kind     notification.Kind
	Skipped  bool // the whole pass was gated
	Notified []int64
	Emails   DispatchReport
}

// NotificationService runs the welcome and invitation-reminder passes.
type NotificationService struct {
	cohorts       cohort.Repository
	gate          *NotificationGate
	dispatcher    *Dispatcher
	announcer     notification.Announcer
	systemActorID int64
	clock         func() time.Time
	logger        *logrus.Entry
	metrics       Recorder
}

func NewNotificationService(
	cr cohort.Repository,
	gate *NotificationGate,
	dispatcher *Dispatcher,
	announcer notification.Announcer,
	systemActorID int64,
	clock func() time.Time,
	logger *logrus.Entry,
	metrics Recorder,
) *NotificationService {
	if clock == nil {
		clock = time.Now
	}
	if metrics == nil {
		metrics = nopRecorder{}
	}
	return &NotificationService{
		cohorts:       cr,
		gate:          gate,
		dispatcher:    dispatcher,
		announcer:     announcer,
		systemActorID: systemActorID,
		clock:         clock,
		logger:        logger.WithField("component", "notifications"),
		metrics:       metrics,
	}
}

// RunWelcomePass welcomes every active, started cohort that has at least one first-timer and
// was never welcomed. Nothing happens when a welcome was already logged today.
func (s *NotificationService) RunWelcomePass(ctx context.Context) (PassReport, error) {
	now := s.clock().UTC()
	today := dateanchor.Day(now)
	report := PassReport{Kind: notification.KindWelcome}
	logger := s.logger.WithFields(logrus.Fields{"kind": notification.KindWelcome, "today": dateanchor.Format(today)})

	blocked, err := s.gate.WelcomeBlockedToday(ctx, today)
	if err != nil {
		return report, fmt.Errorf("failed to check welcome gate: %w", err)
	}
	if blocked {
		logger.Info("Welcome already posted today. Skipping pass.")
		report.Skipped = true
		return report, nil
	}

	candidates, err := s.cohorts.ListCohorts(ctx, cohort.Filter{
		Statuses:        []cohort.Status{cohort.StatusActive},
		StartOnOrBefore: &today,
	}, cohort.OrderStartAsc)
	if err != nil {
		return report, fmt.Errorf("failed to list cohorts for welcome: %w", err)
	}

	var errs []error
	for _, c := range candidates {
		clog := logger.WithField("cohort_id", c.ID)

		sent, err := s.gate.WelcomeSent(ctx, c.ID)
		if err != nil {
			clog.WithError(err).Error("Failed to check welcome history")
			errs = append(errs, err)
			continue
		}
		if sent {
			continue
		}

		firstTimers, err := s.cohorts.ListFirstTimers(ctx, c.ID)
		if err != nil {
			clog.WithError(err).Error("Failed to list first-time members")
			errs = append(errs, err)
			continue
		}
		if len(firstTimers) == 0 {
			clog.Debug("No first-time members yet. Welcome deferred.")
			continue
		}

		emails, err := s.notify(ctx, c, notification.KindWelcome, welcomeAnnouncement(c), firstTimers,
			func(r mail.Recipient) mail.Message { return welcomeEmail(c, r) })
		if err != nil {
			clog.WithError(err).Error("Failed to post welcome")
			errs = append(errs, err)
			continue
		}
		report.Emails.Add(emails)

		written, err := s.gate.Mark(ctx, notification.NewKey(c.ID, notification.KindWelcome, today), len(firstTimers), now)
		if err != nil {
			clog.WithError(err).Error("Failed to write welcome record")
			errs = append(errs, err)
			continue
		}
		if !written {
			clog.Warn("Welcome record already existed")
		}
		report.Notified = append(report.Notified, c.ID)
		clog.WithField("first_timers", len(firstTimers)).Info("Welcome posted")
	}
	return report, errors.Join(errs...)
}

// RunReminderPass sends invitation reminders to active cohorts on reminder days within the
// registration window, once per cohort and day.
func (s *NotificationService) RunReminderPass(ctx context.Context) (PassReport, error) {
	now := s.clock().UTC()
	today := dateanchor.Day(now)
	report := PassReport{Kind: notification.KindInvitationReminder}
	logger := s.logger.WithFields(logrus.Fields{"kind": notification.KindInvitationReminder, "today": dateanchor.Format(today)})

	candidates, err := s.cohorts.ListCohorts(ctx, cohort.Filter{
		Statuses:          []cohort.Status{cohort.StatusActive},
		StartOnOrBefore:   &today,
		DeadlineOnOrAfter: &today,
	}, cohort.OrderStartAsc)
	if err != nil {
		return report, fmt.Errorf("failed to list cohorts for reminders: %w", err)
	}

	var errs []error
	for _, c := range candidates {
		offset := c.DayOffset(today)
		if !notification.IsReminderDay(offset) {
			continue
		}
		clog := logger.WithFields(logrus.Fields{"cohort_id": c.ID, "day": offset})

		sent, err := s.gate.ReminderSent(ctx, c.ID, today)
		if err != nil {
			clog.WithError(err).Error("Failed to check reminder gate")
			errs = append(errs, err)
			continue
		}
		if sent {
			clog.Debug("Reminder already sent today")
			continue
		}

		members, err := s.cohorts.ListActiveMembers(ctx, c.ID)
		if err != nil {
			clog.WithError(err).Error("Failed to list active members")
			errs = append(errs, err)
			continue
		}

		emails, err := s.notify(ctx, c, notification.KindInvitationReminder, reminderAnnouncement(c, offset, today), members,
			func(r mail.Recipient) mail.Message { return reminderEmail(c, r, today) })
		if err != nil {
			clog.WithError(err).Error("Failed to post invitation reminder")
			errs = append(errs, err)
			continue
		}
		report.Emails.Add(emails)

		if _, err := s.gate.Mark(ctx, notification.NewKey(c.ID, notification.KindInvitationReminder, today), len(members), now); err != nil {
			clog.WithError(err).Error("Failed to write reminder record")
			errs = append(errs, err)
			continue
		}
		report.Notified = append(report.Notified, c.ID)
		clog.WithField("members", len(members)).Info("Invitation reminder sent")
	}
	return report, errors.Join(errs...)
}

// notify posts the announcement and then emails every member. Only a failed post is an error.
func (s *NotificationService) notify(ctx context.Context, c *cohort.Cohort, kind notification.Kind, a *notification.Announcement, members []*cohort.Member, compose func(mail.Recipient) mail.Message) (DispatchReport, error) {
	a.CohortID = c.ID
	a.AuthorID = s.systemActorID
	a.Kind = kind
	a.CreatedAt = s.clock().UTC()
	if err := s.announcer.Post(ctx, a); err != nil {
		return DispatchReport{}, fmt.Errorf("failed to post %s announcement for cohort %d: %w", kind, c.ID, err)
	}
	s.metrics.NotificationPosted(string(kind))

	recipients := make([]mail.Recipient, 0, len(members))
	for _, m := range members {
		recipients = append(recipients, mail.Recipient{MemberID: m.ID, Email: m.Email, Name: m.DisplayName})
	}
	return s.dispatcher.Dispatch(ctx, recipients, compose), nil
}

func welcomeAnnouncement(c *cohort.Cohort) *notification.Announcement {
	return &notification.Announcement{
		Title: fmt.Sprintf("Welcome to %s", c.Name),
		Body: fmt.Sprintf("%s has started. Say hello to the group, and a special welcome to everyone reading with us for the first time. Registration stays open until %s.",
			c.Name, dateanchor.Format(c.RegistrationDeadline)),
	}
}

func welcomeEmail(c *cohort.Cohort, r mail.Recipient) mail.Message {
	return mail.Message{
		Subject: fmt.Sprintf("Welcome to %s", c.Name),
		Body: fmt.Sprintf("Hi %s,\n\nWelcome to your first reading group! %s started on %s and runs until %s.\nIntroduce yourself in the group board when you get a chance.\n",
			r.Name, c.Name, dateanchor.Format(c.StartDate), dateanchor.Format(c.EndDate)),
	}
}

func reminderAnnouncement(c *cohort.Cohort, offset int, today time.Time) *notification.Announcement {
	left := dateanchor.DaysBetween(today, c.RegistrationDeadline)
	return &notification.Announcement{
		Title: fmt.Sprintf("Day %d: invite a friend to %s", offset, c.Name),
		Body:  fmt.Sprintf("Registration for %s closes in %d days (%s). Know someone who would enjoy reading along? Invite them now.", c.Name, left, dateanchor.Format(c.RegistrationDeadline)),
	}
}

func reminderEmail(c *cohort.Cohort, r mail.Recipient, today time.Time) mail.Message {
	left := dateanchor.DaysBetween(today, c.RegistrationDeadline)
	return mail.Message{
		Subject: fmt.Sprintf("%d days left to invite friends to %s", left, c.Name),
		Body: fmt.Sprintf("Hi %s,\n\nRegistration for %s closes on %s. If you know someone who would enjoy reading with the group, now is the time to invite them.\n",
			r.Name, c.Name, dateanchor.Format(c.RegistrationDeadline)),
	}
}
