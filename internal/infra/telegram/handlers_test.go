package telegram

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"reading_group_scheduler/internal/app"
	"reading_group_scheduler/internal/domain/mail"
	"reading_group_scheduler/internal/domain/notification"
	idb "reading_group_scheduler/internal/infra/database"
	"reading_group_scheduler/internal/infra/scheduler"

	"github.com/sirupsen/logrus"
)

const adminID = int64(100)

type harness struct {
	admin   *adminCommands
	member  *memberCommands
	greeter *greeter
	members *idb.SQLMemberRepository
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db, err := idb.Open(context.Background(), idb.DialectSQLite, filepath.Join(t.TempDir(), "bot.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	l := logrus.New()
	l.SetOutput(io.Discard)
	logger := logrus.NewEntry(l)
	clock := func() time.Time { return time.Date(2026, 10, 5, 9, 0, 0, 0, time.UTC) }

	cohorts := idb.NewSQLCohortRepository(db)
	members := idb.NewSQLMemberRepository(db)
	lifecycle := app.NewLifecycleService(cohorts, members, app.Naming{Program: "Reading Group", Suffix: "Cohort"}, 50, clock, logger, nil)
	dispatcher := app.NewDispatcher(&nopTransport{}, nil, app.DispatcherConfig{BatchSize: 10}, logger, nil)
	notify := app.NewNotificationService(cohorts, app.NewNotificationGate(idb.NewSQLMessageLog(db)), dispatcher,
		idb.NewSQLAnnouncementRepository(db), 999, clock, logger, nil)
	job := app.NewSchedulerJob(lifecycle, notify, logger, nil)
	runner := scheduler.NewCohortScheduler(job, logger, "0 6 * * *", false, time.Minute)
	adminService := app.NewAdminService(lifecycle, runner, members, []int64{adminID})

	return &harness{
		admin:   &adminCommands{admin: adminService, logger: logger},
		member:  &memberCommands{lifecycle: lifecycle, members: members, logger: logger},
		greeter: &greeter{admin: adminService, members: members, logger: logger},
		members: members,
	}
}

func TestAdminCommandsRejectNonAdmins(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	replies := []string{
		h.admin.createCohort(ctx, 7, []string{"2027-01-01"}),
		h.admin.listCohorts(ctx, 7, nil),
		h.admin.addMember(ctx, 7, []string{"a@example.com", "Ada"}),
		h.admin.runScheduler(ctx, 7, nil),
		h.admin.normalize(ctx, 7, nil),
	}
	for i, r := range replies {
		if r != msgUnauthorized {
			t.Fatalf("reply %d = %q", i, r)
		}
	}
}

func TestCreateAndListCohorts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	reply := h.admin.createCohort(ctx, adminID, []string{"2027-02-15", "20"})
	if !strings.Contains(reply, "starts 2027-01-01") || !strings.Contains(reply, "capacity 20") ||
		!strings.Contains(reply, "Reading Group January 2027 Cohort") {
		t.Fatalf("create reply = %q", reply)
	}
	reply = h.admin.createCohort(ctx, adminID, []string{"2027-01-20", "active", "Winter", "Readers"})
	if !strings.HasPrefix(reply, "Error:") {
		t.Fatalf("duplicate start reply = %q", reply)
	}
	reply = h.admin.createCohort(ctx, adminID, []string{"2027-04-01", "active", "Spring", "Readers"})
	if !strings.Contains(reply, "Spring Readers [active]") {
		t.Fatalf("named reply = %q", reply)
	}
	if reply := h.admin.createCohort(ctx, adminID, []string{"someday"}); !strings.HasPrefix(reply, "Error:") {
		t.Fatalf("bad date reply = %q", reply)
	}

	list := h.admin.listCohorts(ctx, adminID, nil)
	if strings.Count(list, "\n") != 3 {
		t.Fatalf("list = %q", list)
	}
}

func TestUpdateCohortCommand(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.admin.createCohort(ctx, adminID, []string{"2027-01-01"})

	reply := h.admin.updateCohort(ctx, adminID, []string{"1", "capacity=12", "name=New", "Year", "Readers"})
	if !strings.Contains(reply, "#1 New Year Readers") || !strings.Contains(reply, "capacity 12") {
		t.Fatalf("update reply = %q", reply)
	}
	if reply := h.admin.updateCohort(ctx, adminID, []string{"42", "capacity=3"}); reply != "Error: not found." {
		t.Fatalf("missing cohort reply = %q", reply)
	}
	if reply := h.admin.updateCohort(ctx, adminID, []string{"1", "colour=red"}); !strings.Contains(reply, "unknown field") {
		t.Fatalf("bad field reply = %q", reply)
	}
}

func TestParseCohortPatch(t *testing.T) {
	patch, err := parseCohortPatch([]string{"start=2027-04-01", "status=ACTIVE", "capacity=9"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if *patch.StartDate != "2027-04-01" || *patch.Status != "active" || *patch.Capacity != 9 || patch.Name != nil {
		t.Fatalf("patch = %+v", patch)
	}
	if _, err := parseCohortPatch([]string{"capacity=lots"}); err == nil {
		t.Fatal("expected capacity error")
	}
	if _, err := parseCohortPatch([]string{"start"}); err == nil {
		t.Fatal("expected key=value error")
	}
}

func TestMemberJoinFlow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if reply := h.member.join(ctx, 555); !strings.Contains(reply, "not registered") {
		t.Fatalf("unknown join reply = %q", reply)
	}
	reply := h.admin.addMember(ctx, adminID, []string{"Ada@Example.com", "tg=555", "Ada", "Lovelace"})
	if !strings.Contains(reply, "Ada Lovelace <ada@example.com>") {
		t.Fatalf("add member reply = %q", reply)
	}
	if reply := h.admin.addMember(ctx, adminID, []string{"ada@example.com", "Ada"}); !strings.HasPrefix(reply, "Error:") {
		t.Fatalf("duplicate member reply = %q", reply)
	}

	// No cohorts exist yet, so joining bootstraps the October 2026 cohort.
	if reply := h.member.join(ctx, 555); !strings.HasPrefix(reply, "Enrolled in Reading Group October 2026 Cohort") {
		t.Fatalf("join reply = %q", reply)
	}
	if reply := h.member.join(ctx, 555); !strings.HasPrefix(reply, "Already a member") {
		t.Fatalf("second join reply = %q", reply)
	}
	if reply := h.admin.remove(ctx, adminID, []string{"1", "1"}); !strings.Contains(reply, "removed") {
		t.Fatalf("remove reply = %q", reply)
	}
	if reply := h.admin.enroll(ctx, adminID, []string{"1"}); !strings.HasPrefix(reply, "Usage") {
		t.Fatalf("enroll usage reply = %q", reply)
	}
}

func TestStartAndHelpByRole(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.admin.addMember(ctx, adminID, []string{"bo@example.com", "tg=77", "Bo"})

	if reply := h.greeter.start(ctx, adminID, "Root"); !strings.Contains(reply, "administrator Root") {
		t.Fatalf("admin start = %q", reply)
	}
	if reply := h.greeter.start(ctx, 77, "B"); !strings.Contains(reply, "Hello, Bo!") {
		t.Fatalf("member start = %q", reply)
	}
	if reply := h.greeter.start(ctx, 78, "X"); !strings.Contains(reply, "Ask an administrator") {
		t.Fatalf("unknown start = %q", reply)
	}
	if h.greeter.help(ctx, adminID) != adminHelp || h.greeter.help(ctx, 77) != memberHelp {
		t.Fatal("help text does not match role")
	}
}

func TestStoredAdminRoleUnlocksCommands(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	reply := h.admin.addMember(ctx, adminID, []string{"lead@example.com", "tg=88", "role=admin", "Lead", "Reader"})
	if !strings.Contains(reply, "Lead Reader <lead@example.com>") || !strings.HasSuffix(reply, "as admin.") {
		t.Fatalf("add admin reply = %q", reply)
	}
	h.admin.addMember(ctx, adminID, []string{"bo@example.com", "tg=77", "Bo"})
	if reply := h.admin.addMember(ctx, adminID, []string{"x@example.com", "role=owner", "X"}); !strings.HasPrefix(reply, "Error:") {
		t.Fatalf("unknown role reply = %q", reply)
	}

	if reply := h.admin.listCohorts(ctx, 88, nil); reply != "No cohorts yet." {
		t.Fatalf("stored admin list = %q", reply)
	}
	if reply := h.admin.listCohorts(ctx, 77, nil); reply != msgUnauthorized {
		t.Fatalf("member list = %q", reply)
	}
	if reply := h.greeter.start(ctx, 88, "Lead"); !strings.Contains(reply, "administrator Lead") {
		t.Fatalf("stored admin start = %q", reply)
	}
	if h.greeter.help(ctx, 88) != adminHelp {
		t.Fatal("stored admin gets member help")
	}
}

func TestRunSchedulerCommand(t *testing.T) {
	h := newHarness(t)
	reply := h.admin.runScheduler(context.Background(), adminID, nil)
	if !strings.HasPrefix(reply, "Scheduler run ") || strings.Contains(reply, "failed") {
		t.Fatalf("run reply = %q", reply)
	}
}

type nopTransport struct{}

func (nopTransport) Send(context.Context, mail.Recipient, mail.Message) error { return nil }

type recordingClient struct {
	texts   []string
	buttons []string
	err     error
}

func (c *recordingClient) SendText(_ int64, text string) error {
	c.texts = append(c.texts, text)
	return c.err
}

func (c *recordingClient) SendWithJoinButton(_ int64, text string) error {
	c.buttons = append(c.buttons, text)
	return c.err
}

type storedAnnouncements struct {
	posts []*notification.Announcement
	err   error
}

func (s *storedAnnouncements) Post(_ context.Context, a *notification.Announcement) error {
	if s.err != nil {
		return s.err
	}
	s.posts = append(s.posts, a)
	return nil
}

func TestMirroringAnnouncer(t *testing.T) {
	l := logrus.New()
	l.SetOutput(io.Discard)
	store := &storedAnnouncements{}
	client := &recordingClient{}
	m := NewMirroringAnnouncer(store, client, -100, logrus.NewEntry(l))
	ctx := context.Background()

	if err := m.Post(ctx, &notification.Announcement{Kind: notification.KindWelcome, Title: "Welcome", Body: "Hi"}); err != nil {
		t.Fatalf("post welcome: %v", err)
	}
	if err := m.Post(ctx, &notification.Announcement{Kind: notification.KindInvitationReminder, Title: "Reminder", Body: "Join"}); err != nil {
		t.Fatalf("post reminder: %v", err)
	}
	if len(store.posts) != 2 || len(client.texts) != 1 || len(client.buttons) != 1 {
		t.Fatalf("store %d, texts %d, buttons %d", len(store.posts), len(client.texts), len(client.buttons))
	}
	if client.texts[0] != "Welcome\n\nHi" {
		t.Fatalf("mirrored text = %q", client.texts[0])
	}

	client.err = errors.New("telegram down")
	if err := m.Post(ctx, &notification.Announcement{Kind: notification.KindWelcome}); err != nil {
		t.Fatalf("mirror failure must not fail the post: %v", err)
	}

	store.err = errors.New("db down")
	if err := m.Post(ctx, &notification.Announcement{Kind: notification.KindWelcome}); err == nil {
		t.Fatal("expected store error")
	}
	if len(client.texts) != 2 {
		t.Fatalf("mirror ran after a failed store: %d", len(client.texts))
	}
}
