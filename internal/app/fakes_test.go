package app

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"time"

	"reading_group_scheduler/internal/domain/cohort"
	"reading_group_scheduler/internal/domain/mail"
	"reading_group_scheduler/internal/domain/notification"
	idb "reading_group_scheduler/internal/infra/database"

	"github.com/sirupsen/logrus"
)

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// memStore is an in-memory cohort.Repository and cohort.MemberRepository.
type memStore struct {
	mu          sync.Mutex
	cohorts     map[int64]*cohort.Cohort
	members     map[int64]*cohort.Member
	memberships []*cohort.Membership
	nextID      int64

	failTransition cohort.Status // ApplyTransition fails for this From status
	failList       error
}

func newMemStore() *memStore {
	return &memStore{cohorts: map[int64]*cohort.Cohort{}, members: map[int64]*cohort.Member{}}
}

func (s *memStore) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *memStore) InsertCohort(_ context.Context, c *cohort.Cohort) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.cohorts {
		if o.StartDate.Equal(c.StartDate) {
			return idb.ErrDuplicateStartDate
		}
	}
	c.ID = s.id()
	cp := *c
	s.cohorts[c.ID] = &cp
	return nil
}

func (s *memStore) GetCohort(_ context.Context, id int64) (*cohort.Cohort, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cohorts[id]
	if !ok {
		return nil, idb.ErrCohortNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *memStore) ListCohorts(_ context.Context, f cohort.Filter, order cohort.Order) ([]*cohort.Cohort, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failList != nil {
		return nil, s.failList
	}
	var out []*cohort.Cohort
	for _, c := range s.cohorts {
		if len(f.Statuses) > 0 && !hasStatus(f.Statuses, c.Status) {
			continue
		}
		if f.StartOnOrBefore != nil && c.StartDate.After(*f.StartOnOrBefore) {
			continue
		}
		if f.DeadlineOnOrAfter != nil && c.RegistrationDeadline.Before(*f.DeadlineOnOrAfter) {
			continue
		}
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		switch order {
		case cohort.OrderStartDesc:
			return a.StartDate.After(b.StartDate)
		case cohort.OrderManualRank:
			if (a.SortRank == nil) != (b.SortRank == nil) {
				return a.SortRank != nil
			}
			if a.SortRank != nil && *a.SortRank != *b.SortRank {
				return *a.SortRank < *b.SortRank
			}
		}
		return a.StartDate.Before(b.StartDate)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func hasStatus(list []cohort.Status, st cohort.Status) bool {
	for _, s := range list {
		if s == st {
			return true
		}
	}
	return false
}

func (s *memStore) LatestCohort(ctx context.Context) (*cohort.Cohort, error) {
	list, err := s.ListCohorts(ctx, cohort.Filter{Limit: 1}, cohort.OrderStartDesc)
	if err != nil || len(list) == 0 {
		return nil, err
	}
	return list[0], nil
}

func (s *memStore) UpdateCohort(_ context.Context, c *cohort.Cohort) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cohorts[c.ID]; !ok {
		return idb.ErrCohortNotFound
	}
	for _, o := range s.cohorts {
		if o.ID != c.ID && o.StartDate.Equal(c.StartDate) {
			return idb.ErrDuplicateStartDate
		}
	}
	cp := *c
	s.cohorts[c.ID] = &cp
	return nil
}

func (s *memStore) ApplyTransition(_ context.Context, t cohort.Transition, today, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failTransition != "" && s.failTransition == t.From {
		return 0, errors.New("transition store failure")
	}
	var n int64
	for _, c := range s.cohorts {
		if t.Due(c, today) {
			c.Status = t.To
			c.UpdatedAt = now
			n++
		}
	}
	return n, nil
}

func (s *memStore) InsertMembership(_ context.Context, m *cohort.Membership) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m.ID = s.id()
	cp := *m
	s.memberships = append(s.memberships, &cp)
	return nil
}

func (s *memStore) CountActiveMembers(_ context.Context, cohortID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.countActive(cohortID), nil
}

func (s *memStore) countActive(cohortID int64) int {
	n := 0
	for _, m := range s.memberships {
		if m.CohortID == cohortID && m.Status == cohort.MembershipActive {
			n++
		}
	}
	return n
}

func (s *memStore) activeMembership(cohortID, memberID int64) *cohort.Membership {
	for _, m := range s.memberships {
		if m.CohortID == cohortID && m.MemberID == memberID && m.Status == cohort.MembershipActive {
			return m
		}
	}
	return nil
}

func (s *memStore) GetActiveMembership(_ context.Context, cohortID, memberID int64) (*cohort.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.activeMembership(cohortID, memberID)
	if m == nil {
		return nil, idb.ErrMembershipNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *memStore) ReserveSeat(_ context.Context, cohortID, memberID int64, joinedOn time.Time) (cohort.SeatOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cohorts[cohortID]
	if !ok {
		return "", idb.ErrCohortNotFound
	}
	if s.activeMembership(cohortID, memberID) != nil {
		return cohort.SeatAlreadyMember, nil
	}
	if s.countActive(cohortID) >= c.Capacity {
		return cohort.SeatFull, nil
	}
	s.memberships = append(s.memberships, &cohort.Membership{
		ID: s.id(), CohortID: cohortID, MemberID: memberID, JoinedOn: joinedOn, Status: cohort.MembershipActive,
	})
	return cohort.SeatReserved, nil
}

func (s *memStore) DeactivateMembership(_ context.Context, cohortID, memberID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.activeMembership(cohortID, memberID)
	if m == nil {
		return idb.ErrMembershipNotFound
	}
	m.Status = cohort.MembershipInactive
	return nil
}

func (s *memStore) ListActiveMembers(_ context.Context, cohortID int64) ([]*cohort.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*cohort.Member
	for _, ms := range s.memberships {
		if ms.CohortID == cohortID && ms.Status == cohort.MembershipActive {
			if m, ok := s.members[ms.MemberID]; ok {
				out = append(out, m)
			}
		}
	}
	return out, nil
}

func (s *memStore) ListFirstTimers(_ context.Context, cohortID int64) ([]*cohort.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current := s.cohorts[cohortID]
	var out []*cohort.Member
	for _, ms := range s.memberships {
		if ms.CohortID != cohortID || ms.Status != cohort.MembershipActive {
			continue
		}
		earlier := false
		for _, other := range s.memberships {
			if other.MemberID != ms.MemberID {
				continue
			}
			if oc, ok := s.cohorts[other.CohortID]; ok && oc.StartDate.Before(current.StartDate) {
				earlier = true
				break
			}
		}
		if !earlier {
			if m, ok := s.members[ms.MemberID]; ok {
				out = append(out, m)
			}
		}
	}
	return out, nil
}

func (s *memStore) CreateMember(_ context.Context, m *cohort.Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.members {
		if o.Email == m.Email {
			return idb.ErrDuplicateMember
		}
	}
	m.ID = s.id()
	cp := *m
	s.members[m.ID] = &cp
	return nil
}

func (s *memStore) GetMemberByID(_ context.Context, id int64) (*cohort.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[id]
	if !ok {
		return nil, idb.ErrMemberNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *memStore) GetMemberByTelegramID(_ context.Context, telegramID int64) (*cohort.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.members {
		if m.TelegramID != nil && *m.TelegramID == telegramID {
			cp := *m
			return &cp, nil
		}
	}
	return nil, idb.ErrMemberNotFound
}

// addMember registers a member directly and returns its id.
func (s *memStore) addMember(email string) int64 {
	m := &cohort.Member{Email: email, DisplayName: email, Role: cohort.RoleMember}
	_ = s.CreateMember(context.Background(), m)
	return m.ID
}

// addCohort stores a cohort directly, bypassing the service.
func (s *memStore) addCohort(c cohort.Cohort) *cohort.Cohort {
	_ = s.InsertCohort(context.Background(), &c)
	return &c
}

// join inserts an active membership without capacity checks.
func (s *memStore) join(cohortID, memberID int64) {
	_ = s.InsertMembership(context.Background(), &cohort.Membership{
		CohortID: cohortID, MemberID: memberID, Status: cohort.MembershipActive,
	})
}

// memLog is an in-memory notification.MessageLog.
type memLog struct {
	mu      sync.Mutex
	records map[notification.Key]notification.Record
}

func newMemLog() *memLog {
	return &memLog{records: map[notification.Key]notification.Record{}}
}

func (l *memLog) HasRecord(_ context.Context, key notification.Key) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.records[key]
	return ok, nil
}

func (l *memLog) HasKindOnDay(_ context.Context, kind notification.Kind, d time.Time) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for k := range l.records {
		if k.Kind == kind && k.DayBucket.Equal(d) {
			return true, nil
		}
	}
	return false, nil
}

func (l *memLog) HasCohortKind(_ context.Context, cohortID int64, kind notification.Kind) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for k := range l.records {
		if k.Kind == kind && k.CohortID == cohortID {
			return true, nil
		}
	}
	return false, nil
}

func (l *memLog) WriteRecord(_ context.Context, rec *notification.Record) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.records[rec.Key]; ok {
		return false, nil
	}
	l.records[rec.Key] = *rec
	return true, nil
}

func (l *memLog) count(kind notification.Kind) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for k := range l.records {
		if k.Kind == kind {
			n++
		}
	}
	return n
}

// memAnnouncer records posts.
type memAnnouncer struct {
	mu    sync.Mutex
	posts []notification.Announcement
	err   error
}

func (a *memAnnouncer) Post(_ context.Context, an *notification.Announcement) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.posts = append(a.posts, *an)
	return nil
}

func (a *memAnnouncer) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.posts)
}

// memTransport records sends; addresses in fail get an error.
type memTransport struct {
	mu   sync.Mutex
	sent []string
	fail map[string]error
}

func (t *memTransport) Send(_ context.Context, to mail.Recipient, _ mail.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err, ok := t.fail[to.Email]; ok {
		return err
	}
	t.sent = append(t.sent, to.Email)
	return nil
}

func (t *memTransport) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sent)
}

// memHealth skips addresses in skip and counts recorded outcomes.
type memHealth struct {
	mu       sync.Mutex
	skip     map[string]bool
	failures map[string]int
}

func (h *memHealth) ShouldSkip(_ context.Context, email string) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.skip[email], nil
}

func (h *memHealth) RecordOutcome(_ context.Context, email string, sendErr error) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.failures == nil {
		h.failures = map[string]int{}
	}
	if sendErr != nil {
		h.failures[email]++
	} else {
		delete(h.failures, email)
	}
	return nil
}

// fixture wires the services over the in-memory collaborators.
type fixture struct {
	store     *memStore
	log       *memLog
	announcer *memAnnouncer
	transport *memTransport
	lifecycle *LifecycleService
	notify    *NotificationService
	job       *SchedulerJob
}

func newFixture(now time.Time) *fixture {
	f := &fixture{
		store:     newMemStore(),
		log:       newMemLog(),
		announcer: &memAnnouncer{},
		transport: &memTransport{fail: map[string]error{}},
	}
	clock := fixedClock(now)
	logger := testLogger()
	f.lifecycle = NewLifecycleService(f.store, f.store, Naming{Program: "Reading Group", Suffix: "Cohort"}, 50, clock, logger, nil)
	dispatcher := NewDispatcher(f.transport, nil, DispatcherConfig{BatchSize: 10}, logger, nil)
	f.notify = NewNotificationService(f.store, NewNotificationGate(f.log), dispatcher, f.announcer, 999, clock, logger, nil)
	f.job = NewSchedulerJob(f.lifecycle, f.notify, logger, nil)
	return f
}
