// internal/app/lifecycle_service.go
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"reading_group_scheduler/internal/domain/cohort"
	"reading_group_scheduler/internal/domain/dateanchor"
	idb "reading_group_scheduler/internal/infra/database"

	"github.com/sirupsen/logrus"
)

// Application-level validation errors for cohort operations.
var (
	ErrInvalidStartDate = fmt.Errorf("invalid cohort start date")
	ErrInvalidCapacity  = fmt.Errorf("cohort capacity must be positive")
	ErrInvalidName      = fmt.Errorf("cohort name must not be empty")
	ErrInvalidStatus    = fmt.Errorf("invalid cohort status")
)

// Naming builds display names of the form "<Program> <Month> <Year> <Suffix>".
type Naming struct {
	Program string
	Suffix  string
}

// CohortName returns the generated name for a cohort starting on start.
func (n Naming) CohortName(start time.Time) string {
	parts := make([]string, 0, 4)
	if p := strings.TrimSpace(n.Program); p != "" {
		parts = append(parts, p)
	}
	parts = append(parts, start.Month().String(), fmt.Sprintf("%d", start.Year()))
	if s := strings.TrimSpace(n.Suffix); s != "" {
		parts = append(parts, s)
	}
	return strings.Join(parts, " ")
}

// CreateCohortInput describes an admin or automatic cohort creation.
type CreateCohortInput struct {
	StartDate string
	Capacity  int           // defaults to the service default capacity
	Status    cohort.Status // defaults to upcoming
	Name      string        // generated from the aligned start when empty
}

// CohortPatch holds the fields an admin update may change. Nil fields are left alone.
type CohortPatch struct {
	Name      *string
	Status    *string
	StartDate *string
	Capacity  *int
}

// TransitionReport counts the cohorts moved by each transition of one pass.
type TransitionReport struct {
	Moved map[string]int64
}

// Total is the number of cohorts moved across all transitions.
func (r TransitionReport) Total() int64 {
	var n int64
	for _, v := range r.Moved {
		n += v
	}
	return n
}

// LifecycleService owns cohort creation, status transitions and enrollment.
type LifecycleService struct {
	cohorts         cohort.Repository
	members         cohort.MemberRepository
	naming          Naming
	defaultCapacity int
	clock           func() time.Time
	logger          *logrus.Entry
	metrics         Recorder
}

func NewLifecycleService(
	cr cohort.Repository,
	mr cohort.MemberRepository,
	naming Naming,
	defaultCapacity int,
	clock func() time.Time,
	logger *logrus.Entry,
	metrics Recorder,
) *LifecycleService {
	if clock == nil {
		clock = time.Now
	}
	if defaultCapacity <= 0 {
		defaultCapacity = cohort.DefaultCapacity
	}
	if metrics == nil {
		metrics = nopRecorder{}
	}
	return &LifecycleService{
		cohorts:         cr,
		members:         mr,
		naming:          naming,
		defaultCapacity: defaultCapacity,
		clock:           clock,
		logger:          logger.WithField("component", "lifecycle"),
		metrics:         metrics,
	}
}

func (s *LifecycleService) today() time.Time {
	return dateanchor.Day(s.clock())
}

// CreateCohort normalizes the start date, derives the dependent dates and name, and stores
// the cohort.
func (s *LifecycleService) CreateCohort(ctx context.Context, in CreateCohortInput) (*cohort.Cohort, error) {
	start, err := dateanchor.Resolve(in.StartDate)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStartDate, in.StartDate)
	}
	return s.createFromStart(ctx, start, in.Capacity, in.Status, in.Name)
}

func (s *LifecycleService) createFromStart(ctx context.Context, start dateanchor.StartDate, capacity int, status cohort.Status, name string) (*cohort.Cohort, error) {
	if capacity == 0 {
		capacity = s.defaultCapacity
	}
	if capacity < 0 {
		return nil, ErrInvalidCapacity
	}
	if status == "" {
		status = cohort.StatusUpcoming
	}
	if _, err := cohort.ParseStatus(string(status)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidStatus, err)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = s.naming.CohortName(start.Date)
	}

	now := s.clock().UTC()
	c := &cohort.Cohort{
		Name:      name,
		Capacity:  capacity,
		Status:    status,
		CreatedAt: now,
		UpdatedAt: now,
	}
	c.ApplyStart(start)

	if err := s.cohorts.InsertCohort(ctx, c); err != nil {
		return nil, fmt.Errorf("failed to insert cohort starting %s: %w", start, err)
	}
	s.logger.WithFields(logrus.Fields{
		"cohort_id":  c.ID,
		"name":       c.Name,
		"start_date": start.String(),
		"legacy":     c.Legacy,
	}).Info("Cohort created")
	return c, nil
}

// EnsureNextCohortExists creates the cohort following the latest one when its start date is
// still in the future, or a bootstrap cohort when none exist. The bootstrap cohort is the
// current quarter's while its registration deadline has not passed, otherwise the next quarter's.
// It returns nil when nothing needed to be created.
func (s *LifecycleService) EnsureNextCohortExists(ctx context.Context) (*cohort.Cohort, error) {
	today := s.today()
	latest, err := s.cohorts.LatestCohort(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load latest cohort: %w", err)
	}

	var start dateanchor.StartDate
	if latest == nil {
		start = dateanchor.FromDate(today)
		if _, deadline := dateanchor.DeriveEndAndDeadline(start.Date); deadline.Before(today) {
			// Registration for the current quarter is over; bootstrap the next one.
			start = dateanchor.FromDate(dateanchor.AddMonths(start.Date, 3))
		}
		s.logger.WithField("start_date", start.String()).Info("No cohorts found. Creating bootstrap cohort.")
	} else {
		next := dateanchor.AddMonths(latest.StartDate, 3)
		if !next.After(today) {
			s.logger.WithFields(logrus.Fields{
				"latest_start": dateanchor.Format(latest.StartDate),
				"next_start":   dateanchor.Format(next),
			}).Debug("Next cohort start is not in the future. Skipping creation.")
			return nil, nil
		}
		start = dateanchor.FromDate(next)
	}

	created, err := s.createFromStart(ctx, start, 0, cohort.StatusUpcoming, "")
	if err != nil {
		if errors.Is(err, idb.ErrDuplicateStartDate) {
			// Another caller created it first.
			s.logger.WithField("start_date", start.String()).Info("Next cohort already created concurrently")
			return s.cohorts.LatestCohort(ctx)
		}
		return nil, err
	}
	return created, nil
}

// GetCurrentOpenCohort returns the earliest upcoming or active cohort whose registration
// deadline has not passed, or nil.
func (s *LifecycleService) GetCurrentOpenCohort(ctx context.Context) (*cohort.Cohort, error) {
	today := s.today()
	list, err := s.cohorts.ListCohorts(ctx, cohort.Filter{
		Statuses:          []cohort.Status{cohort.StatusUpcoming, cohort.StatusActive},
		DeadlineOnOrAfter: &today,
		Limit:             1,
	}, cohort.OrderStartAsc)
	if err != nil {
		return nil, fmt.Errorf("failed to list open cohorts: %w", err)
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

// HasActiveCohort reports whether any cohort is currently active.
func (s *LifecycleService) HasActiveCohort(ctx context.Context) (bool, error) {
	list, err := s.cohorts.ListCohorts(ctx, cohort.Filter{
		Statuses: []cohort.Status{cohort.StatusActive},
		Limit:    1,
	}, cohort.OrderStartAsc)
	if err != nil {
		return false, fmt.Errorf("failed to list active cohorts: %w", err)
	}
	return len(list) > 0, nil
}

// ListCohorts returns every cohort in manual display order.
func (s *LifecycleService) ListCohorts(ctx context.Context) ([]*cohort.Cohort, error) {
	return s.cohorts.ListCohorts(ctx, cohort.Filter{}, cohort.OrderManualRank)
}

// RunTransitions applies every automated status transition in order. A failing transition
// is logged and does not stop the following ones.
func (s *LifecycleService) RunTransitions(ctx context.Context) (TransitionReport, error) {
	today, now := s.today(), s.clock().UTC()
	report := TransitionReport{Moved: make(map[string]int64, len(cohort.Transitions))}
	var errs []error
	for _, t := range cohort.Transitions {
		n, err := s.cohorts.ApplyTransition(ctx, t, today, now)
		if err != nil {
			s.logger.WithError(err).WithField("transition", t.String()).Error("Failed to apply cohort transition")
			errs = append(errs, fmt.Errorf("transition %s: %w", t, err))
			continue
		}
		report.Moved[t.String()] = n
		if n > 0 {
			s.logger.WithFields(logrus.Fields{
				"transition": t.String(),
				"cohorts":    n,
				"today":      dateanchor.Format(today),
			}).Info("Cohort status transition applied")
		}
	}
	return report, errors.Join(errs...)
}

// UpdateCohort applies an admin edit. Changing the start date recomputes the end date and
// deadline and regenerates the name unless the same patch sets a name.
func (s *LifecycleService) UpdateCohort(ctx context.Context, id int64, patch CohortPatch) (*cohort.Cohort, error) {
	c, err := s.cohorts.GetCohort(ctx, id)
	if err != nil {
		return nil, err
	}

	if patch.Status != nil {
		st, err := cohort.ParseStatus(*patch.Status)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidStatus, err)
		}
		c.Status = st
	}
	if patch.Capacity != nil {
		if *patch.Capacity <= 0 {
			return nil, ErrInvalidCapacity
		}
		c.Capacity = *patch.Capacity
	}
	if patch.StartDate != nil {
		start, err := dateanchor.Resolve(*patch.StartDate)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidStartDate, *patch.StartDate)
		}
		c.ApplyStart(start)
		if patch.Name == nil {
			c.Name = s.naming.CohortName(start.Date)
		}
	}
	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name == "" {
			return nil, ErrInvalidName
		}
		c.Name = name
	}

	c.UpdatedAt = s.clock().UTC()
	if err := s.cohorts.UpdateCohort(ctx, c); err != nil {
		return nil, fmt.Errorf("failed to update cohort %d: %w", id, err)
	}
	s.logger.WithFields(logrus.Fields{"cohort_id": c.ID, "name": c.Name, "status": c.Status}).Info("Cohort updated")
	return c, nil
}

// SetSortOrder ranks the given cohorts in order, starting at 1.
func (s *LifecycleService) SetSortOrder(ctx context.Context, ids []int64) error {
	now := s.clock().UTC()
	for i, id := range ids {
		c, err := s.cohorts.GetCohort(ctx, id)
		if err != nil {
			return fmt.Errorf("cohort %d: %w", id, err)
		}
		rank := i + 1
		c.SortRank = &rank
		c.UpdatedAt = now
		if err := s.cohorts.UpdateCohort(ctx, c); err != nil {
			return fmt.Errorf("failed to rank cohort %d: %w", id, err)
		}
	}
	return nil
}

// NormalizeAll re-derives the aligned start, end, deadline and name of every cohort and
// writes back only the rows that changed. Legacy cohorts keep their start date and name.
func (s *LifecycleService) NormalizeAll(ctx context.Context) (int, error) {
	all, err := s.cohorts.ListCohorts(ctx, cohort.Filter{}, cohort.OrderStartAsc)
	if err != nil {
		return 0, fmt.Errorf("failed to list cohorts for normalization: %w", err)
	}

	touched := 0
	var errs []error
	for _, c := range all {
		updated := *c
		start := dateanchor.FromDate(c.StartDate)
		updated.ApplyStart(start)
		if !start.IsLegacy() {
			updated.Name = s.naming.CohortName(start.Date)
		}
		if sameSchedule(c, &updated) {
			continue
		}

		updated.UpdatedAt = s.clock().UTC()
		if err := s.cohorts.UpdateCohort(ctx, &updated); err != nil {
			s.logger.WithError(err).WithField("cohort_id", c.ID).Error("Failed to write normalized cohort")
			errs = append(errs, fmt.Errorf("cohort %d: %w", c.ID, err))
			continue
		}
		touched++
		s.logger.WithFields(logrus.Fields{
			"cohort_id": c.ID,
			"old_name":  c.Name,
			"new_name":  updated.Name,
			"old_start": dateanchor.Format(c.StartDate),
			"new_start": dateanchor.Format(updated.StartDate),
		}).Info("Cohort normalized")
	}
	return touched, errors.Join(errs...)
}

func sameSchedule(a, b *cohort.Cohort) bool {
	return a.Name == b.Name &&
		a.Legacy == b.Legacy &&
		a.StartDate.Equal(b.StartDate) &&
		a.EndDate.Equal(b.EndDate) &&
		a.RegistrationDeadline.Equal(b.RegistrationDeadline)
}
