package app

import (
	"context"
	"errors"
	"fmt"

	"reading_group_scheduler/internal/domain/cohort"
	idb "reading_group_scheduler/internal/infra/database"

	"github.com/sirupsen/logrus"
)

// Outcome classifies an enrollment or removal result.
type Outcome string

const (
	OutcomeEnrolled      Outcome = "enrolled"
	OutcomeAlreadyMember Outcome = "already_member"
	OutcomeFull          Outcome = "full"
	OutcomeNoOpenCohort  Outcome = "no_open_cohort"
	OutcomeNotFound      Outcome = "not_found"
	OutcomeRemoved       Outcome = "removed"
)

// EnrollmentResult is the answer to an enroll or remove request. Expected conflicts such as a
// full cohort are reported here rather than as errors.
type EnrollmentResult struct {
	Success  bool
	CohortID int64
	Outcome  Outcome
	Message  string
}

// Enroll joins the member to the currently open cohort. When no cohort is open the next one
// is created and activated immediately.
func (s *LifecycleService) Enroll(ctx context.Context, memberID int64) (EnrollmentResult, error) {
	logger := s.logger.WithField("member_id", memberID)

	if res, ok, err := s.checkMember(ctx, memberID); !ok || err != nil {
		return res, err
	}

	open, err := s.GetCurrentOpenCohort(ctx)
	if err != nil {
		return EnrollmentResult{}, err
	}
	if open == nil {
		logger.Info("No open cohort for enrollment. Trying to create the next one.")
		created, err := s.EnsureNextCohortExists(ctx)
		if err != nil {
			return EnrollmentResult{}, fmt.Errorf("failed to create next cohort for enrollment: %w", err)
		}
		if created == nil || !created.RegistrationOpen(s.today()) {
			s.metrics.EnrollmentOutcome(string(OutcomeNoOpenCohort))
			return EnrollmentResult{
				Success: false,
				Outcome: OutcomeNoOpenCohort,
				Message: "No cohort is currently open for registration.",
			}, nil
		}
		if created.Status != cohort.StatusActive {
			created.Status = cohort.StatusActive
			created.UpdatedAt = s.clock().UTC()
			if err := s.cohorts.UpdateCohort(ctx, created); err != nil {
				return EnrollmentResult{}, fmt.Errorf("failed to activate cohort %d: %w", created.ID, err)
			}
			logger.WithField("cohort_id", created.ID).Info("Cohort activated for enrollment")
		}
		open = created
	}

	return s.reserve(ctx, open, memberID)
}

// AdminEnroll joins the member to an explicit cohort using the same capacity and duplicate
// rules as Enroll.
func (s *LifecycleService) AdminEnroll(ctx context.Context, cohortID, memberID int64) (EnrollmentResult, error) {
	c, err := s.cohorts.GetCohort(ctx, cohortID)
	if err != nil {
		if errors.Is(err, idb.ErrCohortNotFound) {
			return notFound(cohortID, fmt.Sprintf("Cohort %d not found.", cohortID)), nil
		}
		return EnrollmentResult{}, fmt.Errorf("failed to get cohort %d: %w", cohortID, err)
	}
	if res, ok, err := s.checkMember(ctx, memberID); !ok || err != nil {
		return res, err
	}
	return s.reserve(ctx, c, memberID)
}

// AdminRemove deactivates the member's active membership in the cohort.
func (s *LifecycleService) AdminRemove(ctx context.Context, cohortID, memberID int64) (EnrollmentResult, error) {
	c, err := s.cohorts.GetCohort(ctx, cohortID)
	if err != nil {
		if errors.Is(err, idb.ErrCohortNotFound) {
			return notFound(cohortID, fmt.Sprintf("Cohort %d not found.", cohortID)), nil
		}
		return EnrollmentResult{}, fmt.Errorf("failed to get cohort %d: %w", cohortID, err)
	}

	if err := s.cohorts.DeactivateMembership(ctx, c.ID, memberID); err != nil {
		if errors.Is(err, idb.ErrMembershipNotFound) {
			return notFound(c.ID, fmt.Sprintf("Member %d has no active membership in %s.", memberID, c.Name)), nil
		}
		return EnrollmentResult{}, fmt.Errorf("failed to remove member %d from cohort %d: %w", memberID, c.ID, err)
	}

	s.logger.WithFields(logrus.Fields{"cohort_id": c.ID, "member_id": memberID}).Info("Member removed from cohort")
	s.metrics.EnrollmentOutcome(string(OutcomeRemoved))
	return EnrollmentResult{
		Success:  true,
		CohortID: c.ID,
		Outcome:  OutcomeRemoved,
		Message:  fmt.Sprintf("Member %d removed from %s.", memberID, c.Name),
	}, nil
}

func (s *LifecycleService) checkMember(ctx context.Context, memberID int64) (EnrollmentResult, bool, error) {
	if s.members == nil {
		return EnrollmentResult{}, true, nil
	}
	if _, err := s.members.GetMemberByID(ctx, memberID); err != nil {
		if errors.Is(err, idb.ErrMemberNotFound) {
			return notFound(0, fmt.Sprintf("Member %d not found.", memberID)), false, nil
		}
		return EnrollmentResult{}, false, fmt.Errorf("failed to get member %d: %w", memberID, err)
	}
	return EnrollmentResult{}, true, nil
}

func (s *LifecycleService) reserve(ctx context.Context, c *cohort.Cohort, memberID int64) (EnrollmentResult, error) {
	logger := s.logger.WithFields(logrus.Fields{"cohort_id": c.ID, "member_id": memberID})

	seat, err := s.cohorts.ReserveSeat(ctx, c.ID, memberID, s.today())
	if err != nil {
		if errors.Is(err, idb.ErrCohortNotFound) {
			return notFound(c.ID, fmt.Sprintf("Cohort %d not found.", c.ID)), nil
		}
		return EnrollmentResult{}, fmt.Errorf("failed to reserve seat in cohort %d: %w", c.ID, err)
	}

	var res EnrollmentResult
	switch seat {
	case cohort.SeatReserved:
		logger.Info("Member enrolled")
		res = EnrollmentResult{Success: true, CohortID: c.ID, Outcome: OutcomeEnrolled,
			Message: fmt.Sprintf("Enrolled in %s.", c.Name)}
	case cohort.SeatAlreadyMember:
		logger.Debug("Member already enrolled")
		res = EnrollmentResult{Success: true, CohortID: c.ID, Outcome: OutcomeAlreadyMember,
			Message: fmt.Sprintf("Already a member of %s.", c.Name)}
	case cohort.SeatFull:
		logger.WithField("capacity", c.Capacity).Warn("Cohort is full")
		res = EnrollmentResult{Success: false, CohortID: c.ID, Outcome: OutcomeFull,
			Message: fmt.Sprintf("%s is full.", c.Name)}
	default:
		return EnrollmentResult{}, fmt.Errorf("unexpected seat outcome %q", seat)
	}
	s.metrics.EnrollmentOutcome(string(res.Outcome))
	return res, nil
}

func notFound(cohortID int64, msg string) EnrollmentResult {
	return EnrollmentResult{Success: false, CohortID: cohortID, Outcome: OutcomeNotFound, Message: msg}
}
