package app

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"reading_group_scheduler/internal/domain/cohort"
	idb "reading_group_scheduler/internal/infra/database"
)

// Custom application-level errors for admin service
var ErrAdminNotAuthorized = fmt.Errorf("performing user is not authorized as an admin")
var ErrNotFound = fmt.Errorf("not found")
var ErrConflict = fmt.Errorf("conflicts with existing data")
var ErrInvalidMember = fmt.Errorf("invalid member details")

// OnDemandRunner runs a scheduler pass outside the cron schedule. The scheduler bounds the
// pass with its configured timeout.
type OnDemandRunner interface {
	RunNow(ctx context.Context) RunReport
}

// AdminService exposes the administrative operations to the request layer and the admin bot.
// Every call names the performing admin: one of the configured admin IDs, or a member whose
// Telegram ID is registered with the admin role.
type AdminService struct {
	lifecycle *LifecycleService
	runner    OnDemandRunner
	members   cohort.MemberRepository
	adminIDs  map[int64]struct{}
	clock     func() time.Time
}

func NewAdminService(lifecycle *LifecycleService, runner OnDemandRunner, mr cohort.MemberRepository, adminIDs []int64) *AdminService {
	ids := make(map[int64]struct{}, len(adminIDs))
	for _, id := range adminIDs {
		ids[id] = struct{}{}
	}
	return &AdminService{
		lifecycle: lifecycle,
		runner:    runner,
		members:   mr,
		adminIDs:  ids,
		clock:     time.Now,
	}
}

// IsAdmin reports whether actorID may run admin operations.
func (s *AdminService) IsAdmin(ctx context.Context, actorID int64) (bool, error) {
	if _, ok := s.adminIDs[actorID]; ok {
		return true, nil
	}
	if s.members == nil {
		return false, nil
	}
	m, err := s.members.GetMemberByTelegramID(ctx, actorID)
	if err != nil {
		if errors.Is(err, idb.ErrMemberNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to look up member for admin check: %w", err)
	}
	return m.Role == cohort.RoleAdmin, nil
}

func (s *AdminService) authorize(ctx context.Context, actorID int64) error {
	ok, err := s.IsAdmin(ctx, actorID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrAdminNotAuthorized
	}
	return nil
}

// CreateCohort creates a cohort on behalf of an admin.
func (s *AdminService) CreateCohort(ctx context.Context, actorID int64, in CreateCohortInput) (*cohort.Cohort, error) {
	if err := s.authorize(ctx, actorID); err != nil {
		return nil, err
	}
	c, err := s.lifecycle.CreateCohort(ctx, in)
	if err != nil {
		return nil, mapStoreError(err)
	}
	return c, nil
}

// UpdateCohort edits a cohort on behalf of an admin.
func (s *AdminService) UpdateCohort(ctx context.Context, actorID int64, id int64, patch CohortPatch) (*cohort.Cohort, error) {
	if err := s.authorize(ctx, actorID); err != nil {
		return nil, err
	}
	c, err := s.lifecycle.UpdateCohort(ctx, id, patch)
	if err != nil {
		return nil, mapStoreError(err)
	}
	return c, nil
}

// SetSortOrder stores the manual display order of cohorts.
func (s *AdminService) SetSortOrder(ctx context.Context, actorID int64, ids []int64) error {
	if err := s.authorize(ctx, actorID); err != nil {
		return err
	}
	return mapStoreError(s.lifecycle.SetSortOrder(ctx, ids))
}

// ListCohorts returns every cohort in display order.
func (s *AdminService) ListCohorts(ctx context.Context, actorID int64) ([]*cohort.Cohort, error) {
	if err := s.authorize(ctx, actorID); err != nil {
		return nil, err
	}
	return s.lifecycle.ListCohorts(ctx)
}

// EnrollMember adds a member to an explicit cohort.
func (s *AdminService) EnrollMember(ctx context.Context, actorID, cohortID, memberID int64) (EnrollmentResult, error) {
	if err := s.authorize(ctx, actorID); err != nil {
		return EnrollmentResult{}, err
	}
	return s.lifecycle.AdminEnroll(ctx, cohortID, memberID)
}

// RemoveMember deactivates a member's membership in a cohort.
func (s *AdminService) RemoveMember(ctx context.Context, actorID, cohortID, memberID int64) (EnrollmentResult, error) {
	if err := s.authorize(ctx, actorID); err != nil {
		return EnrollmentResult{}, err
	}
	return s.lifecycle.AdminRemove(ctx, cohortID, memberID)
}

// AddMember registers a new member. An empty role registers a regular member.
func (s *AdminService) AddMember(ctx context.Context, actorID int64, email, displayName string, telegramID *int64, role cohort.Role) (*cohort.Member, error) {
	if err := s.authorize(ctx, actorID); err != nil {
		return nil, err
	}
	addr, err := mail.ParseAddress(strings.TrimSpace(email))
	if err != nil {
		return nil, fmt.Errorf("%w: email %q: %v", ErrInvalidMember, email, err)
	}
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		return nil, fmt.Errorf("%w: display name is required", ErrInvalidMember)
	}
	switch role {
	case "":
		role = cohort.RoleMember
	case cohort.RoleMember, cohort.RoleAdmin:
	default:
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidMember, role)
	}

	m := &cohort.Member{
		Email:       strings.ToLower(addr.Address),
		DisplayName: displayName,
		TelegramID:  telegramID,
		Role:        role,
		CreatedAt:   s.clock().UTC(),
	}
	if err := s.members.CreateMember(ctx, m); err != nil {
		return nil, mapStoreError(err)
	}
	return m, nil
}

// RunScheduler triggers a scheduler pass on demand through the scheduler, so the pass timeout
// applies.
func (s *AdminService) RunScheduler(ctx context.Context, actorID int64) (RunReport, error) {
	if err := s.authorize(ctx, actorID); err != nil {
		return RunReport{}, err
	}
	return s.runner.RunNow(ctx), nil
}

// NormalizeCohorts runs the normalization maintenance pass.
func (s *AdminService) NormalizeCohorts(ctx context.Context, actorID int64) (int, error) {
	if err := s.authorize(ctx, actorID); err != nil {
		return 0, err
	}
	return s.lifecycle.NormalizeAll(ctx)
}

// mapStoreError folds repository sentinels into the errors the request layer maps to status
// codes.
func mapStoreError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, idb.ErrCohortNotFound), errors.Is(err, idb.ErrMemberNotFound):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case errors.Is(err, idb.ErrDuplicateStartDate), errors.Is(err, idb.ErrDuplicateMember):
		return fmt.Errorf("%w: %v", ErrConflict, err)
	default:
		return err
	}
}
