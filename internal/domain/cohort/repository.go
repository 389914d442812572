package cohort

import (
	"context"
	"time"
)

// Repository defines the persistence operations for cohorts and memberships.
type Repository interface {
	InsertCohort(ctx context.Context, c *Cohort) error
	GetCohort(ctx context.Context, id int64) (*Cohort, error)
	ListCohorts(ctx context.Context, filter Filter, order Order) ([]*Cohort, error)
	// LatestCohort returns the cohort with the greatest start date, or nil when none exist.
	LatestCohort(ctx context.Context) (*Cohort, error)
	UpdateCohort(ctx context.Context, c *Cohort) error
	// ApplyTransition moves every cohort due for t on the given day, stamps updated_at with now
	// and returns how many moved.
	ApplyTransition(ctx context.Context, t Transition, today, now time.Time) (int64, error)

	InsertMembership(ctx context.Context, m *Membership) error
	CountActiveMembers(ctx context.Context, cohortID int64) (int, error)
	GetActiveMembership(ctx context.Context, cohortID, memberID int64) (*Membership, error)
	// ReserveSeat checks capacity and duplicates and inserts the membership in one transaction.
	ReserveSeat(ctx context.Context, cohortID, memberID int64, joinedOn time.Time) (SeatOutcome, error)
	DeactivateMembership(ctx context.Context, cohortID, memberID int64) error

	// ListActiveMembers returns the members holding an active membership in the cohort.
	ListActiveMembers(ctx context.Context, cohortID int64) ([]*Member, error)
	// ListFirstTimers returns active members of the cohort with no membership in any cohort
	// that starts earlier.
	ListFirstTimers(ctx context.Context, cohortID int64) ([]*Member, error)
}

// MemberRepository defines the operations on the member registry.
type MemberRepository interface {
	CreateMember(ctx context.Context, m *Member) error
	GetMemberByID(ctx context.Context, id int64) (*Member, error)
	GetMemberByTelegramID(ctx context.Context, telegramID int64) (*Member, error)
}
