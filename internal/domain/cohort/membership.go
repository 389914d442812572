package cohort

import "time"

// MembershipStatus tracks whether a member still belongs to a cohort.
type MembershipStatus string

const (
	MembershipActive   MembershipStatus = "active"
	MembershipInactive MembershipStatus = "inactive"
)

// Membership joins a member to a cohort.
// Corresponds to the 'memberships' table.
type Membership struct {
	ID          int64
	CohortID    int64
	MemberID    int64
	JoinedOn    time.Time
	Status      MembershipStatus
	CompletedAt *time.Time // set by administrative tooling, read for awards
}

// Role separates administrators from regular members.
type Role string

const (
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
)

// Member is a person who can join cohorts and receive notifications.
type Member struct {
	ID          int64
	Email       string
	DisplayName string
	TelegramID  *int64
	Role        Role
	CreatedAt   time.Time
}

// SeatOutcome is the result of an atomic seat reservation.
type SeatOutcome string

const (
	SeatReserved      SeatOutcome = "reserved"
	SeatAlreadyMember SeatOutcome = "already_member"
	SeatFull          SeatOutcome = "full"
)
