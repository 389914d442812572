package cohort

import (
	"time"

	"reading_group_scheduler/internal/domain/dateanchor"
)

// DefaultCapacity is the member limit for cohorts created without an explicit capacity.
const DefaultCapacity = 50

// Cohort is one quarterly reading group.
// Corresponds to the 'cohorts' table.
type Cohort struct {
	ID                   int64
	Name                 string
	StartDate            time.Time // UTC midnight
	EndDate              time.Time // StartDate + 1 year - 1 day
	RegistrationDeadline time.Time // StartDate + 17 days
	Capacity             int
	Status               Status
	SortRank             *int // manual ordering set by admins, nil when unranked
	Legacy               bool // start date predates quarter alignment
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// StartAnchor returns the start date as a resolved dateanchor value.
func (c *Cohort) StartAnchor() dateanchor.StartDate {
	kind := dateanchor.KindAnchored
	if c.Legacy {
		kind = dateanchor.KindLegacy
	}
	return dateanchor.StartDate{Date: c.StartDate, Kind: kind}
}

// ApplyStart sets the start date and the dates derived from it.
func (c *Cohort) ApplyStart(start dateanchor.StartDate) {
	c.StartDate = start.Date
	c.Legacy = start.IsLegacy()
	c.EndDate, c.RegistrationDeadline = dateanchor.DeriveEndAndDeadline(start.Date)
}

// RegistrationOpen reports whether members may still join on the given day.
func (c *Cohort) RegistrationOpen(today time.Time) bool {
	if c.Status != StatusUpcoming && c.Status != StatusActive {
		return false
	}
	return !dateanchor.Day(today).After(c.RegistrationDeadline)
}

// DayOffset returns the number of days since the cohort started.
func (c *Cohort) DayOffset(today time.Time) int {
	return dateanchor.DaysBetween(c.StartDate, today)
}

// Filter narrows ListCohorts results. Zero values do not filter.
type Filter struct {
	Statuses []Status
	// StartOnOrBefore keeps cohorts starting on or before the given day.
	StartOnOrBefore *time.Time
	// DeadlineOnOrAfter keeps cohorts whose registration deadline has not passed.
	DeadlineOnOrAfter *time.Time
	Limit             int
}

// Order selects the ListCohorts sort.
type Order string

const (
	OrderStartAsc   Order = "start_asc"
	OrderStartDesc  Order = "start_desc"
	OrderManualRank Order = "manual_rank" // sort rank first, then start date
)
