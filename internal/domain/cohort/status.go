package cohort

import (
	"fmt"
	"time"

	"reading_group_scheduler/internal/domain/dateanchor"
)

// Status is the lifecycle state of a cohort.
type Status string

const (
	StatusUpcoming  Status = "upcoming"
	StatusActive    Status = "active"
	StatusClosed    Status = "closed"
	StatusCompleted Status = "completed"
)

var statusOrder = []Status{StatusUpcoming, StatusActive, StatusClosed, StatusCompleted}

// ParseStatus validates a status name.
func ParseStatus(s string) (Status, error) {
	for _, st := range statusOrder {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown cohort status %q", s)
}

// Next returns the status that follows s, and false for the terminal status.
func (s Status) Next() (Status, bool) {
	for i, st := range statusOrder {
		if st == s && i+1 < len(statusOrder) {
			return statusOrder[i+1], true
		}
	}
	return "", false
}

// CanAdvanceTo reports whether to is the immediate successor of s.
func (s Status) CanAdvanceTo(to Status) bool {
	next, ok := s.Next()
	return ok && next == to
}

// DateField names the cohort date a transition compares against today.
type DateField string

const (
	FieldStartDate            DateField = "start_date"
	FieldRegistrationDeadline DateField = "registration_deadline"
	FieldEndDate              DateField = "end_date"
)

// Transition is one automated step of the cohort state machine.
type Transition struct {
	From  Status
	To    Status
	Field DateField
	// Inclusive fires on the day itself (today >= date); otherwise only after it (today > date).
	Inclusive bool
}

// Transitions are applied in this order on every scheduler pass.
var Transitions = []Transition{
	{From: StatusUpcoming, To: StatusActive, Field: FieldStartDate, Inclusive: true},
	{From: StatusActive, To: StatusClosed, Field: FieldRegistrationDeadline},
	{From: StatusClosed, To: StatusCompleted, Field: FieldEndDate},
}

func (t Transition) String() string {
	return fmt.Sprintf("%s->%s", t.From, t.To)
}

// Operator is the comparison "date <op> today" under which the transition fires.
// Repositories that filter in SQL use it so they agree with Due.
func (t Transition) Operator() string {
	if t.Inclusive {
		return "<="
	}
	return "<"
}

// Date returns the cohort date the transition is keyed on.
func (t Transition) Date(c *Cohort) (time.Time, bool) {
	switch t.Field {
	case FieldStartDate:
		return c.StartDate, true
	case FieldRegistrationDeadline:
		return c.RegistrationDeadline, true
	case FieldEndDate:
		return c.EndDate, true
	}
	return time.Time{}, false
}

// Due reports whether c should take this transition on the given day.
func (t Transition) Due(c *Cohort, today time.Time) bool {
	if c.Status != t.From {
		return false
	}
	date, ok := t.Date(c)
	if !ok {
		return false
	}
	date, today = dateanchor.Day(date), dateanchor.Day(today)
	if t.Operator() == "<=" {
		return !date.After(today)
	}
	return date.Before(today)
}
