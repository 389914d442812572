package cohort

import (
	"testing"
	"time"

	"reading_group_scheduler/internal/domain/dateanchor"
)

func newCohort(start string, status Status) *Cohort {
	sd, err := dateanchor.Resolve(start)
	if err != nil {
		panic(err)
	}
	c := &Cohort{Status: status}
	c.ApplyStart(sd)
	return c
}

func TestStatusNext(t *testing.T) {
	t.Parallel()
	tests := []struct {
		from Status
		next Status
		ok   bool
	}{
		{StatusUpcoming, StatusActive, true},
		{StatusActive, StatusClosed, true},
		{StatusClosed, StatusCompleted, true},
		{StatusCompleted, "", false},
	}
	for _, tt := range tests {
		next, ok := tt.from.Next()
		if next != tt.next || ok != tt.ok {
			t.Fatalf("%s.Next() = (%q, %v), want (%q, %v)", tt.from, next, ok, tt.next, tt.ok)
		}
	}
	if StatusUpcoming.CanAdvanceTo(StatusClosed) {
		t.Fatal("upcoming must not skip to closed")
	}
}

func TestParseStatus(t *testing.T) {
	t.Parallel()
	if st, err := ParseStatus("closed"); err != nil || st != StatusClosed {
		t.Fatalf("ParseStatus(closed) = %q, %v", st, err)
	}
	if _, err := ParseStatus("archived"); err == nil {
		t.Fatal("expected error for unknown status")
	}
}

func TestTransitionsFollowStateMachine(t *testing.T) {
	t.Parallel()
	for _, tr := range Transitions {
		if !tr.From.CanAdvanceTo(tr.To) {
			t.Fatalf("transition %s skips a state", tr)
		}
	}
}

func TestTransitionDue(t *testing.T) {
	t.Parallel()
	day := func(s string) time.Time {
		d, _ := dateanchor.Parse(s)
		return d
	}
	activate, closeReg, complete := Transitions[0], Transitions[1], Transitions[2]

	upcoming := newCohort("2026-10-01", StatusUpcoming)
	if activate.Due(upcoming, day("2026-09-30")) {
		t.Fatal("activated before start")
	}
	if !activate.Due(upcoming, day("2026-10-01")) {
		t.Fatal("not activated on start day")
	}

	active := newCohort("2026-10-01", StatusActive)
	if closeReg.Due(active, day("2026-10-18")) {
		t.Fatal("closed on deadline day")
	}
	if !closeReg.Due(active, day("2026-10-19")) {
		t.Fatal("not closed after deadline")
	}
	if activate.Due(active, day("2026-10-19")) {
		t.Fatal("transition applied to wrong source status")
	}

	closed := newCohort("2025-10-01", StatusClosed)
	if complete.Due(closed, day("2026-09-30")) {
		t.Fatal("completed on end day")
	}
	if !complete.Due(closed, day("2026-10-01")) {
		t.Fatal("not completed after end")
	}
}

func TestTransitionOperator(t *testing.T) {
	t.Parallel()
	want := map[string]string{
		"upcoming->active":  "<=",
		"active->closed":    "<",
		"closed->completed": "<",
	}
	for _, tr := range Transitions {
		if got := tr.Operator(); got != want[tr.String()] {
			t.Errorf("%s operator = %q, want %q", tr, got, want[tr.String()])
		}
	}
	if _, ok := (Transition{Field: "other"}).Date(newCohort("2026-10-01", StatusActive)); ok {
		t.Fatal("unknown field resolved to a date")
	}
}

func TestRegistrationOpenAndDayOffset(t *testing.T) {
	t.Parallel()
	c := newCohort("2026-10-01", StatusActive)
	today := time.Date(2026, 10, 18, 22, 0, 0, 0, time.UTC)
	if !c.RegistrationOpen(today) {
		t.Fatal("registration should be open on deadline day")
	}
	if c.RegistrationOpen(today.AddDate(0, 0, 1)) {
		t.Fatal("registration should be closed after deadline")
	}
	if got := c.DayOffset(today); got != 17 {
		t.Fatalf("DayOffset = %d, want 17", got)
	}
	c.Status = StatusClosed
	if c.RegistrationOpen(today) {
		t.Fatal("closed cohort must not accept registrations")
	}
}
