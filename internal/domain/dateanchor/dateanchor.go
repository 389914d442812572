// Package dateanchor turns loosely formatted dates into the canonical calendar days cohorts
// are scheduled on. All arithmetic happens on UTC midnights so that no local timezone or DST
// shift can move a date by one day.
package dateanchor

import (
	"errors"
	"strings"
	"time"
)

// ISOLayout is the canonical text form of a calendar day.
const ISOLayout = "2006-01-02"

// LegacyCutoffYear is the last year whose cohorts keep their raw start date.
const LegacyCutoffYear = 2023

// RegistrationWindowDays is the number of days after start during which members may join.
const RegistrationWindowDays = 17

// ErrUnparseable is returned by Resolve when the input matches no accepted layout.
var ErrUnparseable = errors.New("unparseable date")

// Accepted input layouts, tried in order. Month and day accept one or two digits.
var layouts = []string{
	"2006-1-2",
	"1/2/2006",
	"1-2-2006",
	"1.2.2006",
}

// Kind tags how a cohort start date was derived.
type Kind int

const (
	// KindAnchored start dates sit on a quarter anchor.
	KindAnchored Kind = iota
	// KindLegacy start dates predate quarter alignment and are kept verbatim.
	KindLegacy
)

func (k Kind) String() string {
	if k == KindLegacy {
		return "legacy"
	}
	return "anchored"
}

// StartDate is a resolved cohort start date together with how it was derived.
type StartDate struct {
	Date time.Time
	Kind Kind
}

// IsLegacy reports whether the start date was kept verbatim.
func (s StartDate) IsLegacy() bool { return s.Kind == KindLegacy }

// String renders the date in ISO form.
func (s StartDate) String() string { return Format(s.Date) }

// Parse reads raw in any accepted layout and returns the UTC midnight of that day.
func Parse(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	// Timestamps such as 2026-01-01T00:00:00Z are reduced to their date part.
	if len(raw) > 10 && (raw[10] == 'T' || raw[10] == ' ') {
		raw = raw[:10]
	}
	for _, layout := range layouts {
		t, err := time.ParseInLocation(layout, raw, time.UTC)
		if err == nil {
			return Day(t), true
		}
	}
	return time.Time{}, false
}

// Normalize returns raw as an ISO calendar date. Input that cannot be parsed is returned
// unchanged; callers validate before relying on the result.
func Normalize(raw string) string {
	t, ok := Parse(raw)
	if !ok {
		return raw
	}
	return Format(t)
}

// IsLegacy reports whether the normalized year of raw is at or before LegacyCutoffYear.
func IsLegacy(raw string) bool {
	t, ok := Parse(raw)
	if !ok {
		return false
	}
	return t.Year() <= LegacyCutoffYear
}

// AlignToQuarterStart maps raw to the first day of its quarter (Jan, Apr, Jul or Oct).
// Unparseable input is returned unchanged.
func AlignToQuarterStart(raw string) string {
	t, ok := Parse(raw)
	if !ok {
		return raw
	}
	return Format(QuarterStart(t))
}

// QuarterStart returns day 1 of the quarter month containing t.
func QuarterStart(t time.Time) time.Time {
	idx := int(t.Month()) - 1
	month := time.Month(idx/3*3 + 1)
	return time.Date(t.Year(), month, 1, 0, 0, 0, 0, time.UTC)
}

// DeriveEndAndDeadline computes the cohort end (start + 1 year - 1 day) and registration
// deadline (start + 17 days).
func DeriveEndAndDeadline(start time.Time) (end time.Time, deadline time.Time) {
	start = Day(start)
	end = start.AddDate(1, 0, -1)
	deadline = start.AddDate(0, 0, RegistrationWindowDays)
	return end, deadline
}

// Resolve parses raw once and decides whether it is a legacy date or must be aligned.
func Resolve(raw string) (StartDate, error) {
	t, ok := Parse(raw)
	if !ok {
		return StartDate{}, ErrUnparseable
	}
	return FromDate(t), nil
}

// FromDate classifies an already parsed date, aligning it unless it is legacy.
func FromDate(t time.Time) StartDate {
	t = Day(t)
	if t.Year() <= LegacyCutoffYear {
		return StartDate{Date: t, Kind: KindLegacy}
	}
	return StartDate{Date: QuarterStart(t), Kind: KindAnchored}
}

// Day truncates t to midnight UTC of its UTC calendar day.
func Day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Format renders t as YYYY-MM-DD.
func Format(t time.Time) string {
	return t.UTC().Format(ISOLayout)
}

// DaysBetween returns the whole number of calendar days from a to b.
func DaysBetween(a, b time.Time) int {
	return int(Day(b).Sub(Day(a)).Hours() / 24)
}

// AddMonths moves t forward by n calendar months, keeping day 1 anchors on day 1.
func AddMonths(t time.Time, n int) time.Time {
	return Day(t).AddDate(0, n, 0)
}
