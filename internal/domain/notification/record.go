// internal/domain/notification/record.go
package notification

import (
	"fmt"
	"time"

	"reading_group_scheduler/internal/domain/dateanchor"
)

// Kind identifies a notification type. It is part of the idempotency key.
type Kind string

const (
	KindWelcome            Kind = "welcome"
	KindInvitationReminder Kind = "invitation-reminder"
)

// ReminderDays are the day offsets from a cohort start on which invitation reminders go out.
var ReminderDays = []int{3, 7, 11, 15}

// IsReminderDay reports whether offset is one of ReminderDays.
func IsReminderDay(offset int) bool {
	for _, d := range ReminderDays {
		if d == offset {
			return true
		}
	}
	return false
}

// Key is the structured dedupe key of a notification: at most one record exists per key.
type Key struct {
	CohortID  int64
	Kind      Kind
	DayBucket time.Time // UTC midnight of the day the notification went out
}

// NewKey builds a key, truncating day to its calendar day.
func NewKey(cohortID int64, kind Kind, day time.Time) Key {
	return Key{CohortID: cohortID, Kind: kind, DayBucket: dateanchor.Day(day)}
}

func (k Key) String() string {
	return fmt.Sprintf("%d/%s/%s", k.CohortID, k.Kind, dateanchor.Format(k.DayBucket))
}

// Record is one logged notification.
// Corresponds to the 'notification_log' table.
type Record struct {
	Key
	RecipientCount int
	CreatedAt      time.Time
}
