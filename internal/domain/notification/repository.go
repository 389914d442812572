// internal/domain/notification/repository.go
package notification

import (
	"context"
	"time"
)

// MessageLog stores the idempotency records of the notification pipeline.
type MessageLog interface {
	// HasRecord reports whether a record exists for the exact key.
	HasRecord(ctx context.Context, key Key) (bool, error)
	// HasKindOnDay reports whether any cohort has a record of this kind for the day.
	HasKindOnDay(ctx context.Context, kind Kind, day time.Time) (bool, error)
	// HasCohortKind reports whether the cohort ever had a record of this kind.
	HasCohortKind(ctx context.Context, cohortID int64, kind Kind) (bool, error)
	// WriteRecord stores rec. It returns false when a record with the same key already exists.
	WriteRecord(ctx context.Context, rec *Record) (bool, error)
}

// Announcer publishes a group-visible post.
type Announcer interface {
	Post(ctx context.Context, a *Announcement) error
}
