package notification

import "time"

// Announcement is a group-visible post in a cohort.
// Corresponds to the 'announcements' table.
type Announcement struct {
	ID        int64
	CohortID  int64
	AuthorID  int64 // the configured system actor for scheduler posts
	Kind      Kind
	Title     string
	Body      string
	CreatedAt time.Time
}
