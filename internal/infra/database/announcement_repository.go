package database

import (
	"context"
	"fmt"

	"reading_group_scheduler/internal/domain/notification"
)

// SQLAnnouncementRepository stores group-visible posts. It is the primary notification.Announcer.
type SQLAnnouncementRepository struct {
	db *DB
}

func NewSQLAnnouncementRepository(db *DB) *SQLAnnouncementRepository {
	return &SQLAnnouncementRepository{db: db}
}

func (r *SQLAnnouncementRepository) Post(ctx context.Context, a *notification.Announcement) error {
	query := r.db.rebind(`INSERT INTO announcements (cohort_id, author_id, kind, title, body, created_at)
               VALUES (?, ?, ?, ?, ?, ?)
               RETURNING id`)
	err := r.db.QueryRowContext(ctx, query, a.CohortID, a.AuthorID, string(a.Kind), a.Title, a.Body, formatTimestamp(a.CreatedAt)).Scan(&a.ID)
	if err != nil {
		return fmt.Errorf("error creating announcement: %w", err)
	}
	return nil
}

// ListAnnouncements returns the posts of a cohort in publication order.
func (r *SQLAnnouncementRepository) ListAnnouncements(ctx context.Context, cohortID int64) ([]*notification.Announcement, error) {
	query := r.db.rebind(`SELECT id, cohort_id, author_id, kind, title, body, created_at
               FROM announcements WHERE cohort_id = ? ORDER BY id`)
	rows, err := r.db.QueryContext(ctx, query, cohortID)
	if err != nil {
		return nil, fmt.Errorf("error listing announcements: %w", err)
	}
	defer rows.Close()

	out := make([]*notification.Announcement, 0)
	for rows.Next() {
		var a notification.Announcement
		var kind, createdAt string
		if err := rows.Scan(&a.ID, &a.CohortID, &a.AuthorID, &kind, &a.Title, &a.Body, &createdAt); err != nil {
			return nil, fmt.Errorf("error scanning announcement: %w", err)
		}
		a.Kind = notification.Kind(kind)
		if a.CreatedAt, err = parseTimestamp(createdAt); err != nil {
			return nil, err
		}
		out = append(out, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating announcements: %w", err)
	}
	return out, nil
}
