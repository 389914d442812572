// internal/infra/database/message_log_repository.go
package database

import (
	"context"
	"fmt"
	"time"

	"reading_group_scheduler/internal/domain/dateanchor"
	"reading_group_scheduler/internal/domain/notification"
)

// SQLMessageLog stores notification records keyed by (cohort, kind, day bucket).
type SQLMessageLog struct {
	db *DB
}

func NewSQLMessageLog(db *DB) *SQLMessageLog {
	return &SQLMessageLog{db: db}
}

func (r *SQLMessageLog) exists(ctx context.Context, query string, args ...any) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx, r.db.rebind(`SELECT COUNT(*) FROM (`+query+` LIMIT 1) AS hit`), args...).Scan(&one)
	if err != nil {
		return false, err
	}
	return one > 0, nil
}

func (r *SQLMessageLog) HasRecord(ctx context.Context, key notification.Key) (bool, error) {
	ok, err := r.exists(ctx, `SELECT 1 FROM notification_log WHERE cohort_id = ? AND kind = ? AND day_bucket = ?`,
		key.CohortID, string(key.Kind), dateanchor.Format(key.DayBucket))
	if err != nil {
		return false, fmt.Errorf("error checking notification record %s: %w", key, err)
	}
	return ok, nil
}

func (r *SQLMessageLog) HasKindOnDay(ctx context.Context, kind notification.Kind, day time.Time) (bool, error) {
	ok, err := r.exists(ctx, `SELECT 1 FROM notification_log WHERE kind = ? AND day_bucket = ?`,
		string(kind), dateanchor.Format(day))
	if err != nil {
		return false, fmt.Errorf("error checking %s records for %s: %w", kind, dateanchor.Format(day), err)
	}
	return ok, nil
}

func (r *SQLMessageLog) HasCohortKind(ctx context.Context, cohortID int64, kind notification.Kind) (bool, error) {
	ok, err := r.exists(ctx, `SELECT 1 FROM notification_log WHERE cohort_id = ? AND kind = ?`, cohortID, string(kind))
	if err != nil {
		return false, fmt.Errorf("error checking %s records for cohort %d: %w", kind, cohortID, err)
	}
	return ok, nil
}

func (r *SQLMessageLog) WriteRecord(ctx context.Context, rec *notification.Record) (bool, error) {
	query := r.db.rebind(`INSERT INTO notification_log (cohort_id, kind, day_bucket, recipient_count, created_at)
               VALUES (?, ?, ?, ?, ?)
               ON CONFLICT (cohort_id, kind, day_bucket) DO NOTHING`)
	res, err := r.db.ExecContext(ctx, query,
		rec.CohortID, string(rec.Kind), dateanchor.Format(rec.DayBucket), rec.RecipientCount, formatTimestamp(rec.CreatedAt))
	if err != nil {
		return false, fmt.Errorf("error writing notification record %s: %w", rec.Key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("error reading notification record rows: %w", err)
	}
	return n > 0, nil
}

// ListRecords returns the records of a cohort, newest day first.
func (r *SQLMessageLog) ListRecords(ctx context.Context, cohortID int64) ([]*notification.Record, error) {
	query := r.db.rebind(`SELECT cohort_id, kind, day_bucket, recipient_count, created_at
               FROM notification_log WHERE cohort_id = ? ORDER BY day_bucket DESC, kind`)
	rows, err := r.db.QueryContext(ctx, query, cohortID)
	if err != nil {
		return nil, fmt.Errorf("error listing notification records: %w", err)
	}
	defer rows.Close()

	records := make([]*notification.Record, 0)
	for rows.Next() {
		var (
			rec       notification.Record
			kind      string
			bucket    string
			createdAt string
		)
		if err := rows.Scan(&rec.CohortID, &kind, &bucket, &rec.RecipientCount, &createdAt); err != nil {
			return nil, fmt.Errorf("error scanning notification record: %w", err)
		}
		rec.Kind = notification.Kind(kind)
		if rec.DayBucket, err = parseDay(bucket); err != nil {
			return nil, err
		}
		if rec.CreatedAt, err = parseTimestamp(createdAt); err != nil {
			return nil, err
		}
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating notification records: %w", err)
	}
	return records, nil
}
