package database

import (
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"reading_group_scheduler/internal/domain/dateanchor"
)

// Custom errors
var ErrCohortNotFound = fmt.Errorf("cohort not found")
var ErrMemberNotFound = fmt.Errorf("member not found")
var ErrMembershipNotFound = fmt.Errorf("active membership not found")
var ErrDuplicateStartDate = fmt.Errorf("a cohort with this start date already exists")
var ErrDuplicateMember = fmt.Errorf("member with this email or Telegram ID already exists")

const pgUniqueViolation = "23505"

// isUniqueViolation recognizes unique constraint errors from all three drivers.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == pgUniqueViolation
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		}
	}
	return false
}

const timestampLayout = time.RFC3339Nano

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

func parseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(timestampLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid stored timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

func parseDay(s string) (time.Time, error) {
	t, err := time.ParseInLocation(dateanchor.ISOLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid stored date %q: %w", s, err)
	}
	return t, nil
}
