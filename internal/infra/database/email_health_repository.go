package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"reading_group_scheduler/internal/domain/mail"
)

// SQLEmailHealth implements mail.Health. An address is skipped after a permanent failure or
// after skipAfter consecutive transient failures; any success resets it.
type SQLEmailHealth struct {
	db        *DB
	skipAfter int
	clock     func() time.Time
}

func NewSQLEmailHealth(db *DB, skipAfter int) *SQLEmailHealth {
	if skipAfter <= 0 {
		skipAfter = 3
	}
	return &SQLEmailHealth{db: db, skipAfter: skipAfter, clock: time.Now}
}

func (r *SQLEmailHealth) ShouldSkip(ctx context.Context, email string) (bool, error) {
	var failures int
	var permanent bool
	query := r.db.rebind(`SELECT consecutive_failures, permanent FROM email_health WHERE email = ?`)
	err := r.db.QueryRowContext(ctx, query, email).Scan(&failures, &permanent)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("error reading email health: %w", err)
	}
	return permanent || failures >= r.skipAfter, nil
}

func (r *SQLEmailHealth) RecordOutcome(ctx context.Context, email string, sendErr error) error {
	now := formatTimestamp(r.clock())
	if sendErr == nil {
		query := r.db.rebind(`UPDATE email_health SET consecutive_failures = 0, permanent = ?, last_error = '', updated_at = ?
               WHERE email = ?`)
		if _, err := r.db.ExecContext(ctx, query, false, now, email); err != nil {
			return fmt.Errorf("error resetting email health: %w", err)
		}
		return nil
	}

	query := r.db.rebind(`INSERT INTO email_health (email, consecutive_failures, permanent, last_error, updated_at)
               VALUES (?, 1, ?, ?, ?)
               ON CONFLICT (email) DO UPDATE SET
                   consecutive_failures = email_health.consecutive_failures + 1,
                   permanent = (email_health.permanent OR excluded.permanent),
                   last_error = excluded.last_error,
                   updated_at = excluded.updated_at`)
	if _, err := r.db.ExecContext(ctx, query, email, mail.IsPermanent(sendErr), truncate(sendErr.Error(), 500), now); err != nil {
		return fmt.Errorf("error recording email failure: %w", err)
	}
	return nil
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
