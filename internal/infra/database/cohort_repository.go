package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"reading_group_scheduler/internal/domain/cohort"
	"reading_group_scheduler/internal/domain/dateanchor"
)

type SQLCohortRepository struct {
	db *DB
}

func NewSQLCohortRepository(db *DB) *SQLCohortRepository {
	return &SQLCohortRepository{db: db}
}

const cohortColumns = `id, name, start_date, end_date, registration_deadline, capacity, status, sort_rank, legacy, created_at, updated_at`

// transitionColumns whitelists the date columns a transition may compare against.
var transitionColumns = map[cohort.DateField]string{
	cohort.FieldStartDate:            "start_date",
	cohort.FieldRegistrationDeadline: "registration_deadline",
	cohort.FieldEndDate:              "end_date",
}

func (r *SQLCohortRepository) InsertCohort(ctx context.Context, c *cohort.Cohort) error {
	query := r.db.rebind(`INSERT INTO cohorts (name, start_date, end_date, registration_deadline, capacity, status, sort_rank, legacy, created_at, updated_at)
               VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
               RETURNING id`)
	err := r.db.QueryRowContext(ctx, query,
		c.Name, dateanchor.Format(c.StartDate), dateanchor.Format(c.EndDate), dateanchor.Format(c.RegistrationDeadline),
		c.Capacity, string(c.Status), nullRank(c.SortRank), c.Legacy,
		formatTimestamp(c.CreatedAt), formatTimestamp(c.UpdatedAt),
	).Scan(&c.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateStartDate
		}
		return fmt.Errorf("error creating cohort: %w", err)
	}
	return nil
}

func (r *SQLCohortRepository) GetCohort(ctx context.Context, id int64) (*cohort.Cohort, error) {
	query := r.db.rebind(`SELECT ` + cohortColumns + ` FROM cohorts WHERE id = ?`)
	c, err := scanCohort(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCohortNotFound
		}
		return nil, fmt.Errorf("error getting cohort by ID: %w", err)
	}
	return c, nil
}

func (r *SQLCohortRepository) ListCohorts(ctx context.Context, filter cohort.Filter, order cohort.Order) ([]*cohort.Cohort, error) {
	var (
		where []string
		args  []any
	)
	if len(filter.Statuses) > 0 {
		marks := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			marks[i] = "?"
			args = append(args, string(st))
		}
		where = append(where, "status IN ("+strings.Join(marks, ", ")+")")
	}
	if filter.StartOnOrBefore != nil {
		where = append(where, "start_date <= ?")
		args = append(args, dateanchor.Format(*filter.StartOnOrBefore))
	}
	if filter.DeadlineOnOrAfter != nil {
		where = append(where, "registration_deadline >= ?")
		args = append(args, dateanchor.Format(*filter.DeadlineOnOrAfter))
	}

	query := `SELECT ` + cohortColumns + ` FROM cohorts`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	switch order {
	case cohort.OrderStartDesc:
		query += " ORDER BY start_date DESC"
	case cohort.OrderManualRank:
		query += " ORDER BY sort_rank IS NULL, sort_rank, start_date"
	default:
		query += " ORDER BY start_date"
	}
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := r.db.QueryContext(ctx, r.db.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("error listing cohorts: %w", err)
	}
	defer rows.Close()

	cohorts := make([]*cohort.Cohort, 0)
	for rows.Next() {
		c, err := scanCohort(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning cohort row: %w", err)
		}
		cohorts = append(cohorts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating cohort rows: %w", err)
	}
	return cohorts, nil
}

func (r *SQLCohortRepository) LatestCohort(ctx context.Context) (*cohort.Cohort, error) {
	list, err := r.ListCohorts(ctx, cohort.Filter{Limit: 1}, cohort.OrderStartDesc)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

func (r *SQLCohortRepository) UpdateCohort(ctx context.Context, c *cohort.Cohort) error {
	query := r.db.rebind(`UPDATE cohorts
               SET name = ?, start_date = ?, end_date = ?, registration_deadline = ?, capacity = ?,
                   status = ?, sort_rank = ?, legacy = ?, updated_at = ?
               WHERE id = ?`)
	res, err := r.db.ExecContext(ctx, query,
		c.Name, dateanchor.Format(c.StartDate), dateanchor.Format(c.EndDate), dateanchor.Format(c.RegistrationDeadline),
		c.Capacity, string(c.Status), nullRank(c.SortRank), c.Legacy, formatTimestamp(c.UpdatedAt), c.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateStartDate
		}
		return fmt.Errorf("error updating cohort: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("error reading updated cohort rows: %w", err)
	}
	if n == 0 {
		return ErrCohortNotFound
	}
	return nil
}

func (r *SQLCohortRepository) ApplyTransition(ctx context.Context, t cohort.Transition, today, now time.Time) (int64, error) {
	column, ok := transitionColumns[t.Field]
	if !ok {
		return 0, fmt.Errorf("unknown transition field %q", t.Field)
	}
	query := r.db.rebind(`UPDATE cohorts SET status = ?, updated_at = ? WHERE status = ? AND ` + column + ` ` + t.Operator() + ` ?`)
	res, err := r.db.ExecContext(ctx, query, string(t.To), formatTimestamp(now), string(t.From), dateanchor.Format(today))
	if err != nil {
		return 0, fmt.Errorf("error applying transition %s: %w", t, err)
	}
	return res.RowsAffected()
}

func (r *SQLCohortRepository) InsertMembership(ctx context.Context, m *cohort.Membership) error {
	return insertMembership(ctx, r.db, r.db.rebind, m)
}

func insertMembership(ctx context.Context, q querier, rebind func(string) string, m *cohort.Membership) error {
	if m.Status == "" {
		m.Status = cohort.MembershipActive
	}
	var completed sql.NullString
	if m.CompletedAt != nil {
		completed = sql.NullString{String: formatTimestamp(*m.CompletedAt), Valid: true}
	}
	query := rebind(`INSERT INTO memberships (cohort_id, member_id, joined_on, status, completed_at)
               VALUES (?, ?, ?, ?, ?)
               RETURNING id`)
	err := q.QueryRowContext(ctx, query, m.CohortID, m.MemberID, dateanchor.Format(m.JoinedOn), string(m.Status), completed).Scan(&m.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("member %d already active in cohort %d: %w", m.MemberID, m.CohortID, err)
		}
		return fmt.Errorf("error creating membership: %w", err)
	}
	return nil
}

func (r *SQLCohortRepository) CountActiveMembers(ctx context.Context, cohortID int64) (int, error) {
	return countActive(ctx, r.db, r.db.rebind, cohortID)
}

func countActive(ctx context.Context, q querier, rebind func(string) string, cohortID int64) (int, error) {
	var n int
	query := rebind(`SELECT COUNT(*) FROM memberships WHERE cohort_id = ? AND status = 'active'`)
	if err := q.QueryRowContext(ctx, query, cohortID).Scan(&n); err != nil {
		return 0, fmt.Errorf("error counting active members: %w", err)
	}
	return n, nil
}

func (r *SQLCohortRepository) GetActiveMembership(ctx context.Context, cohortID, memberID int64) (*cohort.Membership, error) {
	query := r.db.rebind(`SELECT id, cohort_id, member_id, joined_on, status, completed_at
               FROM memberships WHERE cohort_id = ? AND member_id = ? AND status = 'active'`)
	var (
		m         cohort.Membership
		joinedOn  string
		status    string
		completed sql.NullString
	)
	err := r.db.QueryRowContext(ctx, query, cohortID, memberID).Scan(&m.ID, &m.CohortID, &m.MemberID, &joinedOn, &status, &completed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMembershipNotFound
		}
		return nil, fmt.Errorf("error getting membership: %w", err)
	}
	if m.JoinedOn, err = parseDay(joinedOn); err != nil {
		return nil, err
	}
	m.Status = cohort.MembershipStatus(status)
	if completed.Valid {
		ts, err := parseTimestamp(completed.String)
		if err != nil {
			return nil, err
		}
		m.CompletedAt = &ts
	}
	return &m, nil
}

// ReserveSeat runs the duplicate check, the capacity check and the insert in one transaction.
// On postgres the cohort row is locked so concurrent reservations for the same cohort queue up;
// SQLite serializes writers on its single connection.
func (r *SQLCohortRepository) ReserveSeat(ctx context.Context, cohortID, memberID int64, joinedOn time.Time) (cohort.SeatOutcome, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin seat reservation: %w", err)
	}
	defer tx.Rollback() // Rollback if not committed

	lock := ""
	if r.db.dialect.isPostgres() {
		lock = " FOR UPDATE"
	}
	var capacity int
	err = tx.QueryRowContext(ctx, r.db.rebind(`SELECT capacity FROM cohorts WHERE id = ?`+lock), cohortID).Scan(&capacity)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrCohortNotFound
		}
		return "", fmt.Errorf("error locking cohort %d: %w", cohortID, err)
	}

	var existing int
	err = tx.QueryRowContext(ctx, r.db.rebind(`SELECT COUNT(*) FROM memberships WHERE cohort_id = ? AND member_id = ? AND status = 'active'`),
		cohortID, memberID).Scan(&existing)
	if err != nil {
		return "", fmt.Errorf("error checking existing membership: %w", err)
	}
	if existing > 0 {
		return cohort.SeatAlreadyMember, nil
	}

	count, err := countActive(ctx, tx, r.db.rebind, cohortID)
	if err != nil {
		return "", err
	}
	if count >= capacity {
		return cohort.SeatFull, nil
	}

	m := &cohort.Membership{CohortID: cohortID, MemberID: memberID, JoinedOn: joinedOn, Status: cohort.MembershipActive}
	if err := insertMembership(ctx, tx, r.db.rebind, m); err != nil {
		if isUniqueViolation(err) {
			return cohort.SeatAlreadyMember, nil
		}
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit seat reservation: %w", err)
	}
	return cohort.SeatReserved, nil
}

func (r *SQLCohortRepository) DeactivateMembership(ctx context.Context, cohortID, memberID int64) error {
	query := r.db.rebind(`UPDATE memberships SET status = 'inactive' WHERE cohort_id = ? AND member_id = ? AND status = 'active'`)
	res, err := r.db.ExecContext(ctx, query, cohortID, memberID)
	if err != nil {
		return fmt.Errorf("error deactivating membership: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("error reading deactivated membership rows: %w", err)
	}
	if n == 0 {
		return ErrMembershipNotFound
	}
	return nil
}

func (r *SQLCohortRepository) ListActiveMembers(ctx context.Context, cohortID int64) ([]*cohort.Member, error) {
	query := r.db.rebind(`SELECT ` + memberColumns + `
               FROM memberships ms
               JOIN members m ON m.id = ms.member_id
               WHERE ms.cohort_id = ? AND ms.status = 'active'
               ORDER BY m.id`)
	rows, err := r.db.QueryContext(ctx, query, cohortID)
	if err != nil {
		return nil, fmt.Errorf("error listing active members: %w", err)
	}
	defer rows.Close()
	return scanMembers(rows)
}

func (r *SQLCohortRepository) ListFirstTimers(ctx context.Context, cohortID int64) ([]*cohort.Member, error) {
	query := r.db.rebind(`SELECT ` + memberColumns + `
               FROM memberships ms
               JOIN members m ON m.id = ms.member_id
               JOIN cohorts c ON c.id = ms.cohort_id
               WHERE ms.cohort_id = ? AND ms.status = 'active'
                 AND NOT EXISTS (
                     SELECT 1 FROM memberships prev
                     JOIN cohorts pc ON pc.id = prev.cohort_id
                     WHERE prev.member_id = ms.member_id AND pc.start_date < c.start_date
                 )
               ORDER BY m.id`)
	rows, err := r.db.QueryContext(ctx, query, cohortID)
	if err != nil {
		return nil, fmt.Errorf("error listing first-time members: %w", err)
	}
	defer rows.Close()
	return scanMembers(rows)
}

func nullRank(rank *int) sql.NullInt64 {
	if rank == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*rank), Valid: true}
}

func scanCohort(row rowScanner) (*cohort.Cohort, error) {
	var c cohort.Cohort
	var start, end, deadline, status, createdAt, updatedAt string
	var rank sql.NullInt64
	if err := row.Scan(&c.ID, &c.Name, &start, &end, &deadline, &c.Capacity, &status, &rank, &c.Legacy, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	var err error
	if c.StartDate, err = parseDay(start); err != nil {
		return nil, err
	}
	if c.EndDate, err = parseDay(end); err != nil {
		return nil, err
	}
	if c.RegistrationDeadline, err = parseDay(deadline); err != nil {
		return nil, err
	}
	if c.CreatedAt, err = parseTimestamp(createdAt); err != nil {
		return nil, err
	}
	if c.UpdatedAt, err = parseTimestamp(updatedAt); err != nil {
		return nil, err
	}
	c.Status = cohort.Status(status)
	if rank.Valid {
		v := int(rank.Int64)
		c.SortRank = &v
	}
	return &c, nil
}
