package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"reading_group_scheduler/internal/domain/cohort"
)

type SQLMemberRepository struct {
	db *DB
}

func NewSQLMemberRepository(db *DB) *SQLMemberRepository {
	return &SQLMemberRepository{db: db}
}

const memberColumns = `m.id, m.email, m.display_name, m.telegram_id, m.role, m.created_at`

func (r *SQLMemberRepository) CreateMember(ctx context.Context, m *cohort.Member) error {
	query := r.db.rebind(`INSERT INTO members (email, display_name, telegram_id, role, created_at)
               VALUES (?, ?, ?, ?, ?)
               RETURNING id`)

	var tg sql.NullInt64
	if m.TelegramID != nil {
		tg = sql.NullInt64{Int64: *m.TelegramID, Valid: true}
	}
	if m.Role == "" {
		m.Role = cohort.RoleMember
	}
	err := r.db.QueryRowContext(ctx, query, m.Email, m.DisplayName, tg, string(m.Role), formatTimestamp(m.CreatedAt)).Scan(&m.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateMember
		}
		return fmt.Errorf("error creating member: %w", err)
	}
	return nil
}

func (r *SQLMemberRepository) GetMemberByID(ctx context.Context, id int64) (*cohort.Member, error) {
	query := r.db.rebind(`SELECT ` + memberColumns + ` FROM members m WHERE m.id = ?`)
	m, err := scanMember(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMemberNotFound
		}
		return nil, fmt.Errorf("error getting member by ID: %w", err)
	}
	return m, nil
}

func (r *SQLMemberRepository) GetMemberByTelegramID(ctx context.Context, telegramID int64) (*cohort.Member, error) {
	query := r.db.rebind(`SELECT ` + memberColumns + ` FROM members m WHERE m.telegram_id = ?`)
	m, err := scanMember(r.db.QueryRowContext(ctx, query, telegramID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMemberNotFound
		}
		return nil, fmt.Errorf("error getting member by Telegram ID: %w", err)
	}
	return m, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMember(row rowScanner) (*cohort.Member, error) {
	var (
		m         cohort.Member
		tg        sql.NullInt64
		role      string
		createdAt string
	)
	if err := row.Scan(&m.ID, &m.Email, &m.DisplayName, &tg, &role, &createdAt); err != nil {
		return nil, err
	}
	if tg.Valid {
		v := tg.Int64
		m.TelegramID = &v
	}
	m.Role = cohort.Role(role)
	ts, err := parseTimestamp(createdAt)
	if err != nil {
		return nil, err
	}
	m.CreatedAt = ts
	return &m, nil
}

func scanMembers(rows *sql.Rows) ([]*cohort.Member, error) {
	members := make([]*cohort.Member, 0)
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning member row: %w", err)
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating member rows: %w", err)
	}
	return members, nil
}
