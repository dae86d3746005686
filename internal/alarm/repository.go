package alarm

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Repository persists alarms.
type Repository interface {
	List(ctx context.Context) ([]Alarm, error)
	Get(ctx context.Context, id string) (Alarm, error)
	Create(ctx context.Context, a Alarm) error
	Delete(ctx context.Context, id string) error
	MarkFired(ctx context.Context, id string, at time.Time) error
}

// SQLiteRepository implements Repository on the alarms table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates an alarm repository on an open database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const alarmColumns = "id, label, spec, once, enabled, created_at, last_fired"

// timeFormat is fixed width so that stored timestamps sort as text.
const timeFormat = "2006-01-02T15:04:05.000000000Z"

// List implements Repository, oldest first.
func (r *SQLiteRepository) List(ctx context.Context) ([]Alarm, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+alarmColumns+" FROM alarms ORDER BY created_at, id")
	if err != nil {
		return nil, fmt.Errorf("querying alarms: %w", err)
	}
	defer rows.Close()

	var out []Alarm
	for rows.Next() {
		a, err := scanAlarm(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating alarms: %w", err)
	}
	return out, nil
}

// Get implements Repository.
func (r *SQLiteRepository) Get(ctx context.Context, id string) (Alarm, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+alarmColumns+" FROM alarms WHERE id = ?", id)
	a, err := scanAlarm(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Alarm{}, ErrNotFound
	}
	return a, err
}

// Create implements Repository.
func (r *SQLiteRepository) Create(ctx context.Context, a Alarm) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO alarms (id, label, spec, once, enabled, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.Label, a.Spec, boolToInt(a.Once), boolToInt(a.Enabled),
		a.CreatedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("inserting alarm: %w", err)
	}
	return nil
}

// Delete implements Repository.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM alarms WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting alarm: %w", err)
	}
	return requireRow(res)
}

// MarkFired implements Repository.
func (r *SQLiteRepository) MarkFired(ctx context.Context, id string, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		"UPDATE alarms SET last_fired = ? WHERE id = ?",
		at.UTC().Format(timeFormat), id)
	if err != nil {
		return fmt.Errorf("updating alarm: %w", err)
	}
	return requireRow(res)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAlarm(s scanner) (Alarm, error) {
	var (
		a         Alarm
		once      int
		enabled   int
		createdAt string
		lastFired sql.NullString
	)
	if err := s.Scan(&a.ID, &a.Label, &a.Spec, &once, &enabled, &createdAt, &lastFired); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Alarm{}, err
		}
		return Alarm{}, fmt.Errorf("scanning alarm: %w", err)
	}
	a.Once = once != 0
	a.Enabled = enabled != 0

	var err error
	if a.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return Alarm{}, fmt.Errorf("parsing created_at of %s: %w", a.ID, err)
	}
	if lastFired.Valid {
		t, err := time.Parse(time.RFC3339Nano, lastFired.String)
		if err != nil {
			return Alarm{}, fmt.Errorf("parsing last_fired of %s: %w", a.ID, err)
		}
		a.LastFired = &t
	}
	return a, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
