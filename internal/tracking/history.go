package tracking

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Presence kinds stored in the history.
const (
	KindEnter = "enter"
	KindExit  = "exit"
)

// History query limits.
const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 200
)

// Presence is one recorded arrival or departure.
type Presence struct {
	ID         int64     `json:"id"`
	User       string    `json:"user"`
	MAC        string    `json:"mac,omitempty"`
	Kind       string    `json:"kind"`
	Occupancy  int       `json:"occupancy"`
	OccurredAt time.Time `json:"occurred_at"`
}

// History stores presence changes.
type History interface {
	// Record appends a presence change.
	Record(ctx context.Context, p Presence) error

	// Recent returns the newest changes first. An empty user matches all
	// users.
	Recent(ctx context.Context, user string, limit int) ([]Presence, error)
}

// SQLiteHistory implements History on the presence_events table.
type SQLiteHistory struct {
	db *sql.DB
}

// NewSQLiteHistory creates a history store on an open database.
func NewSQLiteHistory(db *sql.DB) *SQLiteHistory {
	return &SQLiteHistory{db: db}
}

// Record implements History.
func (h *SQLiteHistory) Record(ctx context.Context, p Presence) error {
	res, err := h.db.ExecContext(ctx,
		`INSERT INTO presence_events (user_name, mac, kind, occupancy, occurred_at)
		 VALUES (?, ?, ?, ?, ?)`,
		p.User, p.MAC, p.Kind, p.Occupancy, p.OccurredAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("recording presence: %w", err)
	}
	if _, err := res.LastInsertId(); err != nil {
		return fmt.Errorf("recording presence: %w", err)
	}
	return nil
}

// Recent implements History. limit is clamped to [1, MaxHistoryLimit];
// zero or negative means DefaultHistoryLimit.
func (h *SQLiteHistory) Recent(ctx context.Context, user string, limit int) ([]Presence, error) {
	limit = clampLimit(limit)

	query := `SELECT id, user_name, mac, kind, occupancy, occurred_at
		FROM presence_events`
	args := []any{}
	if user != "" {
		query += " WHERE user_name = ?"
		args = append(args, user)
	}
	query += " ORDER BY occurred_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := h.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying presence history: %w", err)
	}
	defer rows.Close()

	var out []Presence
	for rows.Next() {
		var p Presence
		var nanos int64
		if err := rows.Scan(&p.ID, &p.User, &p.MAC, &p.Kind, &p.Occupancy, &nanos); err != nil {
			return nil, fmt.Errorf("scanning presence: %w", err)
		}
		p.OccurredAt = time.Unix(0, nanos).UTC()
		out = append(out, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating presence history: %w", err)
	}
	return out, nil
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultHistoryLimit
	case limit > MaxHistoryLimit:
		return MaxHistoryLimit
	default:
		return limit
	}
}
