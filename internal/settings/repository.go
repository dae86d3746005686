package settings

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"time"
)

// Repository persists settings values per module.
type Repository interface {
	// Load returns the stored values of a module keyed by item, as raw JSON.
	Load(ctx context.Context, module string) (map[string]json.RawMessage, error)

	// Save upserts the given values of a module.
	Save(ctx context.Context, module string, values map[string]any) error

	// SaveAll upserts values of several modules, keyed by module then item.
	// Either every value is stored or none is.
	SaveAll(ctx context.Context, values map[string]map[string]any) error
}

// SQLiteRepository implements Repository using the settings table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a settings repository on an open database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Load implements Repository.
func (r *SQLiteRepository) Load(ctx context.Context, module string) (map[string]json.RawMessage, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT item, value FROM settings WHERE module = ?",
		module,
	)
	if err != nil {
		return nil, fmt.Errorf("querying settings: %w", err)
	}
	defer rows.Close()

	values := make(map[string]json.RawMessage)
	for rows.Next() {
		var item, value string
		if err := rows.Scan(&item, &value); err != nil {
			return nil, fmt.Errorf("scanning setting: %w", err)
		}
		values[item] = json.RawMessage(value)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating settings: %w", err)
	}
	return values, nil
}

// Save implements Repository. All values are written in one transaction.
func (r *SQLiteRepository) Save(ctx context.Context, module string, values map[string]any) error {
	return r.SaveAll(ctx, map[string]map[string]any{module: values})
}

// SaveAll implements Repository.
func (r *SQLiteRepository) SaveAll(ctx context.Context, values map[string]map[string]any) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	now := time.Now().UTC().Format(time.RFC3339)
	for _, module := range slices.Sorted(maps.Keys(values)) {
		for item, value := range values[module] {
			encoded, err := json.Marshal(value)
			if err != nil {
				return fmt.Errorf("encoding %s.%s: %w", module, item, err)
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO settings (module, item, value, updated_at) VALUES (?, ?, ?, ?)
				 ON CONFLICT (module, item) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
				module, item, string(encoded), now,
			); err != nil {
				return fmt.Errorf("saving %s.%s: %w", module, item, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing settings: %w", err)
	}
	return nil
}
