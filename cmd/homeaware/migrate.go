package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/home-awareness/internal/infrastructure/config"
	"github.com/nerrad567/home-awareness/internal/infrastructure/database"
)

// newMigrateCommand creates "migrate" with its up, down and status
// subcommands. They operate on database.path from the config file without
// starting the hub.
func newMigrateCommand(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Inspect or change the database schema",
		Args:  cobra.NoArgs,
	}

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDatabase(cmd.Context(), *configPath, func(ctx context.Context, db *database.DB) error {
				if err := db.Migrate(ctx); err != nil {
					return fmt.Errorf("running migrations: %w", err)
				}
				return printMigrationStatus(ctx, cmd.OutOrStdout(), db)
			})
		},
	}

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back the most recent migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if steps < 1 {
				return errors.New("--steps must be at least 1")
			}
			return withDatabase(cmd.Context(), *configPath, func(ctx context.Context, db *database.DB) error {
				for i := range steps {
					applied, _, err := db.GetMigrationStatus(ctx)
					if err != nil {
						return err
					}
					if len(applied) == 0 {
						fmt.Fprintf(cmd.OutOrStdout(), "nothing to roll back after %d step(s)\n", i)
						break
					}
					if err := db.MigrateDown(ctx); err != nil {
						return fmt.Errorf("rolling back %s: %w", applied[len(applied)-1].Version, err)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "rolled back %s\n", applied[len(applied)-1].Version)
				}
				return printMigrationStatus(ctx, cmd.OutOrStdout(), db)
			})
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")

	status := &cobra.Command{
		Use:   "status",
		Short: "List applied and pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDatabase(cmd.Context(), *configPath, func(ctx context.Context, db *database.DB) error {
				return printMigrationStatus(ctx, cmd.OutOrStdout(), db)
			})
		},
	}

	cmd.AddCommand(up, down, status)
	return cmd
}

// withDatabase opens the configured database for the duration of fn.
func withDatabase(ctx context.Context, configPath string, fn func(context.Context, *database.DB) error) error {
	cfg, err := config.Load(config.ResolvePath(configPath))
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close() //nolint:errcheck // read-mostly CLI session

	return fn(ctx, db)
}

// printMigrationStatus writes one line per migration, applied first.
//
//	applied  20260301_090000  2026-03-01T09:00:00Z
//	pending  20260301_090300  audit_log
func printMigrationStatus(ctx context.Context, w io.Writer, db *database.DB) error {
	applied, pending, err := db.GetMigrationStatus(ctx)
	if err != nil {
		return fmt.Errorf("reading migration status: %w", err)
	}
	for _, m := range applied {
		fmt.Fprintf(w, "applied  %s  %s\n", m.Version, m.AppliedAt.UTC().Format(time.RFC3339))
	}
	for _, m := range pending {
		fmt.Fprintf(w, "pending  %s  %s\n", m.Version, m.Name)
	}
	fmt.Fprintf(w, "%d applied, %d pending\n", len(applied), len(pending))
	return nil
}
