package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/banshee-data/solar.report/internal/db"
)

func migrateCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	// withDB opens the database without applying migrations.
	withDB := func(run func(cmd *cobra.Command, d *db.DB, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			d, err := db.OpenDB(root.dbPath)
			if err != nil {
				return err
			}
			defer d.Close()
			return run(cmd, d, args)
		}
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: withDB(func(cmd *cobra.Command, d *db.DB, _ []string) error {
				if err := d.MigrateUp(db.Migrations()); err != nil {
					return err
				}
				return printMigrationStatus(cmd, d)
			}),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the most recent migration",
			Args:  cobra.NoArgs,
			RunE: withDB(func(cmd *cobra.Command, d *db.DB, _ []string) error {
				if err := d.MigrateDown(db.Migrations()); err != nil {
					return err
				}
				return printMigrationStatus(cmd, d)
			}),
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show the applied and latest schema versions",
			Args:  cobra.NoArgs,
			RunE: withDB(func(cmd *cobra.Command, d *db.DB, _ []string) error {
				return printMigrationStatus(cmd, d)
			}),
		},
		&cobra.Command{
			Use:   "force <version>",
			Short: "Set the schema version without running migrations, to recover from a dirty state",
			Args:  cobra.ExactArgs(1),
			RunE: withDB(func(cmd *cobra.Command, d *db.DB, args []string) error {
				v, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("invalid version %q: %w", args[0], err)
				}
				if err := d.MigrateForce(db.Migrations(), v); err != nil {
					return err
				}
				return printMigrationStatus(cmd, d)
			}),
		},
	)
	return cmd
}

func printMigrationStatus(cmd *cobra.Command, d *db.DB) error {
	current, dirty, err := d.MigrateVersion(db.Migrations())
	if err != nil {
		return err
	}
	latest, err := db.LatestMigrationVersion(db.Migrations())
	if err != nil {
		return err
	}
	state := "up to date"
	if err := d.CheckMigrations(db.Migrations()); err != nil {
		state = err.Error()
		if errors.Is(err, db.ErrSchemaOutOfDate) {
			state = "pending migrations"
		}
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "version %d of %d, dirty=%t: %s\n", current, latest, dirty, state)
	return err
}
