package main

import (
	"fmt"
	"strconv"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"

	"github.com/R3E-Network/vetclinic/internal/cli"
	"github.com/R3E-Network/vetclinic/internal/platform/database"
	"github.com/R3E-Network/vetclinic/internal/platform/migrations"
)

func newMigrateCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the Postgres schema",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cli.NewPrinter(cmd.OutOrStdout())
			return withDatabase(cmd, opts, func(db *sqlx.DB) error {
				if err := migrations.Up(db.DB); err != nil {
					return err
				}
				return reportVersion(out, db)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "down [steps]",
		Short: "Roll back migrations (default 1)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			steps := 1
			if len(args) == 1 {
				n, err := strconv.Atoi(args[0])
				if err != nil || n < 1 {
					return fmt.Errorf("steps must be a positive integer")
				}
				steps = n
			}
			out := cli.NewPrinter(cmd.OutOrStdout())
			return withDatabase(cmd, opts, func(db *sqlx.DB) error {
				if err := migrations.Down(db.DB, steps); err != nil {
					return err
				}
				return reportVersion(out, db)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the applied schema version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cli.NewPrinter(cmd.OutOrStdout())
			return withDatabase(cmd, opts, func(db *sqlx.DB) error {
				return reportVersion(out, db)
			})
		},
	})
	return cmd
}

func withDatabase(cmd *cobra.Command, opts *rootOptions, fn func(db *sqlx.DB) error) error {
	cfg, err := opts.load()
	if err != nil {
		return err
	}
	if cfg.Database.DSN == "" {
		return fmt.Errorf("migrations need DATABASE_URL")
	}
	db, err := database.Open(cmd.Context(), cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(db)
}

func reportVersion(out *cli.Printer, db *sqlx.DB) error {
	version, dirty, err := migrations.Version(db.DB)
	if err != nil {
		return err
	}
	if dirty {
		out.Warning("schema version %d is dirty", version)
		return nil
	}
	out.Success("schema at version %d", version)
	return nil
}
