package main

import (
	"github.com/spf13/cobra"

	"github.com/spec-kit/helpdesk/internal/persistence"
)

func newMigrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Database migration tools",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withPostgres(cmd, func(pg *persistence.Postgres, rt *cliEnv) error {
					return persistence.RunMigrations(cmd.Context(), pg.PoolHandle(), rt.logger)
				})
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show the state of every migration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withPostgres(cmd, func(pg *persistence.Postgres, _ *cliEnv) error {
					return persistence.MigrationStatus(cmd.Context(), pg.PoolHandle())
				})
			},
		},
	)
	return cmd
}

func withPostgres(cmd *cobra.Command, fn func(*persistence.Postgres, *cliEnv) error) error {
	rt, err := loadEnv()
	if err != nil {
		return err
	}
	defer rt.logger.Sync() //nolint:errcheck

	pg, err := persistence.NewPostgres(cmd.Context(), rt.cfg.Postgres, rt.cfg.App.Name+"-ctl", rt.logger)
	if err != nil {
		return err
	}
	defer pg.Close()
	return fn(pg, rt)
}
