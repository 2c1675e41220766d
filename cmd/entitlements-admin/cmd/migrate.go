package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openctemio/entitlements/internal/config"
	"github.com/openctemio/entitlements/internal/infra/postgres"
	"github.com/openctemio/entitlements/pkg/migrations"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations directly against DB_*",
}

func init() {
	migrateCmd.PersistentFlags().String("dir", "", "Migrations directory (default: DB_MIGRATIONS_DIR)")

	migrateCmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			RunE: withRunner(func(cmd *cobra.Command, r *migrations.Runner) error {
				return r.Up(cmd.Context())
			}),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the last applied migration",
			RunE: withRunner(func(cmd *cobra.Command, r *migrations.Runner) error {
				return r.Down(cmd.Context())
			}),
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show applied and pending migrations",
			RunE: withRunner(func(cmd *cobra.Command, r *migrations.Runner) error {
				return r.Status(cmd.Context())
			}),
		},
	)
}

func withRunner(fn func(*cobra.Command, *migrations.Runner) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		dir, _ := cmd.Flags().GetString("dir")
		if dir == "" {
			dir = cfg.Database.MigrationsDir
		}

		db, err := postgres.New(&cfg.Database)
		if err != nil {
			return err
		}
		defer db.Close()

		return fn(cmd, migrations.NewRunner(db.DB, dir, cmd.OutOrStdout()))
	}
}
