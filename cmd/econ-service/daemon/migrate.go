package daemon

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx" // migration target driver
	_ "github.com/golang-migrate/migrate/v4/source/file"  // migration script source
	"github.com/spf13/cobra"
)

func installMigrateCmd(app *App) {
	migrateCmd := &cobra.Command{
		Use:   "migrate [path-to-migration-scripts]",
		Short: "Apply the database schema migrations",
		Long: `Apply the SQL migration scripts from the given directory to the configured
PostgreSQL database, creating the economic_indicators and invalid_rows tables
the ingest daemon writes to.`,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return errors.New("migrate command accepts exactly one argument")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			app.cmd.SilenceUsage = false

			info, err := os.Stat(args[0])
			if err != nil {
				return fmt.Errorf("cannot read migration scripts at %s: %v", args[0], err)
			}
			if !info.IsDir() {
				return fmt.Errorf("%s is a file, expected a directory of migration scripts", args[0])
			}
			app.config.MigrationsDir = args[0]

			app.cmd.SilenceUsage = true
			slog.Info("Applying migrations", "dir", app.config.MigrationsDir)
			return app.migrateRun()
		},
	}
	addDBFlags(migrateCmd, &app.config.DBconfig)
	app.cmd.AddCommand(migrateCmd)
}

func (a App) migrateRun() error {
	m, err := migrate.New(
		"file://"+a.config.MigrationsDir,
		a.config.DBconfig.URI("pgx"),
	)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %v", err)
	}
	defer func() {
		srcErr, dbErr := m.Close()
		if srcErr != nil {
			slog.Error("Failed to close migration source", "err", srcErr)
		}
		if dbErr != nil {
			slog.Error("Failed to close migration database connection", "err", dbErr)
		}
	}()

	switch err := m.Up(); {
	case err == nil:
		slog.Info("Migrations applied")
		return nil
	case errors.Is(err, migrate.ErrNoChange):
		slog.Info("Database schema already up to date")
		return nil
	default:
		return fmt.Errorf("failed to apply migrations: %v", err)
	}
}
