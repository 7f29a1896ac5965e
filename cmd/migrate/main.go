// Command migrate applies schema migrations to the optional Postgres
// Diagnostics Mirror. The mirror is a read-only trend store for
// historical snapshot counts; map.jsonl remains the sole source of
// truth for resuming a harvest, so this tool never touches it.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/helixir/article-harvester/internal/config"
	"github.com/helixir/article-harvester/internal/observability"
)

var logger zerolog.Logger

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var migrationsPath string

	root := &cobra.Command{
		Use:           "migrate",
		Short:         "Manage the diagnostics mirror's Postgres schema",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger = observability.NewLogger(observability.LoggingConfig{
				Level:      "info",
				Format:     "console",
				Output:     "stdout",
				AddSource:  false,
				TimeFormat: time.RFC3339,
			}).With().Str("component", "migrate").Logger()
			return nil
		},
	}
	root.PersistentFlags().StringVar(&migrationsPath, "path", "", "override the migrations directory (default: config diagnostics_db.migrations_path)")

	root.AddCommand(
		newUpCmd(&migrationsPath),
		newDownCmd(&migrationsPath),
		newStepsCmd(&migrationsPath),
		newVersionCmd(&migrationsPath),
		newForceCmd(&migrationsPath),
	)
	return root
}

func newUpCmd(migrationsPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Run all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd.Context(), *migrationsPath, func(m *migrate.Migrate) error {
				logger.Info().Msg("running all pending migrations")
				if err := m.Up(); err != nil {
					if err == migrate.ErrNoChange {
						logger.Info().Msg("no migrations to apply")
						return nil
					}
					return fmt.Errorf("migrate up: %w", err)
				}
				return nil
			})
		},
	}
}

func newDownCmd(migrationsPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "down",
		Short: "Roll back all migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd.Context(), *migrationsPath, func(m *migrate.Migrate) error {
				logger.Warn().Msg("rolling back all migrations")
				if err := m.Down(); err != nil {
					if err == migrate.ErrNoChange {
						logger.Info().Msg("no migrations to roll back")
						return nil
					}
					return fmt.Errorf("migrate down: %w", err)
				}
				return nil
			})
		},
	}
}

func newStepsCmd(migrationsPath *string) *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "steps",
		Short: "Run N migration steps (positive=up, negative=down)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd.Context(), *migrationsPath, func(m *migrate.Migrate) error {
				logger.Info().Int("steps", n).Msg("running migration steps")
				if err := m.Steps(n); err != nil {
					if err == migrate.ErrNoChange {
						logger.Info().Msg("no migrations to apply")
						return nil
					}
					return fmt.Errorf("migrate steps: %w", err)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 0, "number of steps to apply")
	return cmd
}

func newVersionCmd(migrationsPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the current migration version",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd.Context(), *migrationsPath, func(m *migrate.Migrate) error {
				return nil
			})
		},
	}
}

func newForceCmd(migrationsPath *string) *cobra.Command {
	var version int
	cmd := &cobra.Command{
		Use:   "force",
		Short: "Force-set the migration version without running migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd.Context(), *migrationsPath, func(m *migrate.Migrate) error {
				logger.Warn().Int("version", version).Msg("forcing migration version")
				return m.Force(version)
			})
		},
	}
	cmd.Flags().IntVar(&version, "version", -1, "version to force")
	cmd.MarkFlagRequired("version")
	return cmd
}

// withMigrator loads configuration, opens a migrate.Migrate bound to
// the diagnostics mirror's DSN, hands it to fn, reports the resulting
// version, and always closes the migrator and its connection.
func withMigrator(ctx context.Context, migrationsPathOverride string, fn func(*migrate.Migrate) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.DiagnosticsDB.DSN == "" {
		return fmt.Errorf("HARVESTER_DIAGNOSTICS_DB_DSN is required")
	}

	migrationsPath := cfg.DiagnosticsDB.MigrationsPath
	if migrationsPathOverride != "" {
		migrationsPath = migrationsPathOverride
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	sqlDB, err := sql.Open("pgx", cfg.DiagnosticsDB.DSN)
	if err != nil {
		return fmt.Errorf("open diagnostics db: %w", err)
	}
	defer sqlDB.Close()
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("ping diagnostics db: %w", err)
	}
	logger.Info().Msg("diagnostics db connection established")

	driver, err := postgres.WithInstance(sqlDB, &postgres.Config{MigrationsTable: "schema_migrations"})
	if err != nil {
		return fmt.Errorf("create postgres driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(fmt.Sprintf("file://%s", migrationsPath), "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer func() {
		if sourceErr, dbErr := m.Close(); sourceErr != nil || dbErr != nil {
			logger.Error().AnErr("source_err", sourceErr).AnErr("db_err", dbErr).Msg("failed to close migrator")
		}
	}()

	if err := fn(m); err != nil {
		return err
	}
	printVersion(m)
	return nil
}

func printVersion(m *migrate.Migrate) {
	v, dirty, err := m.Version()
	if err != nil {
		if err == migrate.ErrNilVersion {
			logger.Info().Msg("no migrations applied yet")
			return
		}
		logger.Warn().Err(err).Msg("could not determine migration version")
		return
	}
	logger.Info().Uint("version", v).Bool("dirty", dirty).Msg("current migration version")
}
