package main

import (
	"embed"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/JaimeStill/envoy/internal/config"

	_ "github.com/golang-migrate/migrate/v4/database/postgres"
)

//go:embed migrations/*.sql
var migrations embed.FS

const envDSN = "ENVOY_DB_DSN"

func main() {
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var dsn string

	root := &cobra.Command{
		Use:          "migrate",
		Short:        "Apply envoy schema migrations",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&dsn, "dsn", "", "database connection string (default $"+envDSN+", then config.toml)")

	open := func() (*migrate.Migrate, error) {
		if dsn == "" {
			dsn = os.Getenv(envDSN)
		}
		if dsn == "" {
			cfg, err := config.Load()
			if err != nil {
				return nil, fmt.Errorf("no --dsn or $%s, and config load failed: %w", envDSN, err)
			}
			dsn = cfg.Database.URL()
		}

		source, err := iofs.New(migrations, "migrations")
		if err != nil {
			return nil, fmt.Errorf("migration source: %w", err)
		}
		m, err := migrate.NewWithSourceInstance("iofs", source, dsn)
		if err != nil {
			return nil, fmt.Errorf("migrator: %w", err)
		}
		return m, nil
	}

	run := func(fn func(*migrate.Migrate) error) error {
		m, err := open()
		if err != nil {
			return err
		}
		defer m.Close()

		if err := fn(m); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return err
		}
		return nil
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Run all up migrations",
			RunE: func(cmd *cobra.Command, _ []string) error {
				if err := run(func(m *migrate.Migrate) error { return m.Up() }); err != nil {
					return err
				}
				cmd.Println("migrations applied")
				return nil
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Revert all migrations",
			RunE: func(cmd *cobra.Command, _ []string) error {
				if err := run(func(m *migrate.Migrate) error { return m.Down() }); err != nil {
					return err
				}
				cmd.Println("migrations reverted")
				return nil
			},
		},
		&cobra.Command{
			Use:   "steps N",
			Short: "Apply N migrations (negative reverts)",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				n, err := strconv.Atoi(args[0])
				if err != nil || n == 0 {
					return fmt.Errorf("invalid step count %q", args[0])
				}
				if err := run(func(m *migrate.Migrate) error { return m.Steps(n) }); err != nil {
					return err
				}
				cmd.Printf("applied %d migration steps\n", n)
				return nil
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the current schema version",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return run(func(m *migrate.Migrate) error {
					v, dirty, err := m.Version()
					if err != nil {
						return err
					}
					cmd.Printf("version: %d, dirty: %v\n", v, dirty)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "force V",
			Short: "Force the schema version without running migrations",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				v, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("invalid version %q", args[0])
				}
				if err := run(func(m *migrate.Migrate) error { return m.Force(v) }); err != nil {
					return err
				}
				cmd.Printf("forced to version %d\n", v)
				return nil
			},
		},
	)

	return root
}
