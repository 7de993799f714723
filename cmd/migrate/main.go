package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/cassiomorais/booking-payments/internal/infrastructure/config"
	"github.com/cassiomorais/booking-payments/migrations"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/spf13/cobra"
)

func main() {
	var dbURL string

	root := &cobra.Command{
		Use:           "migrate",
		Short:         "Apply or roll back the payments schema",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&dbURL, "db", "", "Database URL (defaults to the PAYMENTS_DATABASE_* config)")

	open := func() (*migrate.Migrate, error) {
		if dbURL == "" {
			dbURL = os.Getenv("DATABASE_URL")
		}
		if dbURL == "" {
			cfg, err := config.Load()
			if err != nil {
				return nil, err
			}
			dbURL = cfg.Database.DatabaseURL()
		}
		src, err := iofs.New(migrations.FS, ".")
		if err != nil {
			return nil, fmt.Errorf("open embedded migrations: %w", err)
		}
		return migrate.NewWithSourceInstance("iofs", src, dbURL)
	}

	root.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := open()
			if err != nil {
				return err
			}
			defer m.Close()
			if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
				return fmt.Errorf("migration up failed: %w", err)
			}
			cmd.Println("Migrations applied successfully")
			return nil
		},
	})

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations (all, or --steps)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := open()
			if err != nil {
				return err
			}
			defer m.Close()
			if steps > 0 {
				err = m.Steps(-steps)
			} else {
				err = m.Down()
			}
			if err != nil && !errors.Is(err, migrate.ErrNoChange) {
				return fmt.Errorf("migration down failed: %w", err)
			}
			cmd.Println("Migrations rolled back successfully")
			return nil
		},
	}
	down.Flags().IntVar(&steps, "steps", 0, "Number of migrations to roll back")
	root.AddCommand(down)

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the current schema version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := open()
			if err != nil {
				return err
			}
			defer m.Close()
			v, dirty, err := m.Version()
			if errors.Is(err, migrate.ErrNilVersion) {
				cmd.Println("No migrations applied")
				return nil
			}
			if err != nil {
				return err
			}
			cmd.Printf("Version %d (dirty: %t)\n", v, dirty)
			return nil
		},
	})

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
