package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/Jeffreasy/LaventeCareMailer/internal/config"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/spf13/cobra"
)

func main() {
	var source string

	root := &cobra.Command{
		Use:           "migrate",
		Short:         "Apply Postgres schema migrations",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&source, "source", "file://migrations", "migration source URL")

	open := func() (*migrate.Migrate, error) {
		cfg, err := config.Load()
		if err != nil {
			return nil, err
		}
		if cfg.Database.Driver != "postgres" {
			return nil, fmt.Errorf("migrations target postgres; DATABASE_DRIVER is %q (sqlite creates its schema on open)", cfg.Database.Driver)
		}
		m, err := migrate.New(source, cfg.Database.URL)
		if err != nil {
			return nil, fmt.Errorf("migration init failed: %w", err)
		}
		return m, nil
	}

	report := func(cmd *cobra.Command, err error, done string) error {
		if errors.Is(err, migrate.ErrNoChange) {
			cmd.Println("Database is up to date.")
			return nil
		}
		if err != nil {
			return err
		}
		cmd.Println(done)
		return nil
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
			return report(cmd, m.Up(), "Migrations applied successfully.")
		},
	})

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := open()
			if err != nil {
				return err
			}
			defer m.Close()
			if steps > 0 {
				return report(cmd, m.Steps(-steps), fmt.Sprintf("Rolled back %d migration(s).", steps))
			}
			return report(cmd, m.Down(), "All migrations rolled back.")
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back; 0 rolls back everything")
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
				cmd.Println("No migrations applied.")
				return nil
			}
			if err != nil {
				return err
			}
			cmd.Printf("version=%d dirty=%t\n", v, dirty)
			return nil
		},
	})

	root.SetOut(os.Stdout)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "migrate:", err)
		os.Exit(1)
	}
}
