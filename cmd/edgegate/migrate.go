package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/invitegen/edgegate/internal/database"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the audit database schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply pending migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMigrator(func(ctx context.Context, m *database.Migrator) error {
			n, err := m.Up(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "applied %d migration(s)\n", n)
			return nil
		})
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back the latest migration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMigrator(func(ctx context.Context, m *database.Migrator) error {
			return m.Down(ctx)
		})
	},
}

var migrateVersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the applied schema version",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMigrator(func(ctx context.Context, m *database.Migrator) error {
			v, err := m.Version(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), v)
			return nil
		})
	},
}

func init() {
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd, migrateVersionCmd)
	rootCmd.AddCommand(migrateCmd)
}

func withMigrator(fn func(context.Context, *database.Migrator) error) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	if !cfg.DatabaseEnabled() {
		return fmt.Errorf("database not configured: set DB_HOST and DB_PASSWORD")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	pool, err := database.NewPool(ctx, &cfg.Database)
	if err != nil {
		return err
	}
	defer pool.Close()

	m, err := database.NewMigrator(pool, database.Migrations, database.MigrationsDir)
	if err != nil {
		return err
	}
	return fn(ctx, m)
}
