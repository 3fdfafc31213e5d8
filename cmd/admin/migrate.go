package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"faceattend/internal/store"
	"faceattend/internal/store/migrations"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Database schema migrations",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		db, err := store.NewDB(cmd.Context(), cfg.DatabaseURL, store.PoolConfig{MaxOpen: 2})
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer db.Close()
		if err := migrations.MigrateUp(db.Client); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
		return nil
	},
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current schema version",
	RunE: func(cmd *cobra.Command, _ []string) error {
		db, err := store.NewDB(cmd.Context(), cfg.DatabaseURL, store.PoolConfig{MaxOpen: 2})
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer db.Close()
		st, err := migrations.CheckStatus(db.Client)
		if err != nil {
			return err
		}
		state := "up to date"
		switch {
		case st.Dirty:
			state = "dirty"
		case !st.Current():
			state = "pending"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "version %d of %d (%s)\n", st.Version, st.Latest, state)
		return nil
	},
}

func init() {
	migrateCmd.AddCommand(migrateUpCmd, migrateStatusCmd)
	rootCmd.AddCommand(migrateCmd)
}
