package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/feed-system/feed-system/internal/config"
	"github.com/feed-system/feed-system/internal/repository"
)

func init() {
	rootCmd.AddCommand(migrateCmd)
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply schema migrations to the configured database",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		db, err := repository.NewDatabase(&cfg.Database)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		defer db.Close()
		if err := db.AutoMigrate(); err != nil {
			return fmt.Errorf("apply migrations: %w", err)
		}
		fmt.Println("migrations applied")
		return nil
	},
}
