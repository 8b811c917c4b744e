package main

import (
	"context"
	"fmt"

	"github.com/rpattn/apietl/internal/app"
	"github.com/rpattn/apietl/internal/db"

	"github.com/spf13/cobra"
)

// migrateCmd applies the embedded schema migrations
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	Long:  `Apply the embedded migrations that create tenants, routes, jobs, users and ingestion logs.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		defer logger.Sync()

		if err := db.RunMigrations(cfg.Database, logger); err != nil {
			return err
		}
		fmt.Println("Migrations applied")
		return nil
	},
}

// serveCmd runs the HTTP API
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long:  `Run the job API, server-sent progress events, rate limit status and metrics until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		if err := db.RunMigrations(cfg.Database, logger); err != nil {
			return err
		}
		_ = logger.Sync()
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			return a.Serve(ctx)
		})
	},
}
