package main

import (
	"context"
	"fmt"

	"github.com/rpattn/apietl/internal/app"
	"github.com/rpattn/apietl/internal/config"
	"github.com/rpattn/apietl/internal/enrich"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	detailsTenant int64
	detailsRoute  string
	detailsSource string
	detailsWait   bool
)

// detailsCmd represents the details command
var detailsCmd = &cobra.Command{
	Use:   "details",
	Short: "Enrich records with per-item detail calls",
}

// runDetailsCmd fetches details for every record id of a source table
var runDetailsCmd = &cobra.Command{
	Use:   "run",
	Short: "Fetch details for the records of a raw or bronze table",
	Long: `Fetch one detail payload per distinct record id of --source using the URL template of
--route ({record_id} is replaced per record). Stops early when the daily request quota runs out,
or with --wait-for-quota sleeps until it resets. The quota is shared with every other process
using the same database. Re-running fetches every record again; unchanged payloads are not stored twice.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		routeID, err := uuid.Parse(detailsRoute)
		if err != nil {
			return fmt.Errorf("invalid route id: %w", err)
		}
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			events := make(chan enrich.Event, 16)
			done := make(chan struct{})
			go func() {
				defer close(done)
				for ev := range events {
					fmt.Println(ev.Message)
				}
			}()

			_, err := a.Enrich(ctx, app.EnrichRequest{
				TenantID:    detailsTenant,
				RouteID:     routeID,
				SourceTable: detailsSource,
			}, events)
			close(events)
			<-done
			return err
		}, func(cfg *config.Config) {
			if cmd.Flags().Changed("wait-for-quota") {
				cfg.Enrich.WaitForQuota = detailsWait
			}
		})
	},
}

func init() {
	runDetailsCmd.Flags().Int64Var(&detailsTenant, "tenant", 0, "Tenant id")
	runDetailsCmd.Flags().StringVar(&detailsRoute, "route", "", "Detail route id")
	runDetailsCmd.Flags().StringVar(&detailsSource, "source", "", "Source table (bronze_* or raw_*)")
	runDetailsCmd.Flags().BoolVar(&detailsWait, "wait-for-quota", false, "Sleep until the daily quota resets instead of pausing")
	for _, name := range []string{"tenant", "route", "source"} {
		_ = runDetailsCmd.MarkFlagRequired(name)
	}

	detailsCmd.AddCommand(runDetailsCmd)
}
