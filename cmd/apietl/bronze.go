package main

import (
	"context"
	"fmt"

	"github.com/rpattn/apietl/internal/app"
	"github.com/rpattn/apietl/internal/bronze"

	"github.com/spf13/cobra"
)

// bronzeCmd represents the bronze command
var bronzeCmd = &cobra.Command{
	Use:   "bronze",
	Short: "Normalize raw tables into bronze tables",
}

// runBronzeCmd normalizes one raw table
var runBronzeCmd = &cobra.Command{
	Use:   "run [raw-table]",
	Short: "Normalize a raw table",
	Long:  `Upsert one bronze row per raw row, resolving buyers against the user directory. Safe to re-run.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			events := make(chan bronze.Event, 16)
			done := make(chan struct{})
			go func() {
				defer close(done)
				for ev := range events {
					fmt.Println(ev.Message)
				}
			}()

			_, err := a.Normalizer.Run(ctx, args[0], events)
			close(events)
			<-done
			return err
		})
	},
}

// listRawTablesCmd lists candidate inputs
var listRawTablesCmd = &cobra.Command{
	Use:   "tables",
	Short: "List raw tables with their row counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			tables, err := a.Raw.ListRawTables(ctx)
			if err != nil {
				return err
			}
			if len(tables) == 0 {
				fmt.Println("No raw tables found")
				return nil
			}
			for _, table := range tables {
				count, err := a.Raw.Count(ctx, table)
				if err != nil {
					return err
				}
				fmt.Printf("%s (%d rows)\n", table, count)
			}
			return nil
		})
	},
}

func init() {
	bronzeCmd.AddCommand(runBronzeCmd)
	bronzeCmd.AddCommand(listRawTablesCmd)
}
