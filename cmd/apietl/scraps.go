package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rpattn/apietl/internal/app"
	"github.com/rpattn/apietl/internal/domain"
	"github.com/rpattn/apietl/internal/extract"
	"github.com/rpattn/apietl/internal/repository"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

const dateLayout = "2006-01-02"

var (
	scrapTenant   int64
	scrapRoute    string
	scrapStart    string
	scrapEnd      string
	scrapStatuses []string
	scrapLimit    int
	logsLimit     int
)

// scrapCmd represents the scrap command
var scrapCmd = &cobra.Command{
	Use:   "scrap",
	Short: "Run and inspect extraction jobs",
}

// submitScrapCmd creates a job and runs it in the foreground
var submitScrapCmd = &cobra.Command{
	Use:   "submit",
	Short: "Extract a route for a date range",
	Long: `Create an extraction job and run it in the foreground, printing progress.
Interrupting the command cancels the job; records already fetched are kept.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		routeID, err := uuid.Parse(scrapRoute)
		if err != nil {
			return fmt.Errorf("invalid route id: %w", err)
		}
		start, err := time.Parse(dateLayout, scrapStart)
		if err != nil {
			return fmt.Errorf("invalid start date: %w", err)
		}
		end, err := time.Parse(dateLayout, scrapEnd)
		if err != nil {
			return fmt.Errorf("invalid end date: %w", err)
		}

		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			scrap, err := a.Extract.Create(ctx, extract.SubmitRequest{
				TenantID:  scrapTenant,
				RouteID:   routeID,
				StartDate: start,
				EndDate:   end,
			})
			if err != nil {
				return err
			}
			fmt.Printf("Job %s created\n", scrap.ID)

			events := make(chan extract.Event, 16)
			done := make(chan struct{})
			go func() {
				defer close(done)
				for ev := range events {
					fmt.Println(ev.Message)
				}
			}()

			result, err := a.Extract.Run(ctx, scrap.ID, events)
			close(events)
			<-done
			if err != nil {
				return err
			}
			if result.Status == domain.ScrapStatusFailed {
				return fmt.Errorf("job %s failed: %s", scrap.ID, result.Summary)
			}
			return nil
		})
	},
}

// listScrapsCmd lists jobs, newest first
var listScrapsCmd = &cobra.Command{
	Use:   "list",
	Short: "List extraction jobs",
	Long:  `List jobs, optionally by tenant and status. Jobs left running by a crashed process show up with --status running.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		filter := repository.ScrapFilter{}
		if scrapTenant > 0 {
			filter.TenantID = &scrapTenant
		}
		for _, raw := range scrapStatuses {
			status := domain.ScrapStatus(strings.ToLower(strings.TrimSpace(raw)))
			if !status.Valid() {
				return fmt.Errorf("unknown status %q", raw)
			}
			filter.Statuses = append(filter.Statuses, status)
		}

		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			scraps, err := a.Extract.ListJobs(ctx, filter, scrapLimit, 0)
			if err != nil {
				return err
			}
			if len(scraps) == 0 {
				fmt.Println("No jobs found")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "ID\tTenant\tPeriod\tStatus\tRecords\tPages\tFailures\tEnqueued")
			fmt.Fprintln(w, "--\t------\t------\t------\t-------\t-----\t--------\t--------")
			for _, s := range scraps {
				fmt.Fprintf(w, "%s\t%d\t%s..%s\t%s\t%d\t%d\t%d\t%s\n",
					s.ID, s.TenantID,
					s.StartDate.Format(dateLayout), s.EndDate.Format(dateLayout),
					s.Status, s.RecordsCollected, s.PagesFetched, s.PageFailures,
					s.EnqueuedAt.Format(time.RFC3339))
			}
			return w.Flush()
		})
	},
}

// cancelScrapCmd cancels a pending or running job
var cancelScrapCmd = &cobra.Command{
	Use:   "cancel [job-id]",
	Short: "Cancel a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid job id: %w", err)
		}
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			scrap, err := a.Extract.CancelJob(ctx, id)
			if err != nil {
				return err
			}
			fmt.Printf("Job %s is %s\n", scrap.ID, scrap.Status)
			return nil
		})
	},
}

// logsScrapCmd prints the ingestion log of a job
var logsScrapCmd = &cobra.Command{
	Use:   "logs [job-id]",
	Short: "Show page failures recorded for a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid job id: %w", err)
		}
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			entries, err := a.Extract.ListLogs(ctx, id, logsLimit, 0)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Println("No failures recorded")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "Time\tTable\tContext\tError")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.CreatedAt.Format(time.RFC3339), e.TableName, e.Context, e.ErrorMessage)
			}
			return w.Flush()
		})
	},
}

func init() {
	submitScrapCmd.Flags().Int64Var(&scrapTenant, "tenant", 0, "Tenant id")
	submitScrapCmd.Flags().StringVar(&scrapRoute, "route", "", "Route id")
	submitScrapCmd.Flags().StringVar(&scrapStart, "start", "", "First day, YYYY-MM-DD")
	submitScrapCmd.Flags().StringVar(&scrapEnd, "end", "", "Last day (inclusive), YYYY-MM-DD")
	for _, name := range []string{"tenant", "route", "start", "end"} {
		_ = submitScrapCmd.MarkFlagRequired(name)
	}

	listScrapsCmd.Flags().Int64Var(&scrapTenant, "tenant", 0, "Only jobs of this tenant")
	listScrapsCmd.Flags().StringSliceVar(&scrapStatuses, "status", nil, "Only jobs in these statuses")
	listScrapsCmd.Flags().IntVar(&scrapLimit, "limit", 50, "Maximum rows")

	logsScrapCmd.Flags().IntVar(&logsLimit, "limit", 100, "Maximum rows")

	scrapCmd.AddCommand(submitScrapCmd)
	scrapCmd.AddCommand(listScrapsCmd)
	scrapCmd.AddCommand(cancelScrapCmd)
	scrapCmd.AddCommand(logsScrapCmd)
}
