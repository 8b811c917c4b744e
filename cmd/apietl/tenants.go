package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/rpattn/apietl/internal/app"

	"github.com/spf13/cobra"
)

var (
	tenantName  string
	tenantToken string
)

// tenantCmd represents the tenant command
var tenantCmd = &cobra.Command{
	Use:   "tenant",
	Short: "Manage tenant credentials",
}

// setTokenCmd stores the API token of a tenant
var setTokenCmd = &cobra.Command{
	Use:   "set-token [tenant-id]",
	Short: "Create a tenant or replace its API token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tenantID, err := parseTenantID(args[0])
		if err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			if err := a.Tenants.Upsert(ctx, tenantID, tenantName, tenantToken); err != nil {
				return err
			}
			fmt.Printf("Token stored for tenant %d\n", tenantID)
			return nil
		})
	},
}

func init() {
	setTokenCmd.Flags().StringVar(&tenantName, "name", "", "Display name of the tenant")
	setTokenCmd.Flags().StringVar(&tenantToken, "token", "", "API token")
	_ = setTokenCmd.MarkFlagRequired("token")

	tenantCmd.AddCommand(setTokenCmd)
}

func parseTenantID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid tenant id %q", raw)
	}
	return id, nil
}
