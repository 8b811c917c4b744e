package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/rpattn/apietl/internal/app"
	"github.com/rpattn/apietl/internal/domain"
	"github.com/rpattn/apietl/internal/repository"

	"github.com/spf13/cobra"
)

var (
	routeTenant  int64
	routeName    string
	routeURL     string
	routeMethod  string
	routeHeaders map[string]string
)

// routeCmd represents the route command
var routeCmd = &cobra.Command{
	Use:   "route",
	Short: "Manage API routes",
	Long:  `Commands for registering and listing the API routes of a tenant. Registering a route provisions its raw table.`,
}

// addRouteCmd registers a route and provisions its raw table
var addRouteCmd = &cobra.Command{
	Use:   "add",
	Short: "Register a route",
	Long: `Register a route. The URL may use {tenant_id} and, for detail routes, {record_id};
header values may use {token} and {tenant_id}.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			route, err := a.RegisterRoute(ctx, domain.Route{
				TenantID:    routeTenant,
				Name:        routeName,
				URLTemplate: routeURL,
				Method:      routeMethod,
				Headers:     routeHeaders,
				Active:      true,
			})
			if errors.Is(err, repository.ErrRouteConflict) {
				return fmt.Errorf("route %q already exists for tenant %d or maps to an existing raw table", routeName, routeTenant)
			}
			if err != nil {
				return err
			}
			fmt.Printf("Route %s registered, raw table %s\n", route.ID, route.RawTable)
			return nil
		})
	},
}

// listRoutesCmd lists the routes of a tenant
var listRoutesCmd = &cobra.Command{
	Use:   "list",
	Short: "List the routes of a tenant",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			routes, err := a.Routes.ListByTenant(ctx, routeTenant)
			if err != nil {
				return err
			}
			if len(routes) == 0 {
				fmt.Println("No routes found")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "ID\tName\tMethod\tRaw Table\tActive")
			fmt.Fprintln(w, "--\t----\t------\t---------\t------")
			for _, route := range routes {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\n", route.ID, route.Name, route.Method, route.RawTable, route.Active)
			}
			return w.Flush()
		})
	},
}

func init() {
	addRouteCmd.Flags().Int64Var(&routeTenant, "tenant", 0, "Tenant id")
	addRouteCmd.Flags().StringVar(&routeName, "name", "", "Route name, used to derive the raw table")
	addRouteCmd.Flags().StringVar(&routeURL, "url", "", "URL template")
	addRouteCmd.Flags().StringVar(&routeMethod, "method", "GET", "HTTP method")
	addRouteCmd.Flags().StringToStringVar(&routeHeaders, "header", nil, "Header template, e.g. --header Authorization='Bearer {token}'")
	_ = addRouteCmd.MarkFlagRequired("tenant")
	_ = addRouteCmd.MarkFlagRequired("name")
	_ = addRouteCmd.MarkFlagRequired("url")

	listRoutesCmd.Flags().Int64Var(&routeTenant, "tenant", 0, "Tenant id")
	_ = listRoutesCmd.MarkFlagRequired("tenant")

	routeCmd.AddCommand(addRouteCmd)
	routeCmd.AddCommand(listRoutesCmd)
}
