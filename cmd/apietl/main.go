package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rpattn/apietl/internal/app"
	"github.com/rpattn/apietl/internal/config"
	"github.com/rpattn/apietl/internal/logging"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	configDir string
	logLevel  string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:           "apietl",
	Short:         "Paginated API extraction into PostgreSQL",
	Long:          "Extracts paginated JSON from tenant API routes into raw tables, normalizes them into bronze tables and enriches records with per-item details.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config", ".", "Directory containing config.yaml")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override logging.level")

	setupCommands()
}

func main() {
	Execute()
}

// loadConfig reads configuration and builds the logger.
func loadConfig() (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configDir)
	if err != nil {
		return config.Config{}, nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, logger, nil
}

// withApp runs fn with a connected application whose context is canceled on
// SIGINT or SIGTERM. overrides apply command flags on top of the loaded config.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error, overrides ...func(*config.Config)) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	for _, override := range overrides {
		override(&cfg)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	return fn(ctx, a)
}
