// heraldctl runs herald jobs and one-off sends from the command line.
//
// Usage:
//
//	heraldctl jobs list
//	heraldctl jobs run daily-fee-reminders --offset 3
//	heraldctl jobs enqueue all-daily
//	heraldctl send --channel whatsapp --phone 9876543210 --template HOLIDAY --var date=26-Jan
//	heraldctl templates
//
// Configuration comes from the same environment variables as the server.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lalithlochan/herald/internal/app"
	"github.com/lalithlochan/herald/internal/config"
	"github.com/lalithlochan/herald/internal/observ"
)

var (
	version   = "dev"
	outputFmt string
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "heraldctl",
		Short: "Run herald jobs and sends by hand",
		Long: `heraldctl drives the herald notification engine without the HTTP API.

Jobs run in-process against the configured database and providers, or are
enqueued on the trigger queue for the server to pick up.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&outputFmt, "output", "o", "table", "Output format: table, json")

	root.AddCommand(jobsCmd())
	root.AddCommand(sendCmd())
	root.AddCommand(templatesCmd())

	return root
}

// setup loads config and a logger. Logs go to stderr so stdout stays parseable.
func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel, "heraldctl")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return cfg, logger, nil
}

// withApp builds the full engine for the duration of fn.
func withApp(ctx context.Context, fn func(*app.App) error) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(a)
}
