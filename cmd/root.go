package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/snapscore/pipeline/internal/app"
	"github.com/snapscore/pipeline/internal/config"
)

var cfgFile string

type appKeyType string

const appKey appKeyType = "app"

// newApp is a variable so tests can substitute a fake application.
var newApp = func(ctx context.Context, cfgPath string) (*app.App, error) {
	return buildApp(ctx, cfgPath)
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pipeline",
		Short: "Priority-aware feed pulling and sequential processing pipeline.",
		Long: `pipeline runs the feed-pulling engine and its sequential response
processor: request de-duplication, per-priority rate limiting, retries with
backoff, and at-most-one-in-flight-per-key downstream processing.`,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cmd.Context(), cfgFile)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			ctx := context.WithValue(cmd.Context(), appKey, appInstance)
			cmd.SetContext(ctx)
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(*app.App); ok && appInstance != nil {
				appInstance.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (when unset, only built-in defaults and environment variables apply)")

	cmd.AddCommand(newServeCmd())

	return cmd
}

func buildApp(ctx context.Context, cfgPath string) (*app.App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	return app.New(ctx, cfg)
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
