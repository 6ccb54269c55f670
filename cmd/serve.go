package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/snapscore/pipeline/internal/api"
	"github.com/snapscore/pipeline/internal/app"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the admin HTTP API and pulling pipeline until interrupted.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, ok := cmd.Context().Value(appKey).(*app.App)
			if !ok || appInstance == nil {
				return errors.New("application was not initialized")
			}
			return runServe(cmd.Context(), appInstance)
		},
	}
}

func runServe(ctx context.Context, a *app.App) error {
	server := api.NewServer(a.Engine, a.Config, a.Logger)
	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler: server.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info("admin api listening", zap.Int("port", a.Config.Server.Port))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return httpServer.Shutdown(context.Background())
	case err := <-errCh:
		return fmt.Errorf("admin api server failed: %w", err)
	}
}
