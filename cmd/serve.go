// File: cmd/serve.go
package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/itslolan/TravelAgent-sub001/internal/observability"
)

// newServeCmd creates the `serve` command: the standalone orchestrator
// service. Search pipelines in other processes point their notifications and
// status polls at it.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Runs the CAPTCHA orchestrator HTTP boundary",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := observability.GetLogger()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			orch, err := buildOrchestrator(cfg, logger)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() {
				errCh <- orch.httpServer.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
				logger.Info("Shutdown signal received, draining requests")
				if err := orch.httpServer.Shutdown(context.Background()); err != nil {
					logger.Warn("Graceful shutdown incomplete", zap.Error(err))
				}
				return <-errCh
			}
		},
	}
}
