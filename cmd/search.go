// File: cmd/search.go
package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/itslolan/TravelAgent-sub001/internal/observability"
	"github.com/itslolan/TravelAgent-sub001/internal/search"
)

// newSearchCmd creates the `search` command: run flight-price queries through
// the minion pool. The HTTP boundary runs alongside so a human can resolve
// challenges via the notify endpoint while minions are blocked.
func newSearchCmd() *cobra.Command {
	searchCmd := &cobra.Command{
		Use:   "search [origin] [destination] [date]",
		Short: "Runs a flight-price search through remote browser sessions",
		Args:  cobra.RangeArgs(2, 3),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			// Bind only flags the user actually set; binding an untouched
			// flag would shadow config-file and default values with the
			// flag's zero value.
			bindings := map[string]string{
				"search.target_url":  "target",
				"search.concurrency": "concurrency",
				"captcha.mode":       "mode",
			}
			for key, name := range bindings {
				if f := cmd.Flags().Lookup(name); f != nil && f.Changed {
					if err := viper.BindPFlag(key, f); err != nil {
						return err
					}
				}
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := observability.GetLogger()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Search.TargetURL == "" {
				return fmt.Errorf("search.target_url is required (flag --target or config)")
			}

			task := search.Task{Origin: args[0], Destination: args[1]}
			if len(args) == 3 {
				task.Date = args[2]
			}

			orch, err := buildOrchestrator(cfg, logger)
			if err != nil {
				return err
			}
			pageFactory, err := newPageFactory(cfg, logger)
			if err != nil {
				return err
			}
			runner, err := search.NewRunner(cfg.Search, orch.coordinator, pageFactory, nil, logger)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			// The boundary must be reachable for the whole run so humans can
			// post resolutions for blocked minions.
			go func() {
				if err := orch.httpServer.ListenAndServe(); err != nil {
					logger.Error("HTTP boundary failed", zap.Error(err))
				}
			}()
			defer func() {
				if err := orch.httpServer.Shutdown(context.Background()); err != nil {
					logger.Warn("Graceful shutdown incomplete", zap.Error(err))
				}
			}()

			results, err := runner.Run(ctx, []search.Task{task})
			if err != nil {
				return err
			}

			failed := 0
			for _, res := range results {
				if res.Err != nil {
					failed++
					logger.Error("Search task failed",
						zap.String("minion_id", res.MinionID),
						zap.Error(res.Err))
					continue
				}
				logger.Info("Search task finished",
					zap.String("minion_id", res.MinionID),
					zap.String("final_url", res.FinalURL),
					zap.Bool("captcha_blocked", res.CaptchaBlocked))
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d search tasks failed", failed, len(results))
			}
			return nil
		},
	}

	searchCmd.Flags().String("target", "", "base URL of the flight-search site")
	searchCmd.Flags().Int("concurrency", 0, "maximum concurrent minions")
	searchCmd.Flags().String("mode", "", "captcha resolution mode (human or ai)")
	return searchCmd
}
