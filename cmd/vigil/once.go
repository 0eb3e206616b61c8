package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vigilops/vigil/internal/config"
	"github.com/vigilops/vigil/internal/session"
	"github.com/vigilops/vigil/internal/telemetry"
)

func newOnceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "once",
		Short: "Run a single monitoring cycle and exit",
		Long:  "One-shot cycle: collect, send to the model in session context, evaluate rules, save, print the assessment.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			logger := newLogger(cfg)
			metrics := telemetry.NewMetrics()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			d, err := buildDaemon(ctx, cfg, logger, metrics)
			if err != nil {
				return err
			}
			defer d.close()

			cycleErr := d.monitor.Cycle(ctx)

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := d.lifecycle.Shutdown(shutdownCtx); err != nil {
				logger.Error("shutdown save failed", "error", err)
				if cycleErr == nil {
					cycleErr = err
				}
			}
			if cycleErr != nil {
				return cycleErr
			}

			msgs := d.lifecycle.Messages()
			if n := len(msgs); n > 0 && msgs[n-1].Role == session.RoleAssistant {
				fmt.Println(msgs[n-1].Content)
			}
			return nil
		},
	}
}
