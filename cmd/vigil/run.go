package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/vigilops/vigil/internal/config"
	"github.com/vigilops/vigil/internal/monitor"
	"github.com/vigilops/vigil/internal/telemetry"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the monitoring daemon",
		Long: `Run monitoring cycles on the configured schedule until interrupted,
serving metrics and health endpoints. Edits to the rules file section
of the configuration are picked up without a restart.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return runDaemon(cfg)
		},
	}
}

func runDaemon(cfg *config.Config) error {
	logger := newLogger(cfg)
	metrics := telemetry.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d, err := buildDaemon(ctx, cfg, logger, metrics)
	if err != nil {
		return err
	}
	defer d.close()

	sched := monitor.NewScheduler(d.monitor, cfg.Monitor.Every(), cfg.Monitor.Schedule, logger)

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	srv := &http.Server{Addr: cfg.Telemetry.ListenAddr, Handler: mux}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sched.Run(gctx)
	})
	g.Go(func() error {
		logger.Info("telemetry listening", "addr", cfg.Telemetry.ListenAddr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("telemetry server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		watchConfig(gctx, d, logger)
		return nil
	})

	logger.Info("vigil started",
		"session_id", d.lifecycle.ID(),
		"cluster", cfg.Monitor.Cluster,
		"store", cfg.Store.Backend)

	err = g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if serr := d.lifecycle.Shutdown(shutdownCtx); serr != nil {
		logger.Error("shutdown save failed", "error", serr)
		if err == nil {
			err = serr
		}
	}
	logger.Info("vigil stopped")
	return err
}

// watchConfig applies configuration edits that are safe to pick up
// while running. Today that is the escalation rules; everything else
// needs a restart.
func watchConfig(ctx context.Context, d *daemon, logger *slog.Logger) {
	updates, err := config.Watch(ctx, configPath, logger)
	if err != nil {
		logger.Warn("config watch unavailable", "error", err)
		return
	}
	for next := range updates {
		rules, err := loadRules(next)
		if err != nil {
			logger.Warn("rules reload skipped", "error", err)
			continue
		}
		d.monitor.SetRules(rules)
		logger.Info("rules reloaded", "rules", len(rules))
	}
}
