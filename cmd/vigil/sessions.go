package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/vigilops/vigil/internal/config"
	"github.com/vigilops/vigil/internal/monitor"
	"github.com/vigilops/vigil/internal/prune"
	"github.com/vigilops/vigil/internal/session"
)

func newSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect and manage persisted sessions",
	}

	cmd.AddCommand(newSessionsListCmd())
	cmd.AddCommand(newSessionsShowCmd())
	cmd.AddCommand(newSessionsStatsCmd())
	cmd.AddCommand(newSessionsDeleteCmd())
	cmd.AddCommand(newSessionsCleanupCmd())

	return cmd
}

// openStore builds the configured store for one CLI invocation. The
// caller closes the returned daemon when done.
func openStore(ctx context.Context) (*config.Config, session.Store, *daemon, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, err
	}
	d := &daemon{logger: newLogger(cfg)}
	store, err := buildStore(ctx, cfg, d)
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, store, d, nil
}

func newSessionsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List persisted sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, store, d, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer d.close()

			ids, err := store.List(ctx)
			if err != nil {
				return fmt.Errorf("listing sessions: %w", err)
			}
			if len(ids) == 0 {
				fmt.Println("No sessions found.")
				return nil
			}

			est := prune.CharEstimator{}
			fmt.Printf("%-30s %6s %7s %8s %8s  %s\n", "SESSION", "MSGS", "CYCLES", "TOKENS", "CONTEXT", "SAVED")
			fmt.Println(strings.Repeat("-", 90))
			for _, id := range ids {
				doc, err := store.Load(ctx, id)
				if err != nil {
					return fmt.Errorf("loading %s: %w", id, err)
				}
				if doc == nil {
					fmt.Printf("%-30s (unreadable)\n", id)
					continue
				}
				st := session.ComputeStats(doc, est.Estimate(doc.History), cfg.Session.MaxTokens)
				fmt.Printf("%-30s %6d %7d %8d %7.1f%%  %s\n",
					st.SessionID, st.MessageCount, st.CycleCount, st.EstimatedTokens,
					st.ContextPercent, st.SavedAt.Format(time.RFC3339))
			}
			return nil
		},
	}
}

func newSessionsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <session-id>",
		Short: "Print a session's full history and metadata as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			_, store, d, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer d.close()

			doc, err := store.Load(ctx, args[0])
			if err != nil {
				return fmt.Errorf("loading %s: %w", args[0], err)
			}
			if doc == nil {
				return fmt.Errorf("session %q not found", args[0])
			}

			data, err := json.MarshalIndent(doc, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		},
	}
}

func newSessionsStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats <session-id>",
		Short: "Print summary statistics for a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, store, d, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer d.close()

			doc, err := store.Load(ctx, args[0])
			if err != nil {
				return fmt.Errorf("loading %s: %w", args[0], err)
			}
			if doc == nil {
				return fmt.Errorf("session %q not found", args[0])
			}

			est := prune.CharEstimator{}
			st := session.ComputeStats(doc, est.Estimate(doc.History), cfg.Session.MaxTokens)
			data, err := json.MarshalIndent(st, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		},
	}
}

func newSessionsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <session-id>",
		Short: "Delete a persisted session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			_, store, d, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer d.close()

			removed, err := store.Delete(ctx, args[0])
			if err != nil {
				return fmt.Errorf("deleting %s: %w", args[0], err)
			}
			if !removed {
				return fmt.Errorf("session %q not found", args[0])
			}
			fmt.Printf("Deleted session %s\n", args[0])
			return nil
		},
	}
}

func newSessionsCleanupCmd() *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete sessions not saved within a retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, store, d, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer d.close()

			removed, err := monitor.CleanupOlderThan(ctx, store, olderThan, cfg.Session.ID, d.logger)
			if err != nil {
				return err
			}
			if len(removed) == 0 {
				fmt.Println("Nothing to clean up.")
				return nil
			}
			for _, id := range removed {
				fmt.Printf("Deleted session %s\n", id)
			}
			fmt.Printf("%d sessions removed.\n", len(removed))
			return nil
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "Delete sessions whose last save is older than this")

	return cmd
}
