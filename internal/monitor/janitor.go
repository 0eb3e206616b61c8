package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vigilops/vigil/internal/session"
)

// CleanupOlderThan deletes persisted sessions whose last save is older
// than maxAge. The session named by keep is never touched, so a live
// session survives its own janitor. Documents that cannot be read back
// count as stale and are removed too. Returns the IDs deleted.
func CleanupOlderThan(ctx context.Context, store session.Store, maxAge time.Duration, keep string, logger *slog.Logger) ([]string, error) {
	if logger == nil {
		logger = slog.Default()
	}

	ids, err := store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}

	cutoff := time.Now().UTC().Add(-maxAge)
	var removed []string
	for _, id := range ids {
		if id == keep {
			continue
		}
		doc, err := store.Load(ctx, id)
		if err != nil {
			logger.Warn("skipping session, load failed", "session_id", id, "error", err)
			continue
		}
		if doc != nil && !doc.SavedAt.Before(cutoff) {
			continue
		}
		if doc == nil {
			logger.Info("removing unreadable session", "session_id", id)
		}
		if _, err := store.Delete(ctx, id); err != nil {
			logger.Warn("delete failed", "session_id", id, "error", err)
			continue
		}
		removed = append(removed, id)
	}
	return removed, nil
}
