// Package notify delivers escalation events raised by the monitor.
package notify

import (
	"context"
	"log/slog"
)

// Event describes a fired escalation rule.
type Event struct {
	Rule      string `json:"rule"`
	Summary   string `json:"summary"`
	SessionID string `json:"session_id"`
	Cluster   string `json:"cluster,omitempty"`
	Cycle     int    `json:"cycle"`
}

// Notifier delivers events to an external channel.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// LogNotifier writes events to the log. It is the fallback when no
// webhook is configured.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a notifier on the given logger. A nil logger
// falls back to slog.Default().
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(_ context.Context, ev Event) error {
	n.logger.Warn("escalation",
		"rule", ev.Rule,
		"session_id", ev.SessionID,
		"cluster", ev.Cluster,
		"cycle", ev.Cycle,
		"summary", ev.Summary)
	return nil
}
