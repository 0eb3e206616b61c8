package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// State tracks where a session is in its lifecycle.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateReady         State = "ready"
	StateTerminated    State = "terminated"
)

// Pruner reduces conversation history when it grows past budget.
type Pruner interface {
	// ShouldPrune reports whether msgs needs pruning.
	ShouldPrune(msgs []Message) bool

	// BasicPrune drops oldest non-anchor messages to fit budget.
	BasicPrune(msgs []Message) []Message

	// SmartPrune keeps the anchor, recent tail, and critical messages.
	SmartPrune(msgs []Message) []Message
}

// Usage counts tokens consumed by a single LLM exchange.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
}

// LifecycleConfig configures a session lifecycle.
type LifecycleConfig struct {
	// SessionID is the stable identity of the session. Required.
	SessionID string

	// Store persists the session across restarts. Required.
	Store Store

	// Pruner keeps the history within budget. Required.
	Pruner Pruner

	// SystemPrompt seeds the conversation on first run. Recovered
	// sessions keep their stored anchor instead.
	SystemPrompt string

	// SmartPrune applies keyword-aware pruning before falling back
	// to the basic strategy.
	SmartPrune bool

	// OnPrune, when set, is called after each prune with the strategy
	// applied ("smart", "basic", or "smart+basic") and the message
	// counts before and after.
	OnPrune func(strategy string, before, after int)

	Logger *slog.Logger
}

// Lifecycle owns one session's in-memory conversation and drives it
// through initialize, per-cycle updates, and shutdown. It assumes a
// single writer: one Lifecycle per session ID, not safe for concurrent
// use.
type Lifecycle struct {
	id      string
	store   Store
	pruner  Pruner
	system  string
	smart   bool
	onPrune func(strategy string, before, after int)
	logger  *slog.Logger

	state    State
	messages []Message
	meta     Metadata
}

// NewLifecycle creates a lifecycle in the uninitialized state.
func NewLifecycle(cfg LifecycleConfig) (*Lifecycle, error) {
	if cfg.SessionID == "" {
		return nil, fmt.Errorf("lifecycle: session ID is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("lifecycle: store is required")
	}
	if cfg.Pruner == nil {
		return nil, fmt.Errorf("lifecycle: pruner is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Lifecycle{
		id:      cfg.SessionID,
		store:   cfg.Store,
		pruner:  cfg.Pruner,
		system:  cfg.SystemPrompt,
		smart:   cfg.SmartPrune,
		onPrune: cfg.OnPrune,
		logger:  logger.With("session_id", cfg.SessionID),
		state:   StateUninitialized,
	}, nil
}

// Initialize loads the persisted session if one exists, otherwise
// starts a fresh conversation seeded with the system prompt. A failed
// or corrupt load falls back to fresh: recovery must never be fatal.
func (l *Lifecycle) Initialize(ctx context.Context) error {
	if l.state != StateUninitialized {
		return fmt.Errorf("initialize: session is %s", l.state)
	}

	doc, err := l.store.Load(ctx, l.id)
	if err != nil {
		l.logger.Warn("session load failed, starting fresh", "error", err)
		doc = nil
	}

	if doc != nil && historyValid(doc.History) {
		l.messages = doc.History
		l.meta = doc.Meta
		l.state = StateReady
		l.logger.Info("session recovered",
			"messages", len(l.messages),
			"cycles", l.meta.CycleCount,
			"saved_at", doc.SavedAt)
		return nil
	}
	if doc != nil {
		l.logger.Warn("saved session has invalid history, starting fresh")
	}

	l.messages = nil
	l.meta = Metadata{}
	if l.system != "" {
		l.messages = append(l.messages, Message{Role: RoleSystem, Content: l.system})
	}
	l.state = StateReady
	l.logger.Info("session initialized")
	return nil
}

// RunCycle appends one completed monitoring exchange to the history,
// updates counters, prunes if the conversation is over budget, and
// persists. A failed save is logged and swallowed so a flaky store
// cannot kill the monitoring loop; the shutdown save surfaces errors.
func (l *Lifecycle) RunCycle(ctx context.Context, userContent, assistantContent string, usage Usage) error {
	if l.state != StateReady {
		return fmt.Errorf("run cycle: session is %s", l.state)
	}

	l.messages = append(l.messages,
		Message{Role: RoleUser, Content: userContent},
		Message{Role: RoleAssistant, Content: assistantContent},
	)
	l.meta.CycleCount++
	l.meta.InputTokens += usage.InputTokens
	l.meta.OutputTokens += usage.OutputTokens
	l.meta.LastCycleAt = time.Now().UTC()

	l.prune()

	if err := l.store.Save(ctx, l.id, l.messages, l.meta); err != nil {
		l.logger.Error("session save failed", "error", err, "cycle", l.meta.CycleCount)
	}
	return nil
}

func (l *Lifecycle) prune() {
	if !l.pruner.ShouldPrune(l.messages) {
		return
	}

	before := len(l.messages)
	var strategy string
	if l.smart {
		l.messages = l.pruner.SmartPrune(l.messages)
		strategy = "smart"
	}
	if l.pruner.ShouldPrune(l.messages) {
		l.messages = l.pruner.BasicPrune(l.messages)
		if strategy == "" {
			strategy = "basic"
		} else {
			strategy += "+basic"
		}
	}

	l.logger.Info("history pruned",
		"strategy", strategy,
		"before", before,
		"after", len(l.messages))
	if l.onPrune != nil {
		l.onPrune(strategy, before, len(l.messages))
	}
}

// Shutdown performs the final save and terminates the session. The
// session is terminated even when the save fails; the error is
// returned so callers can alert on lost state.
func (l *Lifecycle) Shutdown(ctx context.Context) error {
	if l.state != StateReady {
		return fmt.Errorf("shutdown: session is %s", l.state)
	}

	err := l.store.Save(ctx, l.id, l.messages, l.meta)
	l.state = StateTerminated
	if err != nil {
		return fmt.Errorf("final save: %w", err)
	}
	l.logger.Info("session shutdown", "cycles", l.meta.CycleCount, "messages", len(l.messages))
	return nil
}

// ID returns the session ID.
func (l *Lifecycle) ID() string { return l.id }

// State returns the current lifecycle state.
func (l *Lifecycle) State() State { return l.state }

// Messages returns a copy of the current conversation history.
func (l *Lifecycle) Messages() []Message {
	return append([]Message(nil), l.messages...)
}

// Meta returns a copy of the current session metadata.
func (l *Lifecycle) Meta() Metadata { return l.meta.Clone() }

// SetMetaExtra records an extension value in the session metadata. It
// is persisted with the next save.
func (l *Lifecycle) SetMetaExtra(key string, value any) {
	if l.meta.Extra == nil {
		l.meta.Extra = make(map[string]any)
	}
	l.meta.Extra[key] = value
}

// NoteEscalation records the most recent escalation rule in metadata.
func (l *Lifecycle) NoteEscalation(rule string) {
	l.meta.LastEscalation = rule
}

// SetCluster records which cluster this session observes.
func (l *Lifecycle) SetCluster(cluster string) {
	l.meta.Cluster = cluster
}

func historyValid(msgs []Message) bool {
	for _, m := range msgs {
		if !m.Role.Valid() {
			return false
		}
	}
	return true
}
