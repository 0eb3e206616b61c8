package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/vigilops/vigil/internal/collect"
	"github.com/vigilops/vigil/internal/llm"
	"github.com/vigilops/vigil/internal/notify"
	"github.com/vigilops/vigil/internal/prune"
	"github.com/vigilops/vigil/internal/session"
	"github.com/vigilops/vigil/internal/telemetry"
)

const defaultDebounceCycles = 3

// Config wires a Monitor together.
type Config struct {
	// Lifecycle owns the conversation session. Required, initialized.
	Lifecycle *session.Lifecycle

	// Client analyzes each cycle's report. Required.
	Client llm.Client

	// Collector produces the cycle report. Required.
	Collector collect.Collector

	// Rules are the compiled escalation rules. Defaults to
	// DefaultRules().
	Rules []*Rule

	// Notifier delivers fired escalations. Defaults to a LogNotifier.
	Notifier notify.Notifier

	// Estimator sizes the conversation for gauges and rule conditions.
	// Defaults to the character heuristic.
	Estimator session.Estimator

	// MaxTokens is the context budget used for percentage gauges.
	MaxTokens int

	// Cluster names the cluster under observation.
	Cluster string

	// DebounceCycles suppresses repeat notifications from the same
	// rule for this many cycles.
	DebounceCycles int

	Logger  *slog.Logger
	Metrics *telemetry.Metrics
	Tracer  *telemetry.Tracer
}

// Monitor runs monitoring cycles: collect a report, have the model
// read it in session context, evaluate escalation rules, notify.
type Monitor struct {
	lifecycle *session.Lifecycle
	client    llm.Client
	collector collect.Collector
	notifier  notify.Notifier
	est       session.Estimator
	maxTokens int
	cluster   string
	debounce  int
	logger    *slog.Logger
	metrics   *telemetry.Metrics
	tracer    *telemetry.Tracer

	// rulesMu guards rules, which config reload swaps at runtime.
	rulesMu sync.RWMutex
	rules   []*Rule

	// lastNotified maps rule name to the cycle that last notified.
	lastNotified map[string]int
}

// New creates a Monitor.
func New(cfg Config) (*Monitor, error) {
	if cfg.Lifecycle == nil {
		return nil, fmt.Errorf("monitor: lifecycle is required")
	}
	if cfg.Client == nil {
		return nil, fmt.Errorf("monitor: llm client is required")
	}
	if cfg.Collector == nil {
		return nil, fmt.Errorf("monitor: collector is required")
	}

	m := &Monitor{
		lifecycle:    cfg.Lifecycle,
		client:       cfg.Client,
		collector:    cfg.Collector,
		rules:        cfg.Rules,
		notifier:     cfg.Notifier,
		est:          cfg.Estimator,
		maxTokens:    cfg.MaxTokens,
		cluster:      cfg.Cluster,
		debounce:     cfg.DebounceCycles,
		logger:       cfg.Logger,
		metrics:      cfg.Metrics,
		tracer:       cfg.Tracer,
		lastNotified: make(map[string]int),
	}
	if m.rules == nil {
		m.rules = DefaultRules()
	}
	if m.notifier == nil {
		m.notifier = notify.NewLogNotifier(cfg.Logger)
	}
	if m.est == nil {
		m.est = prune.CharEstimator{}
	}
	if m.maxTokens <= 0 {
		m.maxTokens = prune.DefaultMaxTokens
	}
	if m.debounce <= 0 {
		m.debounce = defaultDebounceCycles
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	if m.metrics == nil {
		m.metrics = telemetry.NewMetrics()
	}
	if m.tracer == nil {
		m.tracer = telemetry.NewTracer(nil)
	}
	return m, nil
}

// SetRules replaces the escalation rules. Safe to call while cycles
// are running.
func (m *Monitor) SetRules(rules []*Rule) {
	if rules == nil {
		rules = DefaultRules()
	}
	m.rulesMu.Lock()
	m.rules = rules
	m.rulesMu.Unlock()
}

func (m *Monitor) currentRules() []*Rule {
	m.rulesMu.RLock()
	defer m.rulesMu.RUnlock()
	return m.rules
}

// Cycle runs one monitoring cycle. A failed model call abandons the
// cycle: nothing is appended to the session and nothing is saved.
func (m *Monitor) Cycle(ctx context.Context) error {
	start := time.Now()
	ctx = telemetry.WithCorrelationID(ctx, "")

	cycleNum := m.lifecycle.Meta().CycleCount + 1
	logger := telemetry.CycleLogger(m.logger, ctx, m.lifecycle.ID(), cycleNum)
	ctx, span := m.tracer.StartSpan(ctx, "cycle", telemetry.CycleTags(m.lifecycle.ID(), cycleNum))

	_, cspan := m.tracer.StartSpan(ctx, "collect", telemetry.CollectTags(m.collector.Name()))
	report, err := m.collector.Collect(ctx)
	if err != nil {
		m.tracer.EndSpan(cspan, "error")
		m.tracer.EndSpan(span, "error")
		m.metrics.RecordCycle("collect_error", time.Since(start), 0, 0)
		return fmt.Errorf("collect: %w", err)
	}
	m.tracer.EndSpan(cspan, "")

	turn := m.composeTurn(cycleNum, report)
	history := append(m.lifecycle.Messages(), session.Message{Role: session.RoleUser, Content: turn})

	_, sspan := m.tracer.StartSpan(ctx, "send", nil)
	reply, err := m.client.Send(ctx, history)
	if err != nil {
		m.tracer.EndSpan(sspan, "error")
		m.tracer.EndSpan(span, "error")
		m.metrics.RecordCycle("llm_error", time.Since(start), 0, 0)
		return fmt.Errorf("send: %w", err)
	}
	sspan.Tags = telemetry.SendTags(reply.InputTokens, reply.OutputTokens)
	m.tracer.EndSpan(sspan, "")

	usage := session.Usage{
		InputTokens:  int64(reply.InputTokens),
		OutputTokens: int64(reply.OutputTokens),
	}
	if err := m.lifecycle.RunCycle(ctx, turn, reply.Text, usage); err != nil {
		m.tracer.EndSpan(span, "error")
		m.metrics.RecordCycle("session_error", time.Since(start), reply.InputTokens, reply.OutputTokens)
		return fmt.Errorf("run cycle: %w", err)
	}

	msgs := m.lifecycle.Messages()
	est := m.est.Estimate(msgs)
	percent := contextPercent(est, m.maxTokens)
	m.metrics.RecordSession(len(msgs), est, percent)

	env := RuleEnv{
		Reply:           reply.Text,
		Report:          report,
		Cycle:           cycleNum,
		Critical:        replyCritical(reply.Text),
		EstimatedTokens: est,
		ContextPercent:  percent,
	}
	m.evaluateRules(ctx, logger, env)

	m.metrics.RecordCycle("ok", time.Since(start), reply.InputTokens, reply.OutputTokens)
	m.tracer.EndSpan(span, "")
	logger.Info("cycle complete",
		"estimated_tokens", est,
		"context_percent", percent,
		"critical", env.Critical,
		"duration_ms", time.Since(start).Milliseconds())
	return nil
}

// composeTurn builds the cycle's user message: a header the model can
// anchor on, then the report.
func (m *Monitor) composeTurn(cycle int, report string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Monitoring cycle %d", cycle)
	if m.cluster != "" {
		fmt.Fprintf(&b, " on %s", m.cluster)
	}
	fmt.Fprintf(&b, " at %s", time.Now().UTC().Format(time.RFC3339))
	if esc := m.lifecycle.Meta().LastEscalation; esc != "" {
		fmt.Fprintf(&b, "\nLast escalation: %s", esc)
	}
	fmt.Fprintf(&b, "\n\n%s", report)
	return b.String()
}

func (m *Monitor) evaluateRules(ctx context.Context, logger *slog.Logger, env RuleEnv) {
	for _, rule := range m.currentRules() {
		_, rspan := m.tracer.StartSpan(ctx, "rule", nil)
		fired, err := rule.Eval(env)
		rspan.Tags = telemetry.RuleTags(rule.Name, fired)
		if err != nil {
			m.tracer.EndSpan(rspan, "error")
			logger.Warn("rule evaluation failed", "rule", rule.Name, "error", err)
			continue
		}
		m.tracer.EndSpan(rspan, "")
		if !fired {
			continue
		}

		if last, ok := m.lastNotified[rule.Name]; ok && env.Cycle-last <= m.debounce {
			logger.Debug("escalation debounced", "rule", rule.Name, "last_notified_cycle", last)
			continue
		}

		m.lifecycle.NoteEscalation(rule.Name)
		ev := notify.Event{
			Rule:      rule.Name,
			Summary:   summaryFor(rule, env.Reply),
			SessionID: m.lifecycle.ID(),
			Cluster:   m.cluster,
			Cycle:     env.Cycle,
		}
		if err := m.notifier.Notify(ctx, ev); err != nil {
			logger.Error("notification failed", "rule", rule.Name, "error", err)
			continue
		}
		m.lastNotified[rule.Name] = env.Cycle
		m.metrics.RecordEscalation(rule.Name)
		logger.Warn("escalation notified", "rule", rule.Name)
	}
}

// replyCritical reports whether any line of the reply leads with the
// CRITICAL marker the system prompt asks for.
func replyCritical(reply string) bool {
	for _, line := range strings.Split(reply, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "CRITICAL") {
			return true
		}
	}
	return false
}

func summaryFor(rule *Rule, reply string) string {
	if rule.Summary != "" {
		return rule.Summary
	}
	const maxSummary = 200
	reply = strings.TrimSpace(reply)
	if len(reply) > maxSummary {
		return reply[:maxSummary] + "…"
	}
	return reply
}

func contextPercent(estimated, maxTokens int) int {
	if maxTokens <= 0 {
		return 0
	}
	percent := estimated * 100 / maxTokens
	if percent < 0 {
		return 0
	}
	if percent > 100 {
		return 100
	}
	return percent
}
