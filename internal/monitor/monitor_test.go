package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/vigilops/vigil/internal/llm"
	"github.com/vigilops/vigil/internal/notify"
	"github.com/vigilops/vigil/internal/prune"
	"github.com/vigilops/vigil/internal/session"
	"github.com/vigilops/vigil/internal/telemetry"
)

type stubCollector struct {
	report string
	err    error
	calls  int
}

func (c *stubCollector) Name() string { return "stub" }

func (c *stubCollector) Collect(_ context.Context) (string, error) {
	c.calls++
	return c.report, c.err
}

type recordingNotifier struct {
	events   []notify.Event
	failures int
	calls    int
}

func (n *recordingNotifier) Notify(_ context.Context, ev notify.Event) error {
	n.calls++
	if n.calls <= n.failures {
		return fmt.Errorf("webhook unreachable")
	}
	n.events = append(n.events, ev)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func newTestLifecycle(t *testing.T, store session.Store) *session.Lifecycle {
	t.Helper()
	lc, err := session.NewLifecycle(session.LifecycleConfig{
		SessionID:    "sess_monitor_test",
		Store:        store,
		Pruner:       prune.NewPolicy(prune.PolicyConfig{}),
		SystemPrompt: "You are a monitoring agent.",
		SmartPrune:   true,
		Logger:       testLogger(),
	})
	if err != nil {
		t.Fatalf("NewLifecycle: %v", err)
	}
	if err := lc.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return lc
}

func scrape(t *testing.T, m *telemetry.Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	return rec.Body.String()
}

func TestCycleAppendsExchangeAndSaves(t *testing.T) {
	store := session.NewMemoryStore()
	lc := newTestLifecycle(t, store)
	client := llm.NewMockClient(llm.MockReply{Text: "All workloads healthy.", InputTokens: 120, OutputTokens: 14})
	col := &stubCollector{report: "## kubernetes\nSummary: 5/5 pods healthy, 2/2 nodes ready"}
	metrics := telemetry.NewMetrics()

	m, err := New(Config{
		Lifecycle: lc,
		Client:    client,
		Collector: col,
		Cluster:   "prod-eu",
		Logger:    testLogger(),
		Metrics:   metrics,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := m.Cycle(context.Background()); err != nil {
		t.Fatalf("Cycle: %v", err)
	}

	msgs := lc.Messages()
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3", len(msgs))
	}
	turn := msgs[1].Content
	for _, want := range []string{"Monitoring cycle 1", "on prod-eu", "5/5 pods healthy"} {
		if !strings.Contains(turn, want) {
			t.Errorf("user turn missing %q:\n%s", want, turn)
		}
	}
	if msgs[2].Content != "All workloads healthy." {
		t.Errorf("assistant message = %q", msgs[2].Content)
	}

	meta := lc.Meta()
	if meta.CycleCount != 1 {
		t.Errorf("cycle count = %d, want 1", meta.CycleCount)
	}
	if meta.InputTokens != 120 || meta.OutputTokens != 14 {
		t.Errorf("token counters = %d/%d, want 120/14", meta.InputTokens, meta.OutputTokens)
	}

	doc, err := store.Load(context.Background(), lc.ID())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if doc == nil || len(doc.History) != 3 {
		t.Fatalf("session was not persisted: %+v", doc)
	}

	calls := client.Calls()
	if len(calls) != 1 {
		t.Fatalf("got %d model calls, want 1", len(calls))
	}
	sent := calls[0]
	if sent[len(sent)-1].Role != session.RoleUser {
		t.Errorf("last sent message role = %q, want user", sent[len(sent)-1].Role)
	}

	body := scrape(t, metrics)
	for _, want := range []string{
		`vigil_cycles_total{status="ok"} 1`,
		`vigil_llm_tokens_total{direction="input"} 120`,
		"vigil_session_messages 3",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics missing %q", want)
		}
	}
}

func TestCycleModelErrorAbandonsCycle(t *testing.T) {
	store := session.NewMemoryStore()
	lc := newTestLifecycle(t, store)
	client := llm.NewMockClient(llm.MockReply{Error: errors.New("rate limited")})
	metrics := telemetry.NewMetrics()

	m, err := New(Config{
		Lifecycle: lc,
		Client:    client,
		Collector: &stubCollector{report: "report"},
		Logger:    testLogger(),
		Metrics:   metrics,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	err = m.Cycle(context.Background())
	if err == nil {
		t.Fatal("expected cycle error")
	}
	if !strings.Contains(err.Error(), "send:") {
		t.Errorf("error = %q, want send failure", err)
	}

	if got := len(lc.Messages()); got != 1 {
		t.Errorf("history grew to %d messages after failed send", got)
	}
	if lc.Meta().CycleCount != 0 {
		t.Errorf("cycle count = %d, want 0", lc.Meta().CycleCount)
	}
	doc, err := store.Load(context.Background(), lc.ID())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if doc != nil {
		t.Error("abandoned cycle was persisted")
	}
	if !strings.Contains(scrape(t, metrics), `vigil_cycles_total{status="llm_error"} 1`) {
		t.Error("llm_error cycle not counted")
	}
}

func TestCycleCollectErrorSkipsModel(t *testing.T) {
	lc := newTestLifecycle(t, session.NewMemoryStore())
	client := llm.NewMockClient(llm.MockReply{Text: "unused"})

	m, err := New(Config{
		Lifecycle: lc,
		Client:    client,
		Collector: &stubCollector{err: errors.New("connection refused")},
		Logger:    testLogger(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	err = m.Cycle(context.Background())
	if err == nil || !strings.Contains(err.Error(), "collect:") {
		t.Fatalf("error = %v, want collect failure", err)
	}
	if got := len(client.Calls()); got != 0 {
		t.Errorf("model called %d times after collect failure", got)
	}
}

func TestCycleEscalatesAndDebounces(t *testing.T) {
	lc := newTestLifecycle(t, session.NewMemoryStore())
	client := llm.NewMockClient(llm.MockReply{
		Text:         "CRITICAL: pod payments/worker-abc is in CrashLoopBackOff",
		InputTokens:  100,
		OutputTokens: 20,
	})
	notifier := &recordingNotifier{}

	m, err := New(Config{
		Lifecycle:      lc,
		Client:         client,
		Collector:      &stubCollector{report: "report"},
		Notifier:       notifier,
		Cluster:        "prod-eu",
		DebounceCycles: 3,
		Logger:         testLogger(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		if err := m.Cycle(ctx); err != nil {
			t.Fatalf("cycle %d: %v", i+1, err)
		}
	}
	if len(notifier.events) != 1 {
		t.Fatalf("got %d notifications over 4 cycles, want 1 (debounced)", len(notifier.events))
	}
	ev := notifier.events[0]
	if ev.Rule != "critical-reply" || ev.Cycle != 1 || ev.Cluster != "prod-eu" {
		t.Errorf("event = %+v", ev)
	}
	if !strings.Contains(ev.Summary, "CRITICAL") {
		t.Errorf("summary = %q, want reply excerpt", ev.Summary)
	}
	if lc.Meta().LastEscalation != "critical-reply" {
		t.Errorf("last escalation = %q", lc.Meta().LastEscalation)
	}

	// Cycle 5 is past the debounce window of cycle 1.
	if err := m.Cycle(ctx); err != nil {
		t.Fatalf("cycle 5: %v", err)
	}
	if len(notifier.events) != 2 {
		t.Fatalf("got %d notifications after 5 cycles, want 2", len(notifier.events))
	}
	if notifier.events[1].Cycle != 5 {
		t.Errorf("second notification cycle = %d, want 5", notifier.events[1].Cycle)
	}

	// The next user turn carries the escalation breadcrumb.
	calls := client.Calls()
	last := calls[len(calls)-1]
	turn := last[len(last)-1].Content
	if !strings.Contains(turn, "Last escalation: critical-reply") {
		t.Errorf("user turn missing escalation breadcrumb:\n%s", turn)
	}
}

func TestCycleRetriesNotificationNextCycle(t *testing.T) {
	lc := newTestLifecycle(t, session.NewMemoryStore())
	client := llm.NewMockClient(llm.MockReply{Text: "CRITICAL: disk pressure on node-2"})
	notifier := &recordingNotifier{failures: 1}

	m, err := New(Config{
		Lifecycle:      lc,
		Client:         client,
		Collector:      &stubCollector{report: "report"},
		Notifier:       notifier,
		DebounceCycles: 3,
		Logger:         testLogger(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()

	if err := m.Cycle(ctx); err != nil {
		t.Fatalf("cycle 1: %v", err)
	}
	if len(notifier.events) != 0 {
		t.Fatalf("notification delivered despite failure")
	}

	// Delivery failed, so the debounce window never opened.
	if err := m.Cycle(ctx); err != nil {
		t.Fatalf("cycle 2: %v", err)
	}
	if len(notifier.events) != 1 {
		t.Fatalf("got %d notifications, want redelivery on cycle 2", len(notifier.events))
	}
	if notifier.events[0].Cycle != 2 {
		t.Errorf("redelivered cycle = %d, want 2", notifier.events[0].Cycle)
	}
}

func TestCycleRuleEvalErrorIsNonFatal(t *testing.T) {
	lc := newTestLifecycle(t, session.NewMemoryStore())
	client := llm.NewMockClient(llm.MockReply{Text: "CRITICAL: api server flapping"})
	notifier := &recordingNotifier{}

	broken, err := CompileRule(RuleSpec{Name: "broken", Condition: "100 / (cycle - 1) > 2"})
	if err != nil {
		t.Fatalf("CompileRule: %v", err)
	}
	rules := append([]*Rule{broken}, DefaultRules()...)

	m, err := New(Config{
		Lifecycle: lc,
		Client:    client,
		Collector: &stubCollector{report: "report"},
		Notifier:  notifier,
		Rules:     rules,
		Logger:    testLogger(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := m.Cycle(context.Background()); err != nil {
		t.Fatalf("Cycle: %v", err)
	}
	if len(notifier.events) != 1 || notifier.events[0].Rule != "critical-reply" {
		t.Fatalf("rules after the broken one did not run: %+v", notifier.events)
	}
}

func TestCycleUsesRuleSummary(t *testing.T) {
	lc := newTestLifecycle(t, session.NewMemoryStore())
	client := llm.NewMockClient(llm.MockReply{Text: "CRITICAL: etcd quorum lost"})
	notifier := &recordingNotifier{}

	rule, err := CompileRule(RuleSpec{
		Name:      "critical-reply",
		Condition: "critical",
		Summary:   "model flagged the cluster critical",
	})
	if err != nil {
		t.Fatalf("CompileRule: %v", err)
	}

	m, err := New(Config{
		Lifecycle: lc,
		Client:    client,
		Collector: &stubCollector{report: "report"},
		Notifier:  notifier,
		Rules:     []*Rule{rule},
		Logger:    testLogger(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := m.Cycle(context.Background()); err != nil {
		t.Fatalf("Cycle: %v", err)
	}
	if len(notifier.events) != 1 {
		t.Fatalf("got %d notifications, want 1", len(notifier.events))
	}
	if got := notifier.events[0].Summary; got != "model flagged the cluster critical" {
		t.Errorf("summary = %q, want the rule's own summary", got)
	}
}

func TestNewRequiresCoreDependencies(t *testing.T) {
	lc := newTestLifecycle(t, session.NewMemoryStore())
	client := llm.NewMockClient()
	col := &stubCollector{}

	if _, err := New(Config{Client: client, Collector: col}); err == nil {
		t.Error("expected error for missing lifecycle")
	}
	if _, err := New(Config{Lifecycle: lc, Collector: col}); err == nil {
		t.Error("expected error for missing client")
	}
	if _, err := New(Config{Lifecycle: lc, Client: client}); err == nil {
		t.Error("expected error for missing collector")
	}
}

func TestReplyCritical(t *testing.T) {
	tests := []struct {
		reply string
		want  bool
	}{
		{"CRITICAL: pod down", true},
		{"All clear, nothing to report.", false},
		{"Observations follow.\nCRITICAL: node not ready", true},
		{"  CRITICAL after indentation", true},
		{"NONCRITICAL finding", false},
		{"critical but lowercase", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := replyCritical(tt.reply); got != tt.want {
			t.Errorf("replyCritical(%q) = %v, want %v", tt.reply, got, tt.want)
		}
	}
}

func TestContextPercentClamps(t *testing.T) {
	tests := []struct {
		est, max, want int
	}{
		{0, 10000, 0},
		{5000, 10000, 50},
		{10000, 10000, 100},
		{25000, 10000, 100},
		{100, 0, 0},
	}
	for _, tt := range tests {
		if got := contextPercent(tt.est, tt.max); got != tt.want {
			t.Errorf("contextPercent(%d, %d) = %d, want %d", tt.est, tt.max, got, tt.want)
		}
	}
}

type failingTestStore struct{}

func (failingTestStore) Save(context.Context, string, []session.Message, session.Metadata) error {
	return errors.New("backend down")
}

func (failingTestStore) Load(context.Context, string) (*session.Document, error) {
	return nil, errors.New("backend down")
}

func (failingTestStore) Delete(context.Context, string) (bool, error) {
	return false, errors.New("backend down")
}

func (failingTestStore) List(context.Context) ([]string, error) {
	return nil, errors.New("backend down")
}

func TestInstrumentStoreCountsFailures(t *testing.T) {
	metrics := telemetry.NewMetrics()
	store := InstrumentStore(failingTestStore{}, metrics)
	ctx := context.Background()

	if err := store.Save(ctx, "s", nil, session.Metadata{}); err == nil {
		t.Fatal("expected save error")
	}
	if _, err := store.Load(ctx, "s"); err == nil {
		t.Fatal("expected load error")
	}
	if _, err := store.Delete(ctx, "s"); err == nil {
		t.Fatal("expected delete error")
	}
	if _, err := store.List(ctx); err == nil {
		t.Fatal("expected list error")
	}

	body := scrape(t, metrics)
	for _, op := range []string{"save", "load", "delete", "list"} {
		want := fmt.Sprintf(`vigil_store_errors_total{op=%q} 1`, op)
		if !strings.Contains(body, want) {
			t.Errorf("metrics missing %q", want)
		}
	}
}

func TestInstrumentStorePassesThrough(t *testing.T) {
	metrics := telemetry.NewMetrics()
	store := InstrumentStore(session.NewMemoryStore(), metrics)
	ctx := context.Background()

	history := []session.Message{{Role: session.RoleSystem, Content: "anchor"}}
	if err := store.Save(ctx, "sess_pass", history, session.Metadata{CycleCount: 2}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	doc, err := store.Load(ctx, "sess_pass")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if doc == nil || doc.Meta.CycleCount != 2 {
		t.Fatalf("round trip lost data: %+v", doc)
	}
	ids, err := store.List(ctx)
	if err != nil || len(ids) != 1 {
		t.Fatalf("List = %v, %v", ids, err)
	}
	removed, err := store.Delete(ctx, "sess_pass")
	if err != nil || !removed {
		t.Fatalf("Delete = %v, %v", removed, err)
	}
	if strings.Contains(scrape(t, metrics), "vigil_store_errors_total") {
		t.Error("error counter moved on successful operations")
	}
}
