package integration_tests

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/vigilops/vigil/internal/llm"
	"github.com/vigilops/vigil/internal/monitor"
	"github.com/vigilops/vigil/internal/notify"
)

type captureNotifier struct {
	events []notify.Event
}

func (n *captureNotifier) Notify(_ context.Context, ev notify.Event) error {
	n.events = append(n.events, ev)
	return nil
}

func TestEscalationFlowWithRulesFile(t *testing.T) {
	rulesPath := filepath.Join(t.TempDir(), "rules.yaml")
	rulesYAML := []byte(`rules:
  - name: oom-killed
    condition: reply contains "OOMKilled"
    summary: workload killed by the OOM killer
`)
	if err := os.WriteFile(rulesPath, rulesYAML, 0o644); err != nil {
		t.Fatalf("writing rules file: %v", err)
	}
	rules, err := monitor.LoadRules(rulesPath)
	if err != nil {
		t.Fatalf("LoadRules: %v", err)
	}

	client := llm.NewMockClient(
		llm.MockReply{Text: "All clear."},
		llm.MockReply{Text: "CRITICAL: OOMKilled pod payments/worker-1"},
		llm.MockReply{Text: "CRITICAL: OOMKilled pod payments/worker-1, still restarting"},
	)
	notifier := &captureNotifier{}
	p := buildPipeline(t, baseConfig, pipelineOptions{
		client:   client,
		notifier: notifier,
		rules:    rules,
	})

	// Quiet cycle, fire, then two debounced repeats, then refire.
	runCycles(t, p.monitor, 5)

	if len(notifier.events) != 2 {
		t.Fatalf("got %d notifications over 5 cycles, want 2", len(notifier.events))
	}
	first, second := notifier.events[0], notifier.events[1]
	if first.Rule != "oom-killed" || first.Cycle != 2 {
		t.Errorf("first event = %+v, want oom-killed at cycle 2", first)
	}
	if second.Cycle != 5 {
		t.Errorf("second event fired at cycle %d, want 5 (debounce window of 2)", second.Cycle)
	}
	if first.Summary != "workload killed by the OOM killer" {
		t.Errorf("summary = %q, want the rule's summary", first.Summary)
	}
	if first.Cluster != "prod-eu" || first.SessionID != "sess_integration" {
		t.Errorf("event context = %+v", first)
	}

	if got := p.lifecycle.Meta().LastEscalation; got != "oom-killed" {
		t.Errorf("last escalation = %q, want oom-killed", got)
	}

	// The cycle after the escalation tells the model about it.
	calls := client.Calls()
	cycle3 := calls[2]
	turn := cycle3[len(cycle3)-1].Content
	if !strings.Contains(turn, "Last escalation: oom-killed") {
		t.Errorf("cycle 3 turn missing escalation breadcrumb:\n%s", turn)
	}

	body := scrapeMetrics(t, p.metrics)
	if !strings.Contains(body, `vigil_escalations_total{rule="oom-killed"} 2`) {
		t.Errorf("escalation counter wrong:\n%s", body)
	}
}
