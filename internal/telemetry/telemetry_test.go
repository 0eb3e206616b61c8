package telemetry

import (
	"context"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestMetricsExposition(t *testing.T) {
	m := NewMetrics()
	m.RecordCycle("ok", 1200*time.Millisecond, 900, 120)
	m.RecordCycle("llm_error", 80*time.Millisecond, 0, 0)
	m.RecordSession(41, 5200, 52)
	m.RecordPrune("smart", 12)
	m.RecordEscalation("critical-in-reply")
	m.RecordStoreError("save")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()

	for _, want := range []string{
		`vigil_cycles_total{status="ok"} 1`,
		`vigil_cycles_total{status="llm_error"} 1`,
		`vigil_cycle_duration_seconds_count 2`,
		`vigil_llm_tokens_total{direction="input"} 900`,
		`vigil_llm_tokens_total{direction="output"} 120`,
		`vigil_session_messages 41`,
		`vigil_session_estimated_tokens 5200`,
		`vigil_session_context_percent 52`,
		`vigil_prunes_total{strategy="smart"} 1`,
		`vigil_messages_pruned_total 12`,
		`vigil_escalations_total{rule="critical-in-reply"} 1`,
		`vigil_store_errors_total{op="save"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}

func TestMetricsRegistriesAreIndependent(t *testing.T) {
	a := NewMetrics()
	b := NewMetrics()
	a.RecordEscalation("r")

	rec := httptest.NewRecorder()
	b.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if strings.Contains(rec.Body.String(), `vigil_escalations_total{rule="r"}`) {
		t.Error("expected series recorded on one registry to stay off the other")
	}
}

func TestTracerSpanNesting(t *testing.T) {
	var exported []Span
	tracer := NewTracer(SpanExporterFunc(func(s Span) { exported = append(exported, s) }))

	ctx, cycle := tracer.StartSpan(context.Background(), "cycle", CycleTags("sess_x", 3))
	_, send := tracer.StartSpan(ctx, "send", nil)

	if send.TraceID != cycle.TraceID {
		t.Errorf("child TraceID = %q, want parent's %q", send.TraceID, cycle.TraceID)
	}
	if send.ParentID != cycle.SpanID {
		t.Errorf("child ParentID = %q, want parent span %q", send.ParentID, cycle.SpanID)
	}

	tracer.EndSpan(send, "")
	tracer.EndSpan(cycle, "error")

	if len(exported) != 2 {
		t.Fatalf("expected 2 exported spans, got %d", len(exported))
	}
	if exported[0].Status != "ok" {
		t.Errorf("expected default status ok, got %q", exported[0].Status)
	}
	if exported[1].Status != "error" {
		t.Errorf("expected overridden status error, got %q", exported[1].Status)
	}
	if exported[1].Tags["cycle"] != "3" {
		t.Errorf("expected cycle tag carried through, got %v", exported[1].Tags)
	}
}

func TestTracerNilExporterDiscards(t *testing.T) {
	tracer := NewTracer(nil)
	_, span := tracer.StartSpan(context.Background(), "cycle", nil)
	tracer.EndSpan(span, "")

	if span.Duration < 0 {
		t.Errorf("expected non-negative duration, got %v", span.Duration)
	}
}

func TestCycleLoggerCarriesCorrelationID(t *testing.T) {
	var buf strings.Builder
	logger := NewLogger(&buf, slog.LevelDebug)

	ctx := WithCorrelationID(context.Background(), "abc123")
	CycleLogger(logger, ctx, "sess_x", 7).Info("cycle complete")

	out := buf.String()
	for _, want := range []string{`"session_id":"sess_x"`, `"cycle":7`, `"correlation_id":"abc123"`} {
		if !strings.Contains(out, want) {
			t.Errorf("log line missing %s:\n%s", want, out)
		}
	}
}

func TestWithCorrelationIDGenerates(t *testing.T) {
	ctx := WithCorrelationID(context.Background(), "")
	if CorrelationID(ctx) == "" {
		t.Error("expected a generated correlation ID")
	}
}

func TestParseLevel(t *testing.T) {
	level, err := ParseLevel("warn")
	if err != nil {
		t.Fatalf("ParseLevel returned unexpected error: %v", err)
	}
	if level != slog.LevelWarn {
		t.Errorf("ParseLevel(warn) = %v, want %v", level, slog.LevelWarn)
	}
	if _, err := ParseLevel("verbose"); err == nil {
		t.Error("expected error for an unknown level name")
	}
}
