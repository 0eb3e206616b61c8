package telemetry

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"time"
)

// Span records one timed operation inside a monitoring cycle.
type Span struct {
	TraceID   string            `json:"trace_id"`
	SpanID    string            `json:"span_id"`
	ParentID  string            `json:"parent_id,omitempty"`
	Operation string            `json:"operation"`
	StartTime time.Time         `json:"start_time"`
	EndTime   time.Time         `json:"end_time,omitempty"`
	Duration  time.Duration     `json:"duration_ms,omitempty"`
	Status    string            `json:"status"`
	Tags      map[string]string `json:"tags,omitempty"`
}

// SpanExporter receives completed spans.
type SpanExporter interface {
	ExportSpan(span Span)
}

// SpanExporterFunc is a function adapter for SpanExporter.
type SpanExporterFunc func(span Span)

// ExportSpan calls the function.
func (f SpanExporterFunc) ExportSpan(span Span) { f(span) }

// LogExporter writes completed spans to a logger at debug level.
func LogExporter(logger *slog.Logger) SpanExporter {
	return SpanExporterFunc(func(span Span) {
		attrs := []any{
			"trace_id", span.TraceID,
			"operation", span.Operation,
			"duration_ms", span.Duration.Milliseconds(),
			"status", span.Status,
		}
		for k, v := range span.Tags {
			attrs = append(attrs, k, v)
		}
		logger.Debug("span", attrs...)
	})
}

// Tracer creates and manages spans. A nil Exporter discards them.
type Tracer struct {
	Exporter SpanExporter
}

// NewTracer creates a tracer with an optional exporter.
func NewTracer(exporter SpanExporter) *Tracer {
	return &Tracer{Exporter: exporter}
}

type traceContextKey struct{}

// StartSpan creates a span and adds it to the context. A span started
// under another span inherits its trace ID.
func (t *Tracer) StartSpan(ctx context.Context, operation string, tags map[string]string) (context.Context, *Span) {
	span := &Span{
		TraceID:   newSpanID(),
		SpanID:    newSpanID(),
		Operation: operation,
		StartTime: time.Now(),
		Status:    "ok",
		Tags:      tags,
	}

	if parent, ok := ctx.Value(traceContextKey{}).(*Span); ok {
		span.TraceID = parent.TraceID
		span.ParentID = parent.SpanID
	}

	return context.WithValue(ctx, traceContextKey{}, span), span
}

// EndSpan completes a span and exports it.
func (t *Tracer) EndSpan(span *Span, status string) {
	span.EndTime = time.Now()
	span.Duration = span.EndTime.Sub(span.StartTime)
	if status != "" {
		span.Status = status
	}
	if t.Exporter != nil {
		t.Exporter.ExportSpan(*span)
	}
}

func newSpanID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
