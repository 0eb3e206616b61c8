// Package collect gathers the observations that make up a monitoring
// cycle. Each collector renders its findings as plain text; the daemon
// hands the combined report to the model as the cycle's user turn.
package collect

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Collector produces one section of a cycle report.
type Collector interface {
	Name() string
	Collect(ctx context.Context) (string, error)
}

// MultiCollector concatenates sections from several collectors. A
// failing collector contributes an error section instead of failing
// the whole cycle.
type MultiCollector struct {
	collectors []Collector
	logger     *slog.Logger
}

// NewMultiCollector combines collectors into one. A nil logger falls
// back to slog.Default().
func NewMultiCollector(logger *slog.Logger, collectors ...Collector) *MultiCollector {
	if logger == nil {
		logger = slog.Default()
	}
	return &MultiCollector{collectors: collectors, logger: logger}
}

func (c *MultiCollector) Name() string { return "multi" }

// Collect runs every collector in order and joins their sections.
func (c *MultiCollector) Collect(ctx context.Context) (string, error) {
	sections := make([]string, 0, len(c.collectors))
	for _, col := range c.collectors {
		text, err := col.Collect(ctx)
		if err != nil {
			c.logger.Warn("collector failed", "collector", col.Name(), "error", err)
			sections = append(sections, fmt.Sprintf("## %s\ncollection failed: %v", col.Name(), err))
			continue
		}
		sections = append(sections, fmt.Sprintf("## %s\n%s", col.Name(), text))
	}
	return strings.Join(sections, "\n\n"), nil
}
