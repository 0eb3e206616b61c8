package collect

import "context"

// StaticCollector returns fixed text. Useful for tests and dry runs.
type StaticCollector struct {
	name string
	text string
}

// NewStaticCollector creates a collector that always reports text.
func NewStaticCollector(name, text string) *StaticCollector {
	return &StaticCollector{name: name, text: text}
}

func (c *StaticCollector) Name() string { return c.name }

func (c *StaticCollector) Collect(context.Context) (string, error) {
	return c.text, nil
}
