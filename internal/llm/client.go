// Package llm provides the model client used to analyze monitoring
// reports. The daemon sends the whole session history each cycle and
// appends the reply it gets back.
package llm

import (
	"context"

	"github.com/vigilops/vigil/internal/session"
)

// Reply is a single model turn, with the token usage the API reported
// for the call that produced it.
type Reply struct {
	Text         string `json:"text"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
}

// Client is the interface for model interactions. Send carries the
// full conversation, a leading system message included.
type Client interface {
	Send(ctx context.Context, history []session.Message) (*Reply, error)
}
