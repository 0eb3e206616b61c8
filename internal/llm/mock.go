package llm

import (
	"context"
	"fmt"
	"sync"

	"github.com/vigilops/vigil/internal/session"
)

// MockReply configures a single reply from the mock client.
type MockReply struct {
	Text         string
	InputTokens  int
	OutputTokens int
	Error        error
}

// MockClient is a scripted Client for testing.
type MockClient struct {
	mu        sync.Mutex
	replies   []MockReply
	callIndex int
	calls     [][]session.Message
}

// NewMockClient creates a mock client with a sequence of replies.
// Replies are returned in order; if exhausted, the last reply repeats.
func NewMockClient(replies ...MockReply) *MockClient {
	return &MockClient{replies: replies}
}

// Send records the conversation and returns the next scripted reply.
func (m *MockClient) Send(_ context.Context, history []session.Message) (*Reply, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, append([]session.Message(nil), history...))

	if len(m.replies) == 0 {
		return nil, fmt.Errorf("mock: no replies configured")
	}

	idx := m.callIndex
	if idx >= len(m.replies) {
		idx = len(m.replies) - 1
	} else {
		m.callIndex++
	}

	r := m.replies[idx]
	if r.Error != nil {
		return nil, r.Error
	}

	return &Reply{
		Text:         r.Text,
		InputTokens:  r.InputTokens,
		OutputTokens: r.OutputTokens,
	}, nil
}

// Calls returns every conversation sent to the mock client.
func (m *MockClient) Calls() [][]session.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]session.Message(nil), m.calls...)
}

// Reset clears call history and restarts the reply sequence.
func (m *MockClient) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callIndex = 0
	m.calls = nil
}
