package session

import "time"

// Estimator approximates the token cost of a conversation.
type Estimator interface {
	// Estimate returns a non-negative token estimate for msgs.
	// Appending a message never lowers the estimate.
	Estimate(msgs []Message) int
}

// Stats summarizes a persisted session for operators.
type Stats struct {
	SessionID       string    `json:"session_id"`
	MessageCount    int       `json:"message_count"`
	CycleCount      int       `json:"cycle_count"`
	EstimatedTokens int       `json:"estimated_tokens"`
	ContextPercent  float64   `json:"context_percentage"`
	SavedAt         time.Time `json:"saved_at"`
}

// ComputeStats derives summary stats from a session document.
// ContextPercent is estimatedTokens relative to maxTokens, clamped to
// [0, 100] so an over-budget session reads as a full window.
func ComputeStats(doc *Document, estimatedTokens, maxTokens int) Stats {
	st := Stats{
		SessionID:       doc.SessionID,
		MessageCount:    len(doc.History),
		CycleCount:      doc.Meta.CycleCount,
		EstimatedTokens: estimatedTokens,
		SavedAt:         doc.SavedAt,
	}
	if maxTokens > 0 {
		st.ContextPercent = float64(estimatedTokens) / float64(maxTokens) * 100
	}
	if st.ContextPercent < 0 {
		st.ContextPercent = 0
	}
	if st.ContextPercent > 100 {
		st.ContextPercent = 100
	}
	return st
}
