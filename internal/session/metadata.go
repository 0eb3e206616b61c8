package session

import "time"

// Metadata carries operational counters and context for a session.
// Well-known fields are typed; anything else goes in Extra.
type Metadata struct {
	CycleCount     int            `json:"cycle_count"`
	Cluster        string         `json:"cluster,omitempty"`
	LastEscalation string         `json:"last_escalation,omitempty"`
	LastCycleAt    time.Time      `json:"last_cycle_at,omitzero"`
	InputTokens    int64          `json:"input_tokens,omitempty"`
	OutputTokens   int64          `json:"output_tokens,omitempty"`
	Extra          map[string]any `json:"extra,omitempty"`
}

// Clone returns a copy of the metadata with its own Extra map.
func (m Metadata) Clone() Metadata {
	out := m
	if m.Extra != nil {
		out.Extra = make(map[string]any, len(m.Extra))
		for k, v := range m.Extra {
			out.Extra[k] = v
		}
	}
	return out
}
