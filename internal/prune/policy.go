package prune

import (
	"strings"

	"github.com/vigilops/vigil/internal/session"
)

// Defaults for PolicyConfig zero values.
const (
	DefaultMaxTokens  = 10000
	DefaultKeepRecent = 10
)

// DefaultCriticalKeywords mark messages that smart pruning retains
// regardless of age. Matching is case-insensitive substring.
var DefaultCriticalKeywords = []string{
	"critical", "escalation", "failed", "error", "down", "outage",
	"severe", "major", "p0", "p1", "crash", "oom", "crashed", "sev",
}

// PolicyConfig configures a pruning Policy. Zero values take defaults;
// a non-nil empty CriticalKeywords disables keyword retention.
type PolicyConfig struct {
	// MaxTokens is the context budget pruning aims to stay under.
	MaxTokens int

	// KeepRecent is how many trailing messages smart pruning always
	// retains.
	KeepRecent int

	// CriticalKeywords overrides DefaultCriticalKeywords.
	CriticalKeywords []string

	// Estimator defaults to CharEstimator.
	Estimator session.Estimator
}

// Policy decides when and how to cut conversation history. The system
// anchor (a system message at index 0) is never removed or reordered,
// and surviving messages always keep their original relative order.
type Policy struct {
	maxTokens  int
	keepRecent int
	keywords   []string
	est        session.Estimator
}

// NewPolicy creates a pruning policy.
func NewPolicy(cfg PolicyConfig) *Policy {
	p := &Policy{
		maxTokens:  cfg.MaxTokens,
		keepRecent: cfg.KeepRecent,
		est:        cfg.Estimator,
	}
	if p.maxTokens <= 0 {
		p.maxTokens = DefaultMaxTokens
	}
	if p.keepRecent <= 0 {
		p.keepRecent = DefaultKeepRecent
	}
	if p.est == nil {
		p.est = CharEstimator{}
	}

	keywords := cfg.CriticalKeywords
	if keywords == nil {
		keywords = DefaultCriticalKeywords
	}
	p.keywords = make([]string, len(keywords))
	for i, kw := range keywords {
		p.keywords[i] = strings.ToLower(kw)
	}
	return p
}

// MaxTokens returns the configured context budget.
func (p *Policy) MaxTokens() int { return p.maxTokens }

// ShouldPrune reports whether the history estimate exceeds 80% of the
// budget. Because the estimate only grows as messages append, once this
// trips it stays tripped until something is pruned.
func (p *Policy) ShouldPrune(msgs []session.Message) bool {
	return p.est.Estimate(msgs) > p.maxTokens*80/100
}

// BasicPrune drops oldest messages until the history fits the budget.
// The system anchor survives unconditionally; after it, messages are
// taken newest-first until the next one would overflow the budget. A
// non-empty history never prunes to empty: if nothing fits, the result
// is the anchor alone, or the newest message when there is no anchor,
// even if that single message overflows.
func (p *Policy) BasicPrune(msgs []session.Message) []session.Message {
	if len(msgs) == 0 {
		return msgs
	}

	var anchor []session.Message
	rest := msgs
	if session.HasSystemAnchor(msgs) {
		anchor = msgs[:1]
		rest = msgs[1:]
	}

	// Messages from cut onward fit alongside the anchor. Walking
	// backward keeps the newest exchanges; the first one that does
	// not fit ends the walk.
	cut := len(rest)
	for i := len(rest) - 1; i >= 0; i-- {
		candidate := make([]session.Message, 0, len(anchor)+len(rest)-i)
		candidate = append(candidate, anchor...)
		candidate = append(candidate, rest[i:]...)
		if p.est.Estimate(candidate) > p.maxTokens {
			break
		}
		cut = i
	}

	if cut == len(rest) && len(anchor) == 0 {
		// Nothing fits and there is no anchor: keep the newest
		// message rather than returning an empty history.
		cut = len(rest) - 1
	}

	out := make([]session.Message, 0, len(anchor)+len(rest)-cut)
	out = append(out, anchor...)
	out = append(out, rest[cut:]...)
	return out
}

// SmartPrune retains the system anchor, the KeepRecent newest messages,
// and any message containing a critical keyword, preserving original
// order. It ignores the budget entirely; callers fall back to
// BasicPrune when the result is still too large. Applying it twice
// yields the same result as applying it once.
func (p *Policy) SmartPrune(msgs []session.Message) []session.Message {
	if len(msgs) == 0 {
		return msgs
	}

	keep := make([]bool, len(msgs))
	start := 0
	if session.HasSystemAnchor(msgs) {
		keep[0] = true
		start = 1
	}

	tail := len(msgs) - p.keepRecent
	if tail < start {
		tail = start
	}
	for i := tail; i < len(msgs); i++ {
		keep[i] = true
	}

	for i := start; i < len(msgs); i++ {
		if !keep[i] && p.critical(msgs[i].Content) {
			keep[i] = true
		}
	}

	out := make([]session.Message, 0, len(msgs))
	for i, k := range keep {
		if k {
			out = append(out, msgs[i])
		}
	}
	return out
}

func (p *Policy) critical(content string) bool {
	c := strings.ToLower(content)
	for _, kw := range p.keywords {
		if kw != "" && strings.Contains(c, kw) {
			return true
		}
	}
	return false
}
