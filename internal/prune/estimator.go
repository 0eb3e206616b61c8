// Package prune keeps session conversation histories within a token
// budget. It provides the character-based token estimator and the
// pruning policy used by the monitoring loop.
package prune

import (
	"unicode/utf8"

	"github.com/vigilops/vigil/internal/session"
)

const charsPerToken = 4

// CharEstimator approximates token counts as one token per four
// characters of message content, summed across the conversation. The
// estimate is monotonic in history length.
type CharEstimator struct{}

// Estimate returns the token estimate for msgs. Roles and structure
// are not counted, only content.
func (CharEstimator) Estimate(msgs []session.Message) int {
	chars := 0
	for _, m := range msgs {
		chars += utf8.RuneCountInString(m.Content)
	}
	return chars / charsPerToken
}
