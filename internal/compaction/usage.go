// Package compaction implements the UsageTracker and Compactor: a running
// token estimate per session and the summarize-and-replace pass that
// reclaims context-window headroom when that estimate runs high.
package compaction

import "github.com/arvo-systems/agentloop/pkg/models"

// charsPerToken approximates the chars-to-tokens ratio used when no
// provider-reported usage figure is available yet for the turn in
// progress. It is a rough proxy, not a tokenizer.
const charsPerToken = 4

// perMessageOverhead accounts for role/field framing the raw character
// count does not capture.
const perMessageOverhead = 8

// UsageTracker estimates the token cost of a session's outgoing turn from
// cumulative message sizes, so run_turn can decide whether to compact
// before opening the provider stream.
type UsageTracker struct {
	contextWindow int
	threshold     float64
}

// NewUsageTracker creates a tracker for a model with the given context
// window (in tokens) and compaction threshold (fraction of the window,
// default 0.8).
func NewUsageTracker(contextWindow int, threshold float64) *UsageTracker {
	if threshold <= 0 {
		threshold = 0.8
	}
	return &UsageTracker{contextWindow: contextWindow, threshold: threshold}
}

// Estimate returns the approximate token count of messages.
func (t *UsageTracker) Estimate(messages []*models.Message) int {
	total := 0
	for _, m := range messages {
		total += m.Chars()/charsPerToken + perMessageOverhead
	}
	return total
}

// NeedsCompaction reports whether messages' estimated usage has crossed the
// tracker's threshold of the model's context window.
func (t *UsageTracker) NeedsCompaction(messages []*models.Message) bool {
	if t.contextWindow <= 0 {
		return false
	}
	return float64(t.Estimate(messages)) >= t.threshold*float64(t.contextWindow)
}

// NeedsAggressiveCompaction applies the more aggressive 0.5 threshold used
// when the provider itself rejects a turn for exceeding the context window.
func (t *UsageTracker) NeedsAggressiveCompaction(messages []*models.Message) bool {
	if t.contextWindow <= 0 {
		return false
	}
	return float64(t.Estimate(messages)) >= 0.5*float64(t.contextWindow)
}
