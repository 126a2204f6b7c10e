package compaction

import (
	"context"
	"fmt"

	"github.com/arvo-systems/agentloop/pkg/models"
)

// DefaultKeepTurns is the number of most recent turns Compactor always
// leaves untouched.
const DefaultKeepTurns = 4

// Summarizer performs the single non-streamed provider turn Compactor uses
// to produce a synthetic summary message. The FSM supplies this, backed by
// its Provider.one_shot.
type Summarizer interface {
	Summarize(ctx context.Context, messages []*models.Message) (string, error)
}

// Compactor collapses the oldest contiguous window of a session's history
// into one synthetic summary message when UsageTracker flags overflow.
type Compactor struct {
	summarizer Summarizer
	keepTurns  int
}

// NewCompactor creates a Compactor that keeps the most recent keepTurns
// turns untouched. keepTurns <= 0 falls back to DefaultKeepTurns.
func NewCompactor(summarizer Summarizer, keepTurns int) *Compactor {
	if keepTurns <= 0 {
		keepTurns = DefaultKeepTurns
	}
	return &Compactor{summarizer: summarizer, keepTurns: keepTurns}
}

// Window identifies the half-open message range [Start, End) Compact would
// replace, preserving a leading system message if present.
type Window struct {
	Start, End int
}

// SelectWindow identifies the oldest contiguous range to summarize: from
// just after a leading system message (if any) up to, but not including,
// the start of the most recent keepTurns turns. A turn begins at each user
// message. Returns a zero-length window when there is nothing worth
// summarizing (fewer than keepTurns+1 turns present).
func (c *Compactor) SelectWindow(messages []*models.Message) Window {
	return c.selectWindow(messages, c.keepTurns)
}

// SelectAggressiveWindow is SelectWindow with the preserved tail halved
// (minimum 1 turn), for use when a routine-threshold pass already failed to
// keep the session under the provider's context window and the request was
// rejected for being too large. Still returns a zero-length window when
// there is only the single most recent turn left to collapse into.
func (c *Compactor) SelectAggressiveWindow(messages []*models.Message) Window {
	keep := c.keepTurns / 2
	if keep < 1 {
		keep = 1
	}
	return c.selectWindow(messages, keep)
}

func (c *Compactor) selectWindow(messages []*models.Message, keepTurns int) Window {
	start := 0
	if len(messages) > 0 && messages[0].Role == models.RoleSystem {
		start = 1
	}

	var turnStarts []int
	for i := start; i < len(messages); i++ {
		if messages[i].Role == models.RoleUser {
			turnStarts = append(turnStarts, i)
		}
	}
	if len(turnStarts) <= keepTurns {
		return Window{Start: start, End: start}
	}

	end := turnStarts[len(turnStarts)-keepTurns]
	if end <= start {
		return Window{Start: start, End: start}
	}
	return Window{Start: start, End: end}
}

// Compact summarizes messages[window.Start:window.End) via the Summarizer
// and returns the synthetic summary Message, labeled for downstream
// identification. It does not mutate the Store itself; callers apply the
// result with Store.Replace so the compound delete+insert stays auditable
// in one place.
func (c *Compactor) Compact(ctx context.Context, sessionID string, messages []*models.Message, window Window) (*models.Message, error) {
	if window.End <= window.Start {
		return nil, fmt.Errorf("compaction: empty window has nothing to summarize")
	}
	text, err := c.summarizer.Summarize(ctx, messages[window.Start:window.End])
	if err != nil {
		return nil, fmt.Errorf("compaction: summarize: %w", err)
	}
	return &models.Message{
		SessionID: sessionID,
		Role:      models.RoleSystem,
		Content:   text,
		Metadata: map[string]any{
			"label":              "prior-conversation-summary",
			"replaced_range":     [2]int{window.Start, window.End},
			"replaced_count":     window.End - window.Start,
			"compaction_applied": true,
		},
	}, nil
}
