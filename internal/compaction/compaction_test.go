package compaction

import (
	"context"
	"strings"
	"testing"

	"github.com/arvo-systems/agentloop/pkg/models"
)

func TestUsageTrackerEstimateGrowsWithContent(t *testing.T) {
	tr := NewUsageTracker(1000, 0.8)
	small := []*models.Message{{Content: "hi"}}
	large := []*models.Message{{Content: strings.Repeat("x", 4000)}}
	if tr.Estimate(large) <= tr.Estimate(small) {
		t.Fatalf("expected larger content to estimate higher token usage")
	}
}

func TestUsageTrackerNeedsCompaction(t *testing.T) {
	tr := NewUsageTracker(100, 0.8) // 80 tokens triggers compaction
	under := []*models.Message{{Content: strings.Repeat("x", 40)}}
	over := []*models.Message{{Content: strings.Repeat("x", 4000)}}
	if tr.NeedsCompaction(under) {
		t.Fatal("small history should not need compaction")
	}
	if !tr.NeedsCompaction(over) {
		t.Fatal("large history should need compaction")
	}
}

func TestUsageTrackerNoContextWindowNeverCompacts(t *testing.T) {
	tr := NewUsageTracker(0, 0.8)
	if tr.NeedsCompaction([]*models.Message{{Content: strings.Repeat("x", 100000)}}) {
		t.Fatal("zero context window should disable compaction")
	}
}

func buildHistory(turns int) []*models.Message {
	messages := []*models.Message{{Role: models.RoleSystem, Content: "system prompt"}}
	for i := 0; i < turns; i++ {
		messages = append(messages,
			&models.Message{Role: models.RoleUser, Content: "question"},
			&models.Message{Role: models.RoleAssistant, Content: "answer"},
		)
	}
	return messages
}

func TestSelectWindowPreservesRecentTurnsAndSystemMessage(t *testing.T) {
	c := NewCompactor(nil, 4)
	messages := buildHistory(6)

	window := c.SelectWindow(messages)
	if window.Start != 1 {
		t.Fatalf("expected window to start after system message, got %d", window.Start)
	}
	if window.End <= window.Start {
		t.Fatalf("expected non-empty window with 6 turns and keepTurns=4, got %+v", window)
	}

	// everything from window.End onward must be within the last 4 turns
	remaining := messages[window.End:]
	userCount := 0
	for _, m := range remaining {
		if m.Role == models.RoleUser {
			userCount++
		}
	}
	if userCount != 4 {
		t.Fatalf("expected 4 preserved turns after window, got %d", userCount)
	}
}

func TestSelectWindowEmptyWhenTooFewTurns(t *testing.T) {
	c := NewCompactor(nil, 4)
	messages := buildHistory(2)
	window := c.SelectWindow(messages)
	if window.Start != window.End {
		t.Fatalf("expected empty window with only 2 turns, got %+v", window)
	}
}

type stubSummarizer struct {
	text string
	err  error
}

func (s stubSummarizer) Summarize(ctx context.Context, messages []*models.Message) (string, error) {
	return s.text, s.err
}

func TestCompactProducesLabeledSummaryMessage(t *testing.T) {
	c := NewCompactor(stubSummarizer{text: "summary text"}, 4)
	messages := buildHistory(6)
	window := c.SelectWindow(messages)

	summary, err := c.Compact(context.Background(), "sess-1", messages, window)
	if err != nil {
		t.Fatalf("compact: %v", err)
	}
	if summary.Role != models.RoleSystem || summary.Content != "summary text" {
		t.Fatalf("unexpected summary message: %+v", summary)
	}
	if summary.Metadata["label"] != "prior-conversation-summary" {
		t.Fatalf("expected prior-conversation-summary label, got %+v", summary.Metadata)
	}
}

func TestCompactRejectsEmptyWindow(t *testing.T) {
	c := NewCompactor(stubSummarizer{text: "x"}, 4)
	_, err := c.Compact(context.Background(), "sess-1", buildHistory(2), Window{Start: 1, End: 1})
	if err == nil {
		t.Fatal("expected error for empty window")
	}
}
