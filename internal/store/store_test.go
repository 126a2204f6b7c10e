package store

import (
	"context"
	"testing"

	"github.com/arvo-systems/agentloop/pkg/models"
)

func TestMemoryStoreAppendAndMessages(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if err := s.Append(ctx, "sess-1", &models.Message{Role: models.RoleUser, Content: "hi"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.Append(ctx, "sess-1", &models.Message{Role: models.RoleAssistant, Content: "hello"}); err != nil {
		t.Fatalf("append: %v", err)
	}

	msgs, err := s.Messages(ctx, "sess-1")
	if err != nil {
		t.Fatalf("messages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Content != "hi" || msgs[1].Content != "hello" {
		t.Fatalf("unexpected order: %+v", msgs)
	}
}

func TestMemoryStoreMessagesReturnsClones(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	s.Append(ctx, "sess-1", &models.Message{Role: models.RoleUser, Content: "hi"})

	msgs, _ := s.Messages(ctx, "sess-1")
	msgs[0].Content = "mutated"

	again, _ := s.Messages(ctx, "sess-1")
	if again[0].Content != "hi" {
		t.Fatalf("expected stored message unaffected by caller mutation, got %q", again[0].Content)
	}
}

func TestMemoryStoreReplace(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	for _, c := range []string{"a", "b", "c", "d"} {
		s.Append(ctx, "sess-1", &models.Message{Role: models.RoleUser, Content: c})
	}

	summary := &models.Message{Role: models.RoleSystem, Content: "prior-conversation-summary"}
	if err := s.Replace(ctx, "sess-1", 0, 2, summary); err != nil {
		t.Fatalf("replace: %v", err)
	}

	msgs, _ := s.Messages(ctx, "sess-1")
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages after replacing 2 with 1, got %d", len(msgs))
	}
	if msgs[0].Content != "prior-conversation-summary" || msgs[1].Content != "c" || msgs[2].Content != "d" {
		t.Fatalf("unexpected history after replace: %+v", msgs)
	}
}

func TestMemoryStoreReplaceRejectsInvalidRange(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	s.Append(ctx, "sess-1", &models.Message{Role: models.RoleUser, Content: "a"})

	err := s.Replace(ctx, "sess-1", 0, 5, &models.Message{Role: models.RoleSystem})
	if err == nil {
		t.Fatal("expected error for out-of-range replace")
	}
}

func TestRepairToolCallPairingSynthesizesMissingResult(t *testing.T) {
	messages := []*models.Message{
		{Role: models.RoleUser, Content: "do it"},
		{Role: models.RoleAssistant, ToolCalls: []models.ToolCall{{ID: "t1", Name: "echo"}}},
	}

	report := RepairToolCallPairing(messages)
	if len(report.Added) != 1 {
		t.Fatalf("expected 1 synthesized tool result, got %d", len(report.Added))
	}
	if report.Added[0].ToolCallID != "t1" || report.Added[0].ToolResult.Outcome != models.ToolOutcomeError {
		t.Fatalf("unexpected synthesized result: %+v", report.Added[0])
	}
	if len(report.Messages) != 3 {
		t.Fatalf("expected 3 messages in repaired history, got %d", len(report.Messages))
	}
}

func TestRepairToolCallPairingLeavesSatisfiedCallsAlone(t *testing.T) {
	messages := []*models.Message{
		{Role: models.RoleAssistant, ToolCalls: []models.ToolCall{{ID: "t1", Name: "echo"}}},
		{Role: models.RoleToolResult, ToolCallID: "t1", ToolResult: &models.ToolResult{CallID: "t1", Outcome: models.ToolOutcomeOK, Text: "x"}},
	}
	report := RepairToolCallPairing(messages)
	if len(report.Added) != 0 {
		t.Fatalf("expected no synthesized results, got %d", len(report.Added))
	}
	if len(report.Messages) != 2 {
		t.Fatalf("expected unchanged message count, got %d", len(report.Messages))
	}
}

func TestRepairToolCallPairingDropsIDlessCall(t *testing.T) {
	messages := []*models.Message{
		{Role: models.RoleAssistant, ToolCalls: []models.ToolCall{{ID: "", Name: "echo"}}},
	}
	report := RepairToolCallPairing(messages)
	if report.Dropped != 1 {
		t.Fatalf("expected 1 dropped call, got %d", report.Dropped)
	}
	if len(report.Added) != 0 {
		t.Fatalf("expected no synthesized results for id-less call, got %d", len(report.Added))
	}
}

func TestToolCallGuard(t *testing.T) {
	g := NewToolCallGuard()
	g.Track(&models.Message{Role: models.RoleAssistant, ToolCalls: []models.ToolCall{{ID: "t1"}, {ID: "t2"}}})
	if !g.HasPending() {
		t.Fatal("expected pending calls after Track")
	}
	g.Resolve("t1")
	pending := g.PendingIDs()
	if len(pending) != 1 || pending[0] != "t2" {
		t.Fatalf("expected only t2 pending, got %+v", pending)
	}
}
