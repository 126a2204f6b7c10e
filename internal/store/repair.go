package store

import (
	"fmt"

	"github.com/arvo-systems/agentloop/pkg/models"
)

// RepairReport summarizes what the repair pass changed.
type RepairReport struct {
	Messages []*models.Message
	Added    []*models.Message
	Dropped  int
}

// RepairToolCallPairing fixes a turn truncated mid-tool-call: if the stream
// ended with a tool_call_delta that never reached tool_call_done, the
// finalized assistant message carries a ToolCall with no matching
// tool_result before the next assistant message. Policy:
// synthesize an error result when the partial call has a stable id,
// otherwise drop it silently (an id-less call can never be matched by the
// provider on the next turn regardless).
func RepairToolCallPairing(messages []*models.Message) RepairReport {
	report := RepairReport{Messages: make([]*models.Message, 0, len(messages))}

	for i := 0; i < len(messages); i++ {
		msg := messages[i]
		if msg == nil {
			continue
		}
		report.Messages = append(report.Messages, msg)
		if msg.Role != models.RoleAssistant || len(msg.ToolCalls) == 0 {
			continue
		}

		satisfied := make(map[string]bool, len(msg.ToolCalls))
		j := i + 1
		for ; j < len(messages); j++ {
			next := messages[j]
			if next == nil {
				continue
			}
			if next.Role == models.RoleAssistant {
				break
			}
			if next.Role == models.RoleToolResult && next.ToolCallID != "" {
				satisfied[next.ToolCallID] = true
			}
		}

		for _, tc := range msg.ToolCalls {
			if satisfied[tc.ID] {
				continue
			}
			if tc.ID == "" {
				report.Dropped++
				continue
			}
			synthetic := makeMissingToolResult(msg.SessionID, tc.ID)
			report.Added = append(report.Added, synthetic)
			report.Messages = append(report.Messages, synthetic)
		}
	}

	return report
}

func makeMissingToolResult(sessionID, callID string) *models.Message {
	return &models.Message{
		SessionID:  sessionID,
		Role:       models.RoleToolResult,
		ToolCallID: callID,
		ToolResult: &models.ToolResult{
			CallID:  callID,
			Outcome: models.ToolOutcomeError,
			Text:    fmt.Sprintf("missing tool result for call %s; synthesized during transcript repair", callID),
		},
		Metadata: map[string]any{"synthetic": true},
	}
}

// ToolCallGuard tracks tool calls awaiting a result across the lifetime of a
// turn, so the FSM can decide at finalization whether any call needs the
// repair pass above without rescanning the whole history.
type ToolCallGuard struct {
	pending map[string]string
}

// NewToolCallGuard creates an empty guard.
func NewToolCallGuard() *ToolCallGuard {
	return &ToolCallGuard{pending: make(map[string]string)}
}

// Track records calls from a finalized assistant message as awaiting results.
func (g *ToolCallGuard) Track(msg *models.Message) {
	if msg == nil || msg.Role != models.RoleAssistant {
		return
	}
	for _, tc := range msg.ToolCalls {
		g.pending[tc.ID] = tc.Name
	}
}

// Resolve marks callID as satisfied.
func (g *ToolCallGuard) Resolve(callID string) {
	delete(g.pending, callID)
}

// HasPending reports whether any tracked call still lacks a result.
func (g *ToolCallGuard) HasPending() bool {
	return len(g.pending) > 0
}

// PendingIDs returns the call IDs still awaiting a result.
func (g *ToolCallGuard) PendingIDs() []string {
	ids := make([]string, 0, len(g.pending))
	for id := range g.pending {
		ids = append(ids, id)
	}
	return ids
}
